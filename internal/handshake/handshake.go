// Package handshake implements the framed login exchange spec.md §4.3
// requires before any payload byte crosses the freshly dialled TCP
// connection to the remote PPP service.
//
// Lines are read one byte at a time rather than through a buffered
// reader, the same discipline the teacher's ax25.DialKenwood applies
// via its own fbb.ReadLine helper when waiting for a TNC prompt: a
// buffered reader can silently swallow the first payload bytes if the
// remote writes them in the same packet as the handshake's final line,
// and spec.md §4.3 requires the handshake to hand the connection back
// untouched for the bridge pump to take over.
package handshake

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// Timeout is the per-read timeout for each step of the handshake, per
// spec.md §4.3.
var Timeout = 15 * time.Second

// BannerPrefix is the required prefix of the first line sent by the
// remote service.
const BannerPrefix = "VESPER PPP "

// Credentials are the username/password pair from the configuration
// record.
type Credentials struct {
	Username string
	Password string
}

// Run performs the framed login exchange over conn, per spec.md §4.3:
//
//  1. read a banner line matching "VESPER PPP <version>"
//  2. read "LOGIN:", send username
//  3. read "PASSWORD:", send password
//  4. read the final line; "OK" is success, anything else is AuthFailed
//
// On any failure the connection is closed and must not be reused,
// matching the idempotent-on-failure requirement in spec.md §4.3.
func Run(conn net.Conn, creds Credentials) (err error) {
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	banner, err := readLine(conn)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.HandshakeTimeout, "read banner", err)
	}
	if !strings.HasPrefix(banner, BannerPrefix) {
		return bridgeerr.New(bridgeerr.HandshakeRejected, fmt.Sprintf("unexpected banner %q", banner))
	}

	prompt, err := readLine(conn)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.HandshakeTimeout, "read login prompt", err)
	}
	if prompt != "LOGIN:" {
		return bridgeerr.New(bridgeerr.HandshakeRejected, fmt.Sprintf("unexpected prompt %q, want LOGIN:", prompt))
	}
	if err := writeLine(conn, creds.Username); err != nil {
		return bridgeerr.Wrap(bridgeerr.HandshakeTimeout, "send username", err)
	}

	prompt, err = readLine(conn)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.HandshakeTimeout, "read password prompt", err)
	}
	if prompt != "PASSWORD:" {
		return bridgeerr.New(bridgeerr.HandshakeRejected, fmt.Sprintf("unexpected prompt %q, want PASSWORD:", prompt))
	}
	if err := writeLine(conn, creds.Password); err != nil {
		return bridgeerr.Wrap(bridgeerr.HandshakeTimeout, "send password", err)
	}

	final, err := readLine(conn)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.HandshakeTimeout, "read final line", err)
	}
	if final != "OK" {
		return bridgeerr.New(bridgeerr.AuthFailed, final)
	}

	return nil
}

// readLine reads a single CR LF-terminated ASCII line from conn, one
// byte at a time, bounded by Timeout. The trailing CR LF is stripped.
func readLine(conn net.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(Timeout))
	defer conn.SetReadDeadline(time.Time{})

	var line []byte
	var b [1]byte
	for {
		n, err := conn.Read(b[:])
		if n == 0 && err != nil {
			return "", err
		}
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			if b[0] != '\r' {
				line = append(line, b[0])
			}
		}
		if err != nil {
			return "", err
		}
	}
	return string(line), nil
}

func writeLine(conn net.Conn, s string) error {
	conn.SetWriteDeadline(time.Now().Add(Timeout))
	defer conn.SetWriteDeadline(time.Time{})
	_, err := conn.Write([]byte(s + "\r\n"))
	return err
}
