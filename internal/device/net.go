package device

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// readPollInterval bounds how long a Read call blocks before reporting
// ErrWouldBlock, giving the socket-backed variants the same
// non-blocking-read contract the serial and PTY variants present.
const readPollInterval = 20 * time.Millisecond

// netConnDevice backs both the Unix-socket and TCP-socket device
// variants: DTR/RTS are no-ops, and readiness is approximated with a
// short read deadline exactly as the teacher's fbb.Session.Exchange
// and hamlib.TCPRig bound their reads with conn.SetDeadline.
type netConnDevice struct {
	conn net.Conn
}

func (d *netConnDevice) Read(buf []byte) (int, error) {
	d.conn.SetReadDeadline(time.Now().Add(readPollInterval))
	n, err := d.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, ErrWouldBlock
		}
		return n, bridgeerr.Wrap(bridgeerr.DeviceIoError, "socket read", err)
	}
	return n, nil
}

func (d *netConnDevice) Write(buf []byte) (int, error) {
	n, err := d.conn.Write(buf)
	if err != nil {
		return n, bridgeerr.Wrap(bridgeerr.DeviceIoError, "socket write", err)
	}
	return n, nil
}

func (d *netConnDevice) SetDTR(bool) error { return nil }
func (d *netConnDevice) SetRTS(bool) error { return nil }
func (d *netConnDevice) Drain() error      { return nil }
func (d *netConnDevice) Close() error      { return d.conn.Close() }

// openUnixSocket connects as a client if path already exists on disk,
// otherwise listens on path and accepts exactly one peer — the
// connect-or-listen rule spec.md §4.1 requires for unix: specs.
func openUnixSocket(path string) (Device, error) {
	if _, err := os.Stat(path); err == nil {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "dial unix socket", err)
		}
		return &netConnDevice{conn: conn}, nil
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "listen unix socket", err)
	}
	defer l.Close()

	conn, err := l.Accept()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "accept unix socket peer", err)
	}
	return &netConnDevice{conn: conn}, nil
}

// openTCPSocket applies the same bind-or-connect rule as
// openUnixSocket: an empty host means "listen and accept one peer",
// matching a "tcp::port" specifier; a non-empty host dials out.
func openTCPSocket(host string, port int) (Device, error) {
	if host == "" {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "listen tcp socket", err)
		}
		defer l.Close()

		conn, err := l.Accept()
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "accept tcp socket peer", err)
		}
		return &netConnDevice{conn: conn}, nil
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "dial tcp socket", err)
	}
	return &netConnDevice{conn: conn}, nil
}
