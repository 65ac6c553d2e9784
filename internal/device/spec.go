package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// Kind enumerates the local endpoint families the device layer can open.
type Kind int

const (
	KindSerial Kind = iota
	KindPTY
	KindUnixSocket
	KindTCPSocket
	KindNamedPipe
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindPTY:
		return "pty"
	case KindUnixSocket:
		return "unix"
	case KindTCPSocket:
		return "tcp"
	case KindNamedPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Spec is the parsed form of a device specifier string, following the
// grammar in spec.md §6:
//
//	spec := "unix:" path
//	      | "tcp:" host ":" port
//	      | "pipe:" name
//	      | "\\.\pipe\" name
//	      | "COM" integer
//	      | absolute-filesystem-path
type Spec struct {
	Kind Kind
	Path string // serial device node, pty path, unix socket path, pipe name
	Host string // tcp only
	Port int    // tcp only
	Baud int    // serial only; 0 makes Open use Config.BaudRate
}

// ParseSpec parses a device specifier string per the grammar above.
// Baud is not part of the grammar and ParseSpec leaves it 0; Open then
// takes the serial baud rate from its Config argument.
func ParseSpec(s string) (Spec, error) {
	switch {
	case strings.HasPrefix(s, "unix:"):
		path := strings.TrimPrefix(s, "unix:")
		if path == "" {
			return Spec{}, bridgeerr.New(bridgeerr.DeviceMisconfigured, "unix: device spec missing path")
		}
		return Spec{Kind: KindUnixSocket, Path: path}, nil

	case strings.HasPrefix(s, "tcp:"):
		rest := strings.TrimPrefix(s, "tcp:")
		host, portStr, err := splitHostPort(rest)
		if err != nil {
			return Spec{}, bridgeerr.Wrap(bridgeerr.DeviceMisconfigured, "tcp: device spec malformed", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Spec{}, bridgeerr.New(bridgeerr.DeviceMisconfigured, fmt.Sprintf("tcp: invalid port %q", portStr))
		}
		return Spec{Kind: KindTCPSocket, Host: host, Port: port}, nil

	case strings.HasPrefix(s, `\\.\pipe\`):
		name := strings.TrimPrefix(s, `\\.\pipe\`)
		if name == "" {
			return Spec{}, bridgeerr.New(bridgeerr.DeviceMisconfigured, "named pipe spec missing name")
		}
		return Spec{Kind: KindNamedPipe, Path: name}, nil

	case strings.HasPrefix(s, "pipe:"):
		name := strings.TrimPrefix(s, "pipe:")
		if name == "" {
			return Spec{}, bridgeerr.New(bridgeerr.DeviceMisconfigured, "named pipe spec missing name")
		}
		return Spec{Kind: KindNamedPipe, Path: name}, nil

	case strings.HasPrefix(strings.ToUpper(s), "COM"):
		if _, err := strconv.Atoi(s[3:]); err != nil {
			return Spec{}, bridgeerr.New(bridgeerr.DeviceMisconfigured, fmt.Sprintf("invalid COM port %q", s))
		}
		return Spec{Kind: KindSerial, Path: s}, nil

	case strings.HasPrefix(s, "/dev/pts/"):
		return Spec{Kind: KindPTY, Path: s}, nil

	case s == "pty":
		return Spec{Kind: KindPTY, Path: s}, nil

	case strings.HasPrefix(s, "/"):
		return Spec{Kind: KindSerial, Path: s}, nil

	default:
		return Spec{}, bridgeerr.New(bridgeerr.DeviceMisconfigured, fmt.Sprintf("unrecognised device spec %q", s))
	}
}

func splitHostPort(s string) (host, port string, err error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port in %q", s)
	}
	return s[:idx], s[idx+1:], nil
}
