// Package device normalises the five local endpoint kinds (serial,
// PTY, Unix socket, TCP socket, Windows named pipe) spec.md §4.1
// requires into one byte-stream abstraction with non-blocking reads,
// possibly-short writes, and DTR/RTS line-status control.
package device

import (
	"errors"
	"io"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// ErrWouldBlock is returned by Read when no data is available yet. It
// is never wrapped in a bridgeerr.Error since it is not a failure,
// just a readiness signal for the reactor. No variant's Write returns
// it.
var ErrWouldBlock = errors.New("device: would block")

// Device is the uniform capability set every endpoint kind presents.
//
// Read is non-blocking: it returns ErrWouldBlock rather than blocking
// when nothing is available, and io.EOF when the peer has closed its
// side. Write is not non-blocking: it blocks until the underlying
// endpoint accepts data. It may perform a short write; callers must
// retain and retry the unwritten tail themselves (the bridge pump does
// this — see internal/bridge).
type Device interface {
	io.Closer

	Read(buf []byte) (n int, err error)
	Write(buf []byte) (n int, err error)

	// SetDTR and SetRTS drive the line-status signals. Variants that
	// have no physical concept of these (PTY, Unix socket, TCP socket)
	// implement them as no-ops returning nil.
	SetDTR(on bool) error
	SetRTS(on bool) error

	// Drain blocks until any internally buffered output has been
	// physically transmitted, or the variant's equivalent thereof.
	Drain() error
}

// Config is the subset of the configuration record the device layer
// needs to open a Spec.
type Config struct {
	BaudRate int
}

// Open opens the local endpoint described by spec, dispatching to the
// variant-specific constructor per the table in spec.md §4.1.
//
// Construction failures are reported as bridgeerr DeviceUnavailable
// (not found, busy, permission denied) or DeviceMisconfigured (bad
// baud, bad path); see each variant's Open* function for specifics.
func Open(spec Spec, cfg Config) (Device, error) {
	switch spec.Kind {
	case KindSerial:
		baud := spec.Baud
		if baud == 0 {
			baud = cfg.BaudRate
		}
		return openSerial(spec.Path, baud)
	case KindPTY:
		return openPTY(spec.Path)
	case KindUnixSocket:
		return openUnixSocket(spec.Path)
	case KindTCPSocket:
		return openTCPSocket(spec.Host, spec.Port)
	case KindNamedPipe:
		return openNamedPipe(spec.Path)
	default:
		return nil, bridgeerr.New(bridgeerr.DeviceMisconfigured, "unknown device kind")
	}
}
