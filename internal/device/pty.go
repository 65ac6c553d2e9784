package device

import (
	"io"
	"os"
	"sync"

	pty "github.com/aymanbagabas/go-pty"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// ptyDevice backs the "pty"/"/dev/pts/…" variant. A bare "pty" spec
// allocates a fresh master/slave pair via go-pty, the same as before;
// an explicit "/dev/pts/N" path instead opens that existing slave node
// directly, the way openSerial opens a named character device rather
// than fabricating one — the operator named a specific PTY, so that is
// the one that must be opened. DTR/RTS are best-effort no-ops, per
// spec.md §4.1.
//
// Neither go-pty's Pty nor a plain *os.File opened on a pts path
// expose a SetReadDeadline/WithReadTimeout equivalent the way
// serial.go and net.go do, so Read here is served by a background
// goroutine that performs the one blocking Read and reports the result
// onto a channel — the same goroutine-reports-onto-a-channel shape
// internal/session's reactor is grounded on — letting Read itself stay
// non-blocking and report ErrWouldBlock when nothing has arrived yet.
type ptyDevice struct {
	io   io.ReadWriteCloser
	name string

	results chan ptyReadResult
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	pending []byte
}

type ptyReadResult struct {
	buf []byte
	err error
}

func openPTY(path string) (Device, error) {
	if path != "" && path != "pty" {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "open pty", err)
		}
		return newPTYDevice(f, path), nil
	}

	pt, err := pty.New()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "open pty", err)
	}
	return newPTYDevice(pt, pt.Name()), nil
}

func newPTYDevice(rwc io.ReadWriteCloser, name string) *ptyDevice {
	d := &ptyDevice{
		io:      rwc,
		name:    name,
		results: make(chan ptyReadResult, 1),
		closed:  make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *ptyDevice) readLoop() {
	for {
		buf := make([]byte, 4096)
		n, err := d.io.Read(buf)
		select {
		case d.results <- ptyReadResult{buf: buf[:n], err: err}:
		case <-d.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// SlaveName returns the path of the PTY's slave side, for logging.
func (d *ptyDevice) SlaveName() string { return d.name }

func (d *ptyDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		n := copy(buf, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		return n, nil
	}
	d.mu.Unlock()

	select {
	case res := <-d.results:
		if res.err != nil {
			if res.err == io.EOF {
				return 0, io.EOF
			}
			return 0, bridgeerr.Wrap(bridgeerr.DeviceIoError, "pty read", res.err)
		}
		n := copy(buf, res.buf)
		if n < len(res.buf) {
			d.mu.Lock()
			d.pending = res.buf[n:]
			d.mu.Unlock()
		}
		return n, nil
	default:
		return 0, ErrWouldBlock
	}
}

func (d *ptyDevice) Write(buf []byte) (int, error) {
	n, err := d.io.Write(buf)
	if err != nil {
		return n, bridgeerr.Wrap(bridgeerr.DeviceIoError, "pty write", err)
	}
	return n, nil
}

func (d *ptyDevice) SetDTR(bool) error { return nil }
func (d *ptyDevice) SetRTS(bool) error { return nil }
func (d *ptyDevice) Drain() error      { return nil }

func (d *ptyDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return d.io.Close()
}
