package bridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
	"github.com/la5ntx/vespermodem/internal/device"
)

// fakeDevice is an in-memory device.Device backed by a pipe, for
// exercising the pump without a real serial port or socket. Read
// honours the same non-blocking contract real variants do (a
// background goroutine performs the blocking pipe Read and posts the
// result to a channel; Read itself never blocks), so cancellation
// unblocks it the same way it unblocks devReader in production.
type fakeDevice struct {
	w io.Writer

	results chan fakeReadResult
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	pending []byte
}

type fakeReadResult struct {
	buf []byte
	err error
}

func newFakeDevicePair() (*fakeDevice, *io.PipeWriter, *io.PipeReader) {
	pr, pw := io.Pipe()
	outR, outW := io.Pipe()
	f := &fakeDevice{
		w:       outW,
		results: make(chan fakeReadResult, 1),
		closed:  make(chan struct{}),
	}
	go f.readLoop(pr)
	return f, pw, outR
}

func (f *fakeDevice) readLoop(r io.Reader) {
	for {
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		select {
		case f.results <- fakeReadResult{buf: buf[:n], err: err}:
		case <-f.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (f *fakeDevice) Read(buf []byte) (int, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		n := copy(buf, f.pending)
		f.pending = f.pending[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	select {
	case res := <-f.results:
		if res.err != nil {
			return 0, res.err
		}
		n := copy(buf, res.buf)
		if n < len(res.buf) {
			f.mu.Lock()
			f.pending = res.buf[n:]
			f.mu.Unlock()
		}
		return n, nil
	default:
		return 0, device.ErrWouldBlock
	}
}

func (f *fakeDevice) Write(buf []byte) (int, error) { return f.w.Write(buf) }
func (f *fakeDevice) SetDTR(on bool) error           { return nil }
func (f *fakeDevice) SetRTS(on bool) error           { return nil }
func (f *fakeDevice) Drain() error                   { return nil }
func (f *fakeDevice) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

var _ device.Device = (*fakeDevice)(nil)

func TestBridgeCopiesBothDirections(t *testing.T) {
	dev, devIn, devOut := newFakeDevicePair()
	sockClient, sockServer := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultC := make(chan Result, 1)
	go func() { resultC <- Run(ctx, dev, sockClient, 0, 0) }()

	go devIn.Write([]byte("hello from device"))
	buf := make([]byte, 32)
	n, err := sockServer.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf[:n]) != "hello from device" {
		t.Errorf("server saw %q", buf[:n])
	}

	go sockServer.Write([]byte("hello from remote"))
	buf2 := make([]byte, 32)
	n2, err := devOut.Read(buf2)
	if err != nil {
		t.Fatalf("device read: %v", err)
	}
	if string(buf2[:n2]) != "hello from remote" {
		t.Errorf("device saw %q", buf2[:n2])
	}

	cancel()
	res := <-resultC
	if res.Reason != bridgeerr.Cancelled {
		t.Errorf("reason = %v, want Cancelled", res.Reason)
	}
}

func TestBridgeTerminatesOnSocketEOF(t *testing.T) {
	dev, _, _ := newFakeDevicePair()
	sockClient, sockServer := net.Pipe()
	sockServer.Close()

	res := Run(context.Background(), dev, sockClient, 0, 0)
	if res.Reason != bridgeerr.CarrierLost {
		t.Errorf("reason = %v, want CarrierLost", res.Reason)
	}
}

func TestBridgeInactivityTimeout(t *testing.T) {
	dev, _, _ := newFakeDevicePair()
	sockClient, sockServer := net.Pipe()
	defer sockServer.Close()

	start := time.Now()
	res := Run(context.Background(), dev, sockClient, 0, 30*time.Millisecond)
	if res.Reason != bridgeerr.InactivityTimeout {
		t.Errorf("reason = %v, want InactivityTimeout", res.Reason)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned too early after %v", elapsed)
	}
}

func TestBridgeBackpressurePacesWrites(t *testing.T) {
	dev, _, devOut := newFakeDevicePair()
	sockClient, sockServer := net.Pipe()
	defer sockServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Run(ctx, dev, sockClient, 10, 0) // 10 bytes/sec, device-side writer paced

	payload := bytes.Repeat([]byte{'x'}, 30)
	go sockServer.Write(payload)

	buf := make([]byte, len(payload))
	start := time.Now()
	if _, err := io.ReadFull(devOut, buf); err != nil {
		t.Fatalf("device read: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 1*time.Second {
		t.Errorf("30 bytes at 10B/s delivered too fast: %v", elapsed)
	}
}
