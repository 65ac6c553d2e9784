// Package bridge implements the full-duplex byte pump spec.md §4.4
// describes: once the modem (if any) has reported CONNECT, raw bytes
// flow both ways between the local device and the remote socket until
// either side closes, an error occurs, or the caller cancels.
package bridge

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
	"github.com/la5ntx/vespermodem/internal/device"
)

const readBufSize = 4096

// drainTimeout bounds the graceful-shutdown write drain per side, per
// spec.md §4.4.
const drainTimeout = 500 * time.Millisecond

// Counters tracks the pump activity spec.md §3 describes. Run's own
// inactivity-timeout check reads LastActivity; the session supervisor
// does not consult these counters.
type Counters struct {
	BytesIn  int64
	BytesOut int64

	// LastActivity is the monotonic instant of the most recent
	// successful read on either side.
	LastActivity time.Time
}

// Result is returned by Run when the pump terminates.
type Result struct {
	Counters Counters

	// Reason is the bridgeerr.Kind that ended the pump: CarrierLost
	// (EOF/IO error on either side), InactivityTimeout, or Cancelled.
	Reason bridgeerr.Kind
}

// Run pumps bytes between dev and sock until one side closes, an
// error occurs, inactivityTimeout elapses with no traffic on either
// side (0 disables the check), or ctx is cancelled.
//
// Backpressure: spec.md §4.4 requires socket writes to stall rather
// than drop bytes when the device cannot keep up. The device-side
// writer (remote-to-local direction) is paced by a rate.Limiter sized
// from ratebps, the same token-bucket approach the ttylag reference
// example uses to shape a byte stream to a configured bandwidth; a
// slow device naturally back-pressures the socket reader because the
// limiter's Wait blocks the goroutine that would otherwise issue the
// next socket Read.
func Run(ctx context.Context, dev device.Device, sock io.ReadWriter, ratebps int, inactivityTimeout time.Duration) Result {
	var limiter *rate.Limiter
	if ratebps > 0 {
		// One byte is one token; burst of 1/10s worth of bytes smooths
		// scheduling jitter without materially relaxing the pacing.
		burst := ratebps / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratebps), burst)
	}

	// pumpCtx is the cancellation both directions watch. Beyond ctx
	// itself, Run cancels it as soon as either direction terminates
	// (for any reason) so the other one stops too: the caller reuses
	// dev and sock across sessions, and a pump goroutine left running
	// past Run's return would race the next reader of the same device.
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()

	res := Result{Counters: Counters{LastActivity: time.Now()}}
	done := make(chan bridgeerr.Kind, 2)
	// activityMu guards res.Counters.LastActivity, which both pump
	// goroutines write and the timer case below reads.
	var activityMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	pump := func(dst io.Writer, src io.Reader, limiter *rate.Limiter, counter *int64) {
		defer wg.Done()
		buf := make([]byte, readBufSize)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				if limiter != nil {
					// WaitN rejects n above the burst, so wait in burst-sized steps.
					for left := n; left > 0; {
						k := left
						if k > limiter.Burst() {
							k = limiter.Burst()
						}
						if werr := limiter.WaitN(pumpCtx, k); werr != nil {
							done <- bridgeerr.Cancelled
							return
						}
						left -= k
					}
				}
				if werr := writeAll(dst, buf[:n]); werr != nil {
					done <- bridgeerr.CarrierLost
					return
				}
				*counter += int64(n)
				activityMu.Lock()
				res.Counters.LastActivity = time.Now()
				activityMu.Unlock()
			}
			if err != nil {
				done <- bridgeerr.CarrierLost
				return
			}
		}
	}

	go pump(sock, devReader{dev, pumpCtx}, nil, &res.Counters.BytesOut)
	go pump(dev, sock, limiter, &res.Counters.BytesIn)

	// stop cancels pumpCtx (unblocking the device-side reader's
	// would-block retry loop) and, if sock exposes a read deadline,
	// forces its blocking Read to return immediately too — the same
	// conn.SetDeadline-to-abort-a-blocked-read technique
	// internal/handshake and the deleted hamlib.TCPRig.doCmd use for
	// bounding a read, applied here to guarantee both pump goroutines
	// have actually exited before Run hands dev and sock back.
	stop := func() {
		cancelPump()
		if dl, ok := sock.(interface{ SetReadDeadline(time.Time) error }); ok {
			dl.SetReadDeadline(time.Now())
		}
	}

	finish := func(reason bridgeerr.Kind, shouldDrain bool) Result {
		stop()
		wg.Wait()
		res.Reason = reason
		if shouldDrain {
			drain(dev, sock)
		}
		return res
	}

	var timerC <-chan time.Time
	var timer *time.Timer
	if inactivityTimeout > 0 {
		timer = time.NewTimer(inactivityTimeout)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case reason := <-done:
			return finish(reason, false)
		case <-ctx.Done():
			return finish(bridgeerr.Cancelled, true)
		case <-timerC:
			activityMu.Lock()
			idle := time.Since(res.Counters.LastActivity)
			activityMu.Unlock()
			if idle >= inactivityTimeout {
				return finish(bridgeerr.InactivityTimeout, true)
			}
			timer.Reset(inactivityTimeout - idle)
		}
	}
}

// devReader adapts device.Device's ErrWouldBlock into a loop-friendly
// io.Reader by retrying after a short sleep; the reactor's use of
// non-blocking device reads is otherwise confined to the session
// package's main select loop, but the pump runs its own goroutine per
// direction and so re-applies the same would-block convention here.
type devReader struct {
	device.Device
	ctx context.Context
}

func (d devReader) Read(buf []byte) (int, error) {
	for {
		if d.ctx.Err() != nil {
			return 0, d.ctx.Err()
		}
		n, err := d.Device.Read(buf)
		if err == device.ErrWouldBlock {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return n, err
	}
}

// writeAll retries a short write until buf is fully written or an
// error occurs, per the Device.Write contract in internal/device.
func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		buf = buf[n:]
	}
	return nil
}

// drain gives each side up to drainTimeout to flush any buffered
// output before the caller tears the connection down, per spec.md
// §4.4's bounded graceful-shutdown requirement.
func drain(dev device.Device, sock io.ReadWriter) error {
	drained := make(chan error, 2)
	go func() { drained <- dev.Drain() }()
	go func() {
		if d, ok := sock.(interface{ Drain() error }); ok {
			drained <- d.Drain()
		} else {
			drained <- nil
		}
	}()

	var errs error
	timeout := time.After(drainTimeout)
	for i := 0; i < 2; i++ {
		select {
		case err := <-drained:
			errs = multierr.Append(errs, err)
		case <-timeout:
			return errs
		}
	}
	return errs
}
