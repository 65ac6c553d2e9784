package session

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/la5ntx/vespermodem/internal/device"
	"github.com/la5ntx/vespermodem/internal/modem"
)

// onlineOutcome describes why an ONLINE phase ended.
type onlineOutcome int

const (
	onlineCarrierLost onlineOutcome = iota
	onlineInactivityTimeout
	onlineHangup
	onlineCancelled
)

// activityTracker records the most recent successful read on either
// side of the pump, for the inactivity-timeout check. Counters and
// last-activity timestamps are owned by the pump goroutines, per the
// shared-resource policy in spec.md §5; this is the lock that lets two
// writers (device->socket and socket->device) update it safely.
type activityTracker struct {
	mu   sync.Mutex
	last time.Time
}

func newActivityTracker() *activityTracker {
	return &activityTracker{last: time.Now()}
}

func (a *activityTracker) bump() {
	a.mu.Lock()
	a.last = time.Now()
	a.mu.Unlock()
}

func (a *activityTracker) idleFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.last)
}

// runEmulatedOnline pumps bytes between dev and sock while observing
// the device-to-socket stream for the +++ escape sequence (spec.md
// §4.2). Forward-and-observe, not withhold-and-replay, per the design
// note in spec.md §9: escape candidate bytes are written to the
// socket as they arrive, and only the confirmed-escape transition
// pauses the pump.
//
// On escape confirmation the pump stops and an AT command
// sub-dialogue runs against the device until ATO resumes the pump or
// ATH0 ends the session; data arriving on the socket meanwhile is not
// read further until the pump resumes.
func runEmulatedOnline(ctx context.Context, dev device.Device, sock io.ReadWriter, interp *modem.Interpreter, ratebps int, inactivityTimeout time.Duration) onlineOutcome {
	for {
		outcome, escaped := pumpOnlineOnce(ctx, dev, sock, interp, ratebps, inactivityTimeout)
		if !escaped {
			return outcome
		}

		events, err := runUntilModeChange(ctx, dev, interp)
		if err != nil {
			return onlineCarrierLost
		}
		for _, ev := range events {
			if ev.Kind == modem.EventHangup {
				return onlineHangup
			}
		}
		if interp.S.Mode != modem.ModeOnline {
			return onlineCancelled
		}
		// ATO: fall through and resume pumping.
	}
}

// pumpOnlineOnce runs one uninterrupted stretch of the byte pump. It
// returns (outcome, true) if it stopped because the escape sequence
// was confirmed (the reply has already been written to dev and the
// interpreter is in ModeOnlineCommand), or (outcome, false) for any
// other termination.
func pumpOnlineOnce(ctx context.Context, dev device.Device, sock io.ReadWriter, interp *modem.Interpreter, ratebps int, inactivityTimeout time.Duration) (onlineOutcome, bool) {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if ratebps > 0 {
		burst := ratebps / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratebps), burst)
	}

	// A previous stretch's stop() left sock's read deadline in the past;
	// clear it so the resumed socket reader does not fail at once.
	if dl, ok := sock.(interface{ SetReadDeadline(time.Time) error }); ok {
		dl.SetReadDeadline(time.Time{})
	}

	activity := newActivityTracker()
	// escMu guards the interpreter's escape detector, fed by the device
	// goroutine and polled by the ticker case below.
	var escMu sync.Mutex
	done := make(chan onlineOutcome, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := sock.Read(buf)
			if n > 0 {
				if limiter != nil {
					// WaitN rejects n above the burst, so wait in burst-sized steps.
					for left := n; left > 0; {
						k := left
						if k > limiter.Burst() {
							k = limiter.Burst()
						}
						if werr := limiter.WaitN(pumpCtx, k); werr != nil {
							done <- onlineCancelled
							return
						}
						left -= k
					}
				}
				if werr := writeAllDevice(dev, buf[:n]); werr != nil {
					done <- onlineCarrierLost
					return
				}
				activity.bump()
			}
			if err != nil {
				done <- onlineCarrierLost
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			select {
			case <-pumpCtx.Done():
				return
			default:
			}
			n, err := dev.Read(buf)
			if err == device.ErrWouldBlock {
				time.Sleep(devicePollInterval)
				continue
			}
			if n > 0 {
				escMu.Lock()
				interp.ObserveOnline(buf[:n], time.Now())
				escMu.Unlock()
				if werr := writeAllIO(sock, buf[:n]); werr != nil {
					done <- onlineCarrierLost
					return
				}
				activity.bump()
			}
			if err != nil {
				done <- onlineCarrierLost
				return
			}
		}
	}()

	// stop cancels pumpCtx (the device-side goroutine re-checks it every
	// devicePollInterval) and, if sock exposes a read deadline, aborts
	// its blocking Read immediately too. Every exit path below must
	// call stop and then wait on wg before returning: the caller either
	// reuses dev for runUntilModeChange's escape sub-dialogue or hands
	// it back to the supervisor for the next CONNECTING attempt, and
	// either would race a still-running pump goroutine reading the same
	// device or socket underneath it.
	stop := func() {
		cancel()
		if dl, ok := sock.(interface{ SetReadDeadline(time.Time) error }); ok {
			dl.SetReadDeadline(time.Now())
		}
	}

	escapePoll := interp.GuardTime()/2 + time.Millisecond
	ticker := time.NewTicker(escapePoll)
	defer ticker.Stop()

	var timer *time.Timer
	var timerC <-chan time.Time
	if inactivityTimeout > 0 {
		timer = time.NewTimer(inactivityTimeout)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case o := <-done:
			stop()
			wg.Wait()
			return o, false
		case <-ctx.Done():
			stop()
			wg.Wait()
			return onlineCancelled, false
		case <-ticker.C:
			escMu.Lock()
			reply, ev := interp.CheckEscapeSilence(time.Now())
			escMu.Unlock()
			if ev != nil {
				stop()
				wg.Wait()
				writeAllDevice(dev, reply)
				return 0, true
			}
		case <-timerC:
			if idle := activity.idleFor(); idle >= inactivityTimeout {
				stop()
				wg.Wait()
				return onlineInactivityTimeout, false
			} else {
				timer.Reset(inactivityTimeout - idle)
			}
		}
	}
}

// writeAllIO retries a short write until buf is fully written or w
// errors.
func writeAllIO(w io.Writer, buf []byte) error {
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
