// Package session implements the supervisor state machine spec.md
// §4.5 describes: it owns the device and the remote TCP socket for
// their entire lifetime, drives the AT interpreter (when emulating)
// and the handshake and bridge packages. Session state is mutated only
// by the supervisor's goroutine. The design is not lock-free: while
// ONLINE the pump goroutines also update the activity counters and
// feed device bytes to the interpreter's escape detector, each under a
// mutex shared with the supervisor-side loop that reads them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/la5ntx/vespermodem/internal/bridge"
	"github.com/la5ntx/vespermodem/internal/bridgeerr"
	"github.com/la5ntx/vespermodem/internal/config"
	"github.com/la5ntx/vespermodem/internal/device"
	"github.com/la5ntx/vespermodem/internal/handshake"
	"github.com/la5ntx/vespermodem/internal/modem"
	"github.com/la5ntx/vespermodem/internal/vlog"
)

// dialTimeout bounds a single CONNECTING attempt; exceeding it is
// reported as NO ANSWER when emulating, per spec.md §4.5.
const dialTimeout = 30 * time.Second

// Supervisor drives one bridge session end to end.
type Supervisor struct {
	rec config.Record
	log *vlog.Logger

	dev    device.Device
	interp *modem.Interpreter
}

// New constructs a Supervisor for rec.
func New(rec config.Record, log *vlog.Logger) *Supervisor {
	sv := &Supervisor{rec: rec, log: log}
	if rec.EmulateModem {
		sv.interp = modem.NewInterpreter(rec.ConnectSpeed)
	}
	return sv
}

// Run opens the configured device and drives the session state
// machine until ctx is cancelled or a terminal outcome is reached.
func (sv *Supervisor) Run(ctx context.Context) Outcome {
	if ctx.Err() != nil {
		return OutcomeInterrupted
	}

	spec, err := device.ParseSpec(sv.rec.Device)
	if err != nil {
		sv.log.Error("session", err)
		return OutcomeConfigError
	}

	sv.dev, err = device.Open(spec, device.Config{BaudRate: sv.rec.BaudRate})
	if err != nil {
		sv.log.Error("session", err)
		if bridgeerr.Is(err, bridgeerr.DeviceMisconfigured) {
			return OutcomeConfigError
		}
		return OutcomeDeviceUnavailable
	}
	defer sv.dev.Close()

	state := StateIdle
	attempt := 0
	ratebps := computeByteRate(sv.rec)

	for {
		if ctx.Err() != nil {
			sv.transition(&state, StateTearingDown)
			return OutcomeInterrupted
		}

		switch state {
		case StateIdle:
			if sv.rec.EmulateModem {
				sv.transition(&state, StateWaitingForDial)
			} else {
				sv.transition(&state, StateConnecting)
			}

		case StateWaitingForDial:
			_, err := runUntilModeChange(ctx, sv.dev, sv.interp)
			if err != nil {
				if ctx.Err() != nil {
					sv.transition(&state, StateTearingDown)
					return OutcomeInterrupted
				}
				sv.log.Error("session", err)
				return OutcomeDeviceUnavailable
			}
			sv.transition(&state, StateConnecting)

		case StateConnecting:
			conn, derr := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", sv.rec.ServerHost, sv.rec.ServerPort), dialTimeout)
			if derr != nil {
				sv.log.Error("session", derr)
				if sv.rec.EmulateModem {
					reply := sv.interp.DialFailed(dialResultForEmulated(derr))
					writeAllDevice(sv.dev, reply)
					sv.transition(&state, StateWaitingForDial)
					continue
				}
				outcome, retry := sv.retryOrFail(&attempt, bridgeerr.RemoteUnreachable)
				if !retry {
					sv.transition(&state, StateFailed)
					return outcome
				}
				sv.transition(&state, StateConnecting)
				continue
			}

			sv.transition(&state, StateAuthenticating)
			herr := handshake.Run(conn, handshake.Credentials{Username: sv.rec.Username, Password: sv.rec.Password})
			if herr != nil {
				sv.log.Error("session", herr)
				kind := handshakeFailureKind(herr)
				if sv.rec.EmulateModem {
					reply := sv.interp.DialFailed(dialResultForEmulated(herr))
					writeAllDevice(sv.dev, reply)
					sv.transition(&state, StateWaitingForDial)
					continue
				}
				outcome, retry := sv.retryOrFail(&attempt, kind)
				if !retry {
					sv.transition(&state, StateFailed)
					return outcome
				}
				sv.transition(&state, StateConnecting)
				continue
			}

			sv.transition(&state, StateOnline)
			onlineStart := time.Now()

			if sv.rec.EmulateModem {
				reply := sv.interp.DialSucceeded()
				writeAllDevice(sv.dev, reply)

				outcome := runEmulatedOnline(ctx, sv.dev, conn, sv.interp, ratebps, time.Duration(sv.rec.InactivityTimeout)*time.Second)
				conn.Close()
				if time.Since(onlineStart) >= stableOnlinePeriod {
					attempt = 0
				}

				switch outcome {
				case onlineHangup:
					sv.transition(&state, StateWaitingForDial)
				case onlineCancelled:
					sv.transition(&state, StateTearingDown)
					return OutcomeInterrupted
				default: // onlineCarrierLost, onlineInactivityTimeout
					reply := sv.interp.CarrierLost()
					writeAllDevice(sv.dev, reply)
					sv.transition(&state, StateWaitingForDial)
				}
				continue
			}

			res := bridge.Run(ctx, sv.dev, conn, ratebps, time.Duration(sv.rec.InactivityTimeout)*time.Second)
			conn.Close()
			if time.Since(onlineStart) >= stableOnlinePeriod {
				attempt = 0
			}

			switch res.Reason {
			case bridgeerr.Cancelled:
				sv.transition(&state, StateTearingDown)
				return OutcomeInterrupted
			case bridgeerr.InactivityTimeout:
				if attempt >= sv.rec.ConnectionRetries {
					sv.transition(&state, StateIdle)
					return OutcomeClean
				}
				sv.sleepBackoff(attempt)
				attempt++
				sv.transition(&state, StateConnecting)
			default: // CarrierLost, DeviceIoError
				outcome, retry := sv.retryOrFail(&attempt, bridgeerr.CarrierLost)
				if !retry {
					sv.transition(&state, StateFailed)
					return outcome
				}
				sv.transition(&state, StateConnecting)
			}

		case StateFailed:
			return OutcomeRetriesExhausted
		}
	}
}

// retryOrFail decides whether another CONNECTING attempt should be
// made, per the retry policy in spec.md §4.5. It sleeps the backoff
// delay and increments attempt when retrying.
func (sv *Supervisor) retryOrFail(attempt *int, kind bridgeerr.Kind) (Outcome, bool) {
	if *attempt >= sv.rec.ConnectionRetries {
		if kind == bridgeerr.AuthFailed {
			return OutcomeAuthFailed, false
		}
		return OutcomeRetriesExhausted, false
	}
	sv.sleepBackoff(*attempt)
	*attempt++
	return OutcomeClean, true
}

func (sv *Supervisor) sleepBackoff(attempt int) {
	d := backoff(attempt)
	sv.log.Printf("session: retrying in %s (attempt %d/%d)", d, attempt+1, sv.rec.ConnectionRetries)
	time.Sleep(d)
}

func (sv *Supervisor) transition(cur *State, next State) {
	sv.log.Transition("session", cur.String(), next.String())
	*cur = next
}

// computeByteRate derives the bridge pump's pacing rate in bytes per
// second from the configuration record: the emulated connect speed
// when modem emulation is on, the serial baud rate otherwise. Zero
// disables pacing.
func computeByteRate(rec config.Record) int {
	if rec.EmulateModem && rec.ConnectSpeed > 0 {
		return rec.ConnectSpeed / 8
	}
	if rec.BaudRate > 0 {
		return rec.BaudRate / 8
	}
	return 0
}

// dialResultForEmulated maps a CONNECTING/AUTHENTICATING failure to
// the local Hayes result code a modem would report, per spec.md §4.5:
// NO ANSWER for a connect timeout or any HandshakeTimeout (a handshake
// read that timed out or was cut short), BUSY for a server-indicated
// rejection, NO CARRIER for any other transport or auth failure.
func dialResultForEmulated(err error) modem.ResultCode {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return modem.ResultNoAnswer
	}
	if bridgeerr.Is(err, bridgeerr.HandshakeTimeout) {
		return modem.ResultNoAnswer
	}
	if bridgeerr.Is(err, bridgeerr.HandshakeRejected) {
		return modem.ResultBusy
	}
	return modem.ResultNoCarrier
}

// handshakeFailureKind extracts the bridgeerr.Kind of a handshake
// failure, defaulting to RemoteUnreachable for anything unrecognised.
func handshakeFailureKind(err error) bridgeerr.Kind {
	for _, k := range []bridgeerr.Kind{bridgeerr.AuthFailed, bridgeerr.HandshakeRejected, bridgeerr.HandshakeTimeout} {
		if bridgeerr.Is(err, k) {
			return k
		}
	}
	return bridgeerr.RemoteUnreachable
}
