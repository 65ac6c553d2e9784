package modem

import "time"

// DialSucceeded is called by the supervisor once a dial/answer attempt
// (raised via EventDial/EventAnswer) has completed successfully. It
// returns the CONNECT reply and transitions the interpreter to
// ModeOnline.
func (i *Interpreter) DialSucceeded() []byte {
	s := i.S
	reply := s.format(ResultConnect, s.ConnectSpeed)
	s.Mode = ModeOnline
	s.escape.reset()
	s.escape.armed = false
	return reply
}

// DialFailed is called by the supervisor when a dial/answer attempt
// did not succeed. reason should be ResultNoCarrier, ResultBusy,
// ResultNoAnswer, or ResultNoDialtone, per spec.md §4.5. The
// interpreter returns to ModeCommand.
func (i *Interpreter) DialFailed(reason ResultCode) []byte {
	s := i.S
	reply := s.format(reason, 0)
	s.Mode = ModeCommand
	return reply
}

// CarrierLost is called by the supervisor when the pump terminates
// while ModeOnline (inactivity timeout, device/socket EOF or error).
// It emits NO CARRIER and returns to ModeCommand, per spec.md §4.2.
func (i *Interpreter) CarrierLost() []byte {
	s := i.S
	reply := s.format(ResultNoCarrier, 0)
	s.Mode = ModeCommand
	s.lineBuf = s.lineBuf[:0]
	s.escape.reset()
	return reply
}

// guardTime returns S12/50 seconds, the escape guard time.
func (s *State) guardTime() time.Duration {
	return time.Duration(s.Regs[RegEscapeGuard]) * (time.Second / 50)
}

// GuardTime exposes the current escape guard time to callers outside
// the package, such as the session supervisor's escape-silence poller.
func (i *Interpreter) GuardTime() time.Duration {
	return i.S.guardTime()
}

// ObserveOnline watches a copy of the device-sourced byte stream while
// ModeOnline for the +++ escape sequence (spec.md §4.2): a silence of
// at least the guard time, then exactly three escape characters with
// inter-character gaps under the guard time, then another silence of
// at least the guard time.
//
// now is the arrival time of data as a whole; bytes within one call
// are treated as arriving back-to-back (gap 0), which is accurate for
// the common case where a terminal delivers one keystroke per Read.
//
// ObserveOnline only tracks the run of escape characters: it returns
// nothing and never changes mode. Confirmation (the OK reply, the
// EventEscape and the move to ModeOnlineCommand) happens in
// CheckEscapeSilence once the trailing guard silence has passed. Any
// deviation (wrong byte, gap too long, wrong count) resets the run, so
// no event is raised, per the testable property in spec.md §8.
func (i *Interpreter) ObserveOnline(data []byte, now time.Time) {
	s := i.S
	if s.Mode != ModeOnline || len(data) == 0 {
		return
	}
	guard := s.guardTime()
	esc := s.Regs[RegEscapeChar]

	for _, b := range data {
		gap := now.Sub(s.escape.lastByte)
		silenceBeforeOK := !s.escape.armed || gap >= guard

		switch {
		case s.escape.run == 0 && b == esc && silenceBeforeOK:
			s.escape.run = 1
		case s.escape.run > 0 && s.escape.run < 3 && b == esc && gap < guard:
			s.escape.run++
		default:
			s.escape.run = 0
			if b == esc && silenceBeforeOK {
				s.escape.run = 1
			}
		}

		s.escape.lastByte = now
		s.escape.armed = true
	}
}

// CheckEscapeSilence is polled by the supervisor's timer wheel while
// ModeOnline: once three escape characters have been seen and guard
// time has elapsed since the last one with no further bytes arriving,
// the escape sequence is confirmed.
func (i *Interpreter) CheckEscapeSilence(now time.Time) (reply []byte, ev *Event) {
	s := i.S
	if s.Mode != ModeOnline || s.escape.run != 3 {
		return nil, nil
	}
	if now.Sub(s.escape.lastByte) < s.guardTime() {
		return nil, nil
	}

	s.escape.run = 0
	s.Mode = ModeOnlineCommand
	return s.format(ResultOK, 0), &Event{Kind: EventEscape}
}
