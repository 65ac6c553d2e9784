package modem

import (
	"fmt"
	"strconv"
	"strings"
)

// HandleCommandBytes feeds device-sourced bytes to the interpreter
// while in ModeCommand or ModeOnlineCommand. It returns the bytes that
// should be echoed/replied to the device and any control events raised
// (DIAL, ANSWER, HANGUP).
//
// In ModeDialling, input is suppressed entirely (spec.md §4.2): bytes
// are consumed without echo or parsing until DialSucceeded/DialFailed
// moves the interpreter out of ModeDialling.
func (i *Interpreter) HandleCommandBytes(data []byte) (reply []byte, events []Event) {
	s := i.S
	if s.Mode == ModeDialling {
		return nil, nil
	}

	var out []byte
	for _, b := range data {
		switch {
		case b == s.Regs[RegBS]:
			if len(s.lineBuf) > 0 {
				s.lineBuf = s.lineBuf[:len(s.lineBuf)-1]
				if s.Echo {
					out = append(out, s.Regs[RegBS], ' ', s.Regs[RegBS])
				}
			}
		case b == s.Regs[RegCR]:
			if s.Echo {
				out = append(out, b)
			}
			line := string(s.lineBuf)
			s.lineBuf = s.lineBuf[:0]

			res, lineEvents, lineData := s.executeLine(line)
			out = append(out, lineData...)
			if res != ResultPending {
				out = append(out, s.format(res, 0)...)
			}
			events = append(events, lineEvents...)

		case b == s.Regs[RegLF]:
			// Ignored outside of arguments, per spec.md §4.2.
		default:
			if len(s.lineBuf) < maxLineLen {
				s.lineBuf = append(s.lineBuf, b)
			}
			if s.Echo {
				out = append(out, b)
			}
		}
	}
	return out, events
}

// executeLine parses and runs one complete AT command line (without
// the trailing CR), returning the line's overall result code, any
// control events raised along the way, and any data bytes that must be
// sent ahead of the result code (currently only the Sn? register
// read-back).
func (s *State) executeLine(line string) (ResultCode, []Event, []byte) {
	upper := strings.ToUpper(strings.TrimSpace(line))
	if upper == "" {
		return ResultError, nil, nil
	}
	if !strings.HasPrefix(upper, "AT") {
		return ResultError, nil, nil
	}

	body := upper[2:]
	if body == "" {
		return ResultOK, nil, nil
	}

	result := ResultOK
	var events []Event
	var data []byte

	i := 0
	for i < len(body) {
		c := body[i]
		switch c {
		case 'E':
			v, n, ok := readDigit(body, i+1)
			if !ok {
				return ResultError, events, data
			}
			s.Echo = v == 1
			i += n + 1

		case 'Q':
			v, n, ok := readDigit(body, i+1)
			if !ok {
				return ResultError, events, data
			}
			s.Quiet = v == 1
			i += n + 1

		case 'V':
			v, n, ok := readDigit(body, i+1)
			if !ok {
				return ResultError, events, data
			}
			s.Verbose = v == 1
			i += n + 1

		case 'X':
			// Quality/result-set selector: accepted and ignored.
			_, n, ok := readDigit(body, i+1)
			if !ok {
				return ResultError, events, data
			}
			i += n + 1

		case 'L', 'M':
			// Speaker volume/control: accepted and ignored.
			_, n, _ := readDigit(body, i+1)
			i += n + 1

		case 'Z':
			s.factoryReset()
			i++

		case '&':
			if i+1 >= len(body) {
				return ResultError, events, data
			}
			switch body[i+1] {
			case 'F':
				s.factoryReset()
			case 'V', 'W':
				// View/write settings: no persistent store, accepted as
				// a no-op per SPEC_FULL.md.
			default:
				return ResultError, events, data
			}
			i += 2

		case 'I':
			_, n, _ := readDigit(body, i+1)
			i += n + 1
			// ATI and ATIn are accepted, but no identity text is
			// emitted: the reply is the line's result code only.

		case 'H':
			v, n, ok := readDigit(body, i+1)
			if !ok {
				v, n = 0, 0 // bare H defaults to H0
			}
			i += n + 1
			if v == 0 && s.Mode == ModeOnlineCommand {
				s.Mode = ModeCommand
				s.escape.reset()
				events = append(events, Event{Kind: EventHangup})
				return ResultNoCarrier, events, data
			}

		case 'O':
			i++
			if s.Mode == ModeOnlineCommand {
				s.Mode = ModeOnline
				s.escape.reset()
			}

		case 'A':
			s.dialTarget = s.lastNumber
			s.Mode = ModeDialling
			events = append(events, Event{Kind: EventAnswer, Number: s.dialTarget})
			return ResultPending, events, data

		case 'D':
			i++
			if i < len(body) && (body[i] == 'T' || body[i] == 'P') {
				i++
			}
			var number string
			if i < len(body) && body[i] == 'L' {
				// ATDL redials the last number dialled.
				number = s.lastNumber
				i++
			} else {
				number = body[i:]
				i = len(body)
			}
			s.lastNumber = number
			s.dialTarget = number
			s.Mode = ModeDialling
			events = append(events, Event{Kind: EventDial, Number: number})
			return ResultPending, events, data

		case 'S':
			i++
			numStart := i
			for i < len(body) && body[i] >= '0' && body[i] <= '9' {
				i++
			}
			if i == numStart {
				return ResultError, events, data
			}
			regNum, _ := strconv.Atoi(body[numStart:i])
			if regNum < 0 || regNum > 255 {
				return ResultError, events, data
			}
			if i >= len(body) {
				return ResultError, events, data
			}
			switch body[i] {
			case '?':
				i++
				data = append(data, fmt.Sprintf("%03d", s.Regs[regNum])...)
				data = append(data, s.Regs[RegCR], s.Regs[RegLF])
			case '=':
				i++
				valStart := i
				for i < len(body) && body[i] >= '0' && body[i] <= '9' {
					i++
				}
				if i == valStart {
					return ResultError, events, data
				}
				val, err := strconv.Atoi(body[valStart:i])
				if err != nil || val < 0 || val > 255 {
					return ResultError, events, data
				}
				s.Regs[regNum] = byte(val)
			default:
				return ResultError, events, data
			}

		default:
			return ResultError, events, data
		}
	}

	return result, events, data
}

// readDigit reads a single decimal digit at position i in s, returning
// its value, the number of characters consumed (0 or 1), and whether
// the read succeeded. A missing digit at end-of-line is treated as an
// implicit 0, matching common Hayes practice for bare E/Q/V/H tokens.
func readDigit(s string, i int) (value, consumed int, ok bool) {
	if i >= len(s) || s[i] < '0' || s[i] > '9' {
		return 0, 0, true
	}
	return int(s[i] - '0'), 1, true
}
