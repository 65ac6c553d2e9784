package modem

import "fmt"

// ResultCode is one of the Hayes result codes in spec.md §4.2, with
// its numeric form and verbose text.
type ResultCode int

// ResultPending indicates a line ended in a dial/answer request: no
// result code is emitted yet, since the outcome depends on the
// supervisor's dial attempt (see DialSucceeded/DialFailed).
const ResultPending ResultCode = -1

const (
	ResultOK ResultCode = iota
	ResultConnect
	ResultRing
	ResultNoCarrier
	ResultError
	_ // 5 is unused in the classic Hayes set
	ResultNoDialtone
	ResultBusy
	ResultNoAnswer
)

func (r ResultCode) text() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultConnect:
		return "CONNECT"
	case ResultRing:
		return "RING"
	case ResultNoCarrier:
		return "NO CARRIER"
	case ResultError:
		return "ERROR"
	case ResultNoDialtone:
		return "NO DIALTONE"
	case ResultBusy:
		return "BUSY"
	case ResultNoAnswer:
		return "NO ANSWER"
	default:
		return "ERROR"
	}
}

// format renders the result code as a complete reply line honouring
// the current V (verbose) and Q (quiet) flags, per spec.md §4.2:
//
//	verbose: CR LF <text>[ <speed>] CR LF
//	numeric: <digit> CR
//
// Q1 suppresses all result codes outright.
func (s *State) format(r ResultCode, speed int) []byte {
	if s.Quiet {
		return nil
	}
	if !s.Verbose {
		return []byte{byte('0' + int(r)), s.Regs[RegCR]}
	}

	text := r.text()
	if r == ResultConnect && speed > 0 {
		text = fmt.Sprintf("CONNECT %d", speed)
	}

	cr, lf := s.Regs[RegCR], s.Regs[RegLF]
	out := make([]byte, 0, len(text)+4)
	out = append(out, cr, lf)
	out = append(out, text...)
	out = append(out, cr, lf)
	return out
}
