package spin

import "fmt"

// Phase is the spin lock. Exactly one phase is current; a new spin may only
// be accepted in PhaseIdle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLocked
	PhaseReelsSpinning
	PhaseEvaluating
	PhaseSettling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLocked:
		return "locked"
	case PhaseReelsSpinning:
		return "reels_spinning"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseSettling:
		return "settling"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// canTransition reports whether from -> to is a legal step. A spin that is
// rejected or aborted after locking returns straight to idle.
func canTransition(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseLocked
	case PhaseLocked:
		return to == PhaseReelsSpinning || to == PhaseIdle
	case PhaseReelsSpinning:
		return to == PhaseEvaluating
	case PhaseEvaluating:
		return to == PhaseSettling
	case PhaseSettling:
		return to == PhaseIdle
	}
	return false
}
