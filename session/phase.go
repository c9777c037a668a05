package session

import (
	"fmt"
	"strings"
)

// Phase is the lifecycle stage of a session.
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhaseCommitment
	PhaseReveal
	PhaseCompleted
	PhaseCancelled
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseCommitment:
		return "commitment"
	case PhaseReveal:
		return "reveal"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// ParsePhase parses a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range []Phase{PhaseCreated, PhaseCommitment, PhaseReveal, PhaseCompleted, PhaseCancelled} {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase '%s'", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Active reports whether the session still accepts commitments or reveals.
// Active sessions are the ones the deadline sweep has to visit.
func (p Phase) Active() bool {
	return p == PhaseCommitment || p == PhaseReveal
}

// canTransition reports whether from -> to is a legal transition.
func canTransition(from, to Phase) bool {
	switch from {
	case PhaseCreated:
		return to == PhaseCommitment || to == PhaseCancelled
	case PhaseCommitment:
		return to == PhaseReveal || to == PhaseCancelled
	case PhaseReveal:
		return to == PhaseCompleted || to == PhaseCancelled
	default:
		return false
	}
}
