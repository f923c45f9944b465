package call

type State string

const (
	StateIdle      State = "idle"
	StateInitiated State = "initiated"
	StateRinging   State = "ringing"
	StateAccepted  State = "accepted"
	StateActive    State = "active"
	StateDeclined  State = "declined"
	StateMissed    State = "missed"
	StateEnded     State = "ended"
)

var transitions = map[State][]State{
	StateIdle:      {StateInitiated},
	StateInitiated: {StateRinging, StateAccepted, StateDeclined, StateMissed, StateEnded},
	StateRinging:   {StateAccepted, StateDeclined, StateMissed, StateEnded},
	StateAccepted:  {StateActive, StateEnded},
	StateActive:    {StateEnded},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Answered reports whether s is past the ringing phase.
func (s State) Answered() bool {
	return s == StateAccepted || s == StateActive
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
