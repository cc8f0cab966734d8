package orders

// State is the per-pair order/position lifecycle state
type State string

const (
	StateIdle            State = "IDLE"
	StateSubmitting      State = "SUBMITTING"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateOpen            State = "OPEN"
	StateClosing         State = "CLOSING"
	StateClosed          State = "CLOSED"
	StateCancelled       State = "CANCELLED"
	StateRejected        State = "REJECTED"
	StateHalted          State = "HALTED"
)

// validTransitions encodes the lifecycle graph. Halted is reachable from
// anywhere and left only by manual reset.
var validTransitions = map[State][]State{
	StateIdle:            {StateSubmitting},
	StateSubmitting:      {StatePartiallyFilled, StateOpen, StateCancelled, StateRejected},
	StatePartiallyFilled: {StatePartiallyFilled, StateOpen, StateCancelled},
	StateOpen:            {StateOpen, StateClosing},
	StateClosing:         {StateClosed, StateOpen},
	StateClosed:          {StateIdle},
	StateCancelled:       {StateIdle},
	StateRejected:        {StateIdle},
	StateHalted:          {StateIdle},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s State) CanTransitionTo(next State) bool {
	if next == StateHalted {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether the pair has a live order or position
func (s State) Active() bool {
	switch s {
	case StateSubmitting, StatePartiallyFilled, StateOpen, StateClosing:
		return true
	}
	return false
}
