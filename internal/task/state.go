package task

// State represents the lifecycle stage of a task
type State string

// Possible task states
const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// transitions lists, for each state, the states a record may move to.
// Terminal states have no outgoing edges.
var transitions = map[State][]State{
	StateQueued:     {StateProcessing, StateFailed},
	StateProcessing: {StateProcessing, StateCompleted, StateFailed},
	StateCompleted:  nil,
	StateFailed:     nil,
}

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether a record in state from may move to state to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
