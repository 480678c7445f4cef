package quorum

// State is a node of the join state machine.
type State int

const (
	StateNotJoined State = iota
	StateJoining
	StatePolling
	StateSynchronized
	StateError
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotJoined:
		return "not_joined"
	case StateJoining:
		return "joining"
	case StatePolling:
		return "polling"
	case StateSynchronized:
		return "synchronized"
	case StateError:
		return "error"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSynchronized || s == StateTerminated
}
