package types

// ConnState is a step of a connection attempt's lifecycle.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateDisconnected
	StateReconnecting
	StateTerminated
)

var stateNames = map[ConnState]string{
	StateConnecting:    "connecting",
	StateAuthenticated: "authenticated",
	StateActive:        "active",
	StateDisconnected:  "disconnected",
	StateReconnecting:  "reconnecting",
	StateTerminated:    "terminated",
}

func (s ConnState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var stateTransitions = map[ConnState][]ConnState{
	StateConnecting:    {StateAuthenticated, StateReconnecting, StateTerminated},
	StateAuthenticated: {StateActive, StateTerminated},
	StateActive:        {StateDisconnected, StateReconnecting, StateTerminated},
	StateDisconnected:  {StateReconnecting, StateTerminated},
	StateReconnecting:  {StateAuthenticated, StateActive, StateTerminated},
	StateTerminated:    nil,
}

// CanTransition reports whether moving from s to next is a legal step.
func (s ConnState) CanTransition(next ConnState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
