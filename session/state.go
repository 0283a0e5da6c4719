package session

// State represents the lifecycle state of a session
type State int32

// Session states, a session only moves forward through them
const (
	StateConnecting State = iota
	StateConnected
	StateAuthenticated
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateConnecting:    "CONNECTING",
	StateConnected:     "CONNECTED",
	StateAuthenticated: "AUTHENTICATED",
	StateClosing:       "CLOSING",
	StateClosed:        "CLOSED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
