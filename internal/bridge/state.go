package bridge

// ConnectionState is the lifecycle state of the underlying client.
type ConnectionState int

const (
	// StateDisconnected means no client is held.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a client is being created and started.
	StateConnecting
	// StateConnected means the client is started and ready for calls.
	StateConnected
	// StateFailed means the last start failed or the connection was lost.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState converts a state label back into a ConnectionState.
func ParseState(label string) (ConnectionState, bool) {
	for _, s := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateFailed} {
		if s.String() == label {
			return s, true
		}
	}
	return StateDisconnected, false
}
