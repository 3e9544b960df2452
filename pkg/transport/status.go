package transport

// Status represents the client connection state.
type Status uint8

const (
	// StatusDisconnected is the initial state, and the terminal state after an
	// explicit Disconnect.
	StatusDisconnected Status = iota
	// StatusConnecting means a dial is in progress.
	StatusConnecting
	// StatusConnected means the socket is open and the handshake has been sent.
	StatusConnected
	// StatusReconnecting means the connection dropped unexpectedly and a retry
	// is scheduled.
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func (s Status) IsConnected() bool {
	return s == StatusConnected
}
