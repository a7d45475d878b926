package domain

// SessionState tracks a session manager through the handshake lifecycle:
// Idle -> Connecting -> AwaitingAuth -> {Authorized | Failed} -> Closed.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthorized
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthorized:
		return "authorized"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
