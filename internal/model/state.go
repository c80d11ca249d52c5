package model

// SessionState is the lifecycle state of a VPN session. Transitions
// are strictly monotonic except that Stopped can be entered from any
// state and is terminal.
type SessionState int

const (
	// StateIdle means the session has not started yet.
	StateIdle = SessionState(iota)

	// StateTLSHandshaking means we are dialing and performing the TLS
	// handshake with the server.
	StateTLSHandshaking

	// StateSoftEtherHandshaking means the secure transport is up and
	// the in-band Hello/Auth/Welcome exchange is running.
	StateSoftEtherHandshaking

	// StateEstablished means the server accepted us and we hold a
	// session descriptor.
	StateEstablished

	// StateTunneling means the data plane is running.
	StateTunneling

	// StateStopped is terminal.
	StateStopped
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTLSHandshaking:
		return "tls-handshaking"
	case StateSoftEtherHandshaking:
		return "softether-handshaking"
	case StateEstablished:
		return "established"
	case StateTunneling:
		return "tunneling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
