// internal/eventlistener/state.go
package eventlistener

// ConnectionState tracks the supervisor's connection lifecycle. It is
// owned solely by the Supervisor; everyone else observes it through
// connection status events.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateSubscribed
	StateCoolingDown
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}
