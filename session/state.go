package session

// State is the lifecycle position of a ClientSession.
type State int

const (
	StateConnecting  State = iota // client accepted, no upstream work yet
	StateLinkPending              // upstream being established; client messages queue
	StateReady                    // upstream open, queue flushed
	StateClosing                  // teardown started by either side
	StateClosed                   // both sides released
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLinkPending:
		return "link_pending"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
