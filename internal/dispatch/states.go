package dispatch

// State names the stations of the per-message state machine:
//
//	Received -> Deduped (terminal skip)
//	Received -> Routed -> Invoking -> Succeeded (terminal)
//	Invoking -> Failed -> Invoking (bounded retries)
//	Failed -> DeadLettered (terminal)
type State int

const (
	StateReceived State = iota
	StateDeduped
	StateRouted
	StateInvoking
	StateSucceeded
	StateFailed
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDeduped:
		return "deduped"
	case StateRouted:
		return "routed"
	case StateInvoking:
		return "invoking"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}
