package powerpolicy

import "github.com/jangala-dev/ec-services/internal/ids"

// EventKind identifies which broadcast message an Event carries (§4.5
// "Broadcast messages").
type EventKind int

const (
	EventConsumerConnected EventKind = iota
	EventConsumerDisconnected
	EventProviderConnected
	EventProviderDisconnected
	EventUnconstrained
)

func (k EventKind) String() string {
	switch k {
	case EventConsumerConnected:
		return "ConsumerConnected"
	case EventConsumerDisconnected:
		return "ConsumerDisconnected"
	case EventProviderConnected:
		return "ProviderConnected"
	case EventProviderDisconnected:
		return "ProviderDisconnected"
	case EventUnconstrained:
		return "Unconstrained"
	default:
		return "Unknown"
	}
}

// Event is a single broadcast from the power policy context to its
// subscribers (in cmd/ecsvcd, the bus telemetry forwarder).
type Event struct {
	Kind EventKind

	PsuID ids.PsuId
	Cap   ids.PowerCapability // meaningful for *Connected events

	Unconstrained bool // meaningful for EventUnconstrained
}
