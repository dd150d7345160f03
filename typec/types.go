// Package typec implements the type-C controller wrapper (§4.6): a
// per-port event loop driving PD alert buffering, sink-ready timeout,
// CFU firmware-update handling, UCSI command dispatch, and power-policy
// integration, against a single wrapped Controller driver.
package typec

import "github.com/jangala-dev/ec-services/internal/ids"

// PortEvent is a bitset of status-change and notification flags (§3 "Port
// event bitsets"). The oxplot typec package's Event/Pop/Add/Has shape is
// the model: a single word carries every pending flag for a port between
// IRQ iterations.
type PortEvent uint16

const (
	EventPlugInsertedOrRemoved PortEvent = 1 << iota
	EventSourceCapsReceived
	EventSinkReady
	EventNewPowerContractAsConsumer
	EventNewPowerContractAsProvider
	EventPowerSwapCompleted
	EventAltModeEntered
	EventPdHardReset
	EventDpStatusUpdated
	EventAlert
	EventAttention
	EventCustomModeEntered
	EventCustomModeExited
)

// Has reports whether v is set in e.
func (e PortEvent) Has(v PortEvent) bool { return e&v != 0 }

// Add sets v in e.
func (e *PortEvent) Add(v PortEvent) { *e |= v }

// Clear unsets v in e.
func (e *PortEvent) Clear(v PortEvent) { *e &^= v }

// PortEventFlags is the service-level aggregate of which ports (by
// GlobalPortId) had an event pended during one IRQ iteration (§4.6
// "Pend global_port_id(p) on the service-level PortEventFlags for
// delivery"). Same bitset shape as PortEvent, keyed by port rather than
// event kind.
type PortEventFlags uint32

// Has reports whether global is pending in f.
func (f PortEventFlags) Has(global ids.GlobalPortId) bool { return f&(1<<global) != 0 }

// Add pends global in f.
func (f *PortEventFlags) Add(global ids.GlobalPortId) { *f |= 1 << global }

// PowerRole is the port's negotiated PD power role.
type PowerRole int

const (
	PowerRoleSink PowerRole = iota
	PowerRoleSource
)

// ConnectionState is the port's physical connection state.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnected
)

// PortStatus is a snapshot of controller state for one port (§3
// "PortStatus").
type PortStatus struct {
	Connection ConnectionState
	PowerRole  PowerRole

	PdMode   bool
	UsbMode  bool
	Usb3Mode bool
	TbtMode  bool

	AvailableSinkContract   ids.PowerCapability
	AvailableSourceContract ids.PowerCapability
	Epr                     bool

	RetimerActive bool
	DpActive      bool
	TbtActive     bool
}

// tPSTransition values per USB PD (§4.6 "Sink-ready timeout"): doubled for
// margin when computing the wrapper's own deadline.
const (
	TPsTransitionSpr = 500  // ms
	TPsTransitionEpr = 1250 // ms
)
