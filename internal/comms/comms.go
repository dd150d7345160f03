// Package comms implements the typed endpoint directory (§4.3): a closed
// taxonomy of endpoint identifiers, each backed by a mailbox delegate that
// accepts an opaque message and attempts to handle it. Delivery is
// synchronous and best-effort - the fabric never retries a failed send,
// leaving retry policy to the caller.
package comms

import (
	"fmt"
	"sync"
)

// Internal enumerates the internal endpoint identifiers.
type Internal int

const (
	InternalBattery Internal = iota
	InternalThermal
	InternalPower
	InternalUsbc
	InternalNonvol
	InternalDebug
)

func (i Internal) String() string {
	switch i {
	case InternalBattery:
		return "internal:battery"
	case InternalThermal:
		return "internal:thermal"
	case InternalPower:
		return "internal:power"
	case InternalUsbc:
		return "internal:usbc"
	case InternalNonvol:
		return "internal:nonvol"
	case InternalDebug:
		return "internal:debug"
	default:
		return "internal:unknown"
	}
}

// External enumerates the external endpoint identifiers.
type External int

// ExternalHost is the one external endpoint defined by spec.md: the host
// reachable over the MCTP relay/transport.
const ExternalHost External = 0

func (External) String() string { return "external:host" }

// EndpointID identifies an endpoint from the closed taxonomy. Exactly one
// of Internal or External is meaningful, selected by IsExternal.
type EndpointID struct {
	IsExternal bool
	Internal   Internal
	External   External
}

func (id EndpointID) String() string {
	if id.IsExternal {
		return id.External.String()
	}
	return id.Internal.String()
}

// Int wraps an Internal endpoint id.
func Int(i Internal) EndpointID { return EndpointID{Internal: i} }

// Ext wraps an External endpoint id.
func Ext(e External) EndpointID { return EndpointID{IsExternal: true, External: e} }

// Error is the comms fabric's single error kind, describing why a send
// failed.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrUnknownEndpoint is returned when Send targets an unregistered id.
	ErrUnknownEndpoint Error = "comms: unknown endpoint"
	// ErrAlreadyRegistered is returned by Register when id already has a
	// mailbox.
	ErrAlreadyRegistered Error = "comms: endpoint already registered"
	// ErrUnhandled is returned when the endpoint's mailbox declines the
	// message (a failed downcast to any accepted type).
	ErrUnhandled Error = "comms: message not accepted by endpoint"
)

// Mailbox is the delegate an endpoint registers: given an opaque message,
// it attempts to handle it, reporting ErrUnhandled if the message's
// concrete type is not one it accepts.
type Mailbox interface {
	Receive(msg any) error
}

// MailboxFunc adapts a function to a Mailbox.
type MailboxFunc func(msg any) error

func (f MailboxFunc) Receive(msg any) error { return f(msg) }

// Directory is the process-lifetime endpoint directory. The zero value is
// empty and ready to use.
type Directory struct {
	mu        sync.RWMutex
	endpoints map[EndpointID]Mailbox
}

// Register binds mailbox to id. It fails if id already has a registered
// mailbox - each identifier may be registered at most once.
func (d *Directory) Register(id EndpointID, mailbox Mailbox) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.endpoints == nil {
		d.endpoints = make(map[EndpointID]Mailbox)
	}
	if _, exists := d.endpoints[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	d.endpoints[id] = mailbox
	return nil
}

// Send delivers msg to the endpoint registered at to. It reports
// ErrUnknownEndpoint if no mailbox is registered, or whatever error the
// mailbox itself returns (typically ErrUnhandled on a failed downcast).
// No retry is attempted by the fabric.
func (d *Directory) Send(to EndpointID, msg any) error {
	d.mu.RLock()
	mailbox, ok := d.endpoints[to]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, to)
	}
	return mailbox.Receive(msg)
}

// Lookup reports whether id currently has a registered mailbox.
func (d *Directory) Lookup(id EndpointID) (Mailbox, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.endpoints[id]
	return m, ok
}
