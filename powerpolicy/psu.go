// Package powerpolicy implements the power policy service (§4.5): it
// arbitrates the best power consumer across registered PSUs, mediates
// provider (source) contracts against a global limited/unlimited power
// budget, and keeps registered chargers configured to match.
package powerpolicy

import (
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/registry"
)

// State is a PSU's connection state.
type State int

const (
	StateDetached State = iota
	StateIdle
	StateConnectedConsumer
	StateConnectedProvider
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateIdle:
		return "Idle"
	case StateConnectedConsumer:
		return "ConnectedConsumer"
	case StateConnectedProvider:
		return "ConnectedProvider"
	default:
		return "Unknown"
	}
}

// Proxy is the PSU-facing collaborator a Psu record drives: the physical
// power path the policy connects, disconnects, or reconfigures. Out of
// scope per §1 ("hardware device drivers"); this is the CORE's boundary
// onto that driver.
type Proxy interface {
	ConnectAsConsumer(cap ids.ConsumerPowerCapability) error
	ConnectAsProvider(cap ids.ProviderPowerCapability) error
	Disconnect() error
}

// Psu is a registered power-supply-unit record (§3 "PSU state record").
type Psu struct {
	node registry.Node

	ID    ids.PsuId
	Proxy Proxy

	state State

	// consumerCap and providerCap are cleared on Detach - see detach.
	consumerCap ids.ConsumerPowerCapability
	providerCap ids.ProviderPowerCapability

	// isCurrentConsumer breaks selection ties in favor of the incumbent,
	// avoiding flapping between equal-power PSUs.
	isCurrentConsumer bool
}

// NewPsu constructs an unattached PSU record.
func NewPsu(id ids.PsuId, proxy Proxy) *Psu {
	return &Psu{ID: id, Proxy: proxy, state: StateDetached}
}

func (p *Psu) Node() *registry.Node { return &p.node }

func (p *Psu) State() State                                { return p.state }
func (p *Psu) ConsumerCapability() ids.ConsumerPowerCapability { return p.consumerCap }
func (p *Psu) ProviderCapability() ids.ProviderPowerCapability { return p.providerCap }
func (p *Psu) IsCurrentConsumer() bool                      { return p.isCurrentConsumer }

// attach transitions Detached -> Idle. Per §3, transitions from Detached
// are only ever to Idle.
func (p *Psu) attach() {
	p.state = StateIdle
}

// detach clears both cached capabilities and returns to Detached - the
// consumer/provider capability invariant in §3.
func (p *Psu) detach() {
	p.state = StateDetached
	p.consumerCap = ids.ConsumerPowerCapability{}
	p.providerCap = ids.ProviderPowerCapability{}
	p.isCurrentConsumer = false
}

// noteConsumerCapability records a freshly reported consumer capability
// without changing connection state - the PSU may be Idle (not yet
// selected) or already ConnectedConsumer (a refreshed report).
func (p *Psu) noteConsumerCapability(cap ids.ConsumerPowerCapability) {
	p.consumerCap = cap
}

func (p *Psu) noteProviderRequest(cap ids.ProviderPowerCapability) {
	p.providerCap = cap
}
