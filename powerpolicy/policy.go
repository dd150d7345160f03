package powerpolicy

import (
	"fmt"

	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/logx"
	"github.com/jangala-dev/ec-services/internal/registry"
	"github.com/jangala-dev/ec-services/x/mathx"
)

// Config tunes the arbitration thresholds (§4.5).
type Config struct {
	// MinConsumerThresholdMw excludes PSUs below this power from consumer
	// selection. Zero means unconfigured (no threshold).
	MinConsumerThresholdMw uint32
	// LimitedPowerThresholdMw is the aggregate provider power above which
	// the system is considered Limited.
	LimitedPowerThresholdMw uint32
	// ProviderUnlimitedMw/ProviderLimitedMw cap an individual provider
	// grant in the Unlimited/Limited regimes respectively.
	ProviderUnlimitedMw uint32
	ProviderLimitedMw   uint32
}

// Context is the power policy service: the registry of PSUs and
// chargers, the currently selected consumer, and the broadcast fan-out
// of connection-change events.
type Context struct {
	log *logx.Logger
	cfg Config

	psus     registry.List
	chargers registry.List

	mu          conc.Mutex[policyState]
	broadcaster *conc.Broadcaster[Event]
}

type policyState struct {
	currentConsumer   ids.PsuId
	hasCurrentConsumer bool
	unconstrained     bool
}

// NewContext constructs a power policy context.
func NewContext(cfg Config) *Context {
	return &Context{
		log:         logx.New("powerpolicy"),
		cfg:         cfg,
		mu:          *conc.NewMutex(policyState{}),
		broadcaster: &conc.Broadcaster[Event]{},
	}
}

// Subscribe registers fn to receive every broadcast Event; the returned
// func unsubscribes.
func (c *Context) Subscribe(fn func(Event)) func() { return c.broadcaster.Subscribe(fn) }

// RegisterPsu registers psu with the service.
func (c *Context) RegisterPsu(psu *Psu) error { return registry.Push[*Psu](&c.psus, psu) }

// RegisterCharger registers charger with the service.
func (c *Context) RegisterCharger(charger *Charger) error {
	return registry.Push[*Charger](&c.chargers, charger)
}

func (c *Context) getPsu(id ids.PsuId) (*Psu, bool) {
	return registry.FindOnly[*Psu](&c.psus, func(p *Psu) bool { return p.ID == id })
}

func (c *Context) allPsus() []*Psu { return registry.IterOnly[*Psu](&c.psus) }
func (c *Context) allChargers() []*Charger { return registry.IterOnly[*Charger](&c.chargers) }

// CurrentConsumer reports the PSU currently selected as consumer, if any.
func (c *Context) CurrentConsumer() (ids.PsuId, bool) {
	g := c.mu.LockNow()
	defer g.Release()
	state := g.Get()
	return state.currentConsumer, state.hasCurrentConsumer
}

// NotifyAttached transitions psu Detached -> Idle (§3 "transitions from
// Detached are only to Idle").
func (c *Context) NotifyAttached(id ids.PsuId) error {
	psu, ok := c.getPsu(id)
	if !ok {
		return fmt.Errorf("powerpolicy: unknown PSU %d", id)
	}
	if psu.state != StateDetached {
		c.log.Warn("NotifyAttached on PSU %d already in state %s; coercing to Idle", id, psu.state)
	}
	psu.attach()
	return nil
}

// NotifyDetached clears psu's capabilities and returns it to Detached,
// then re-runs consumer selection (the detached PSU can no longer be
// selected).
func (c *Context) NotifyDetached(id ids.PsuId) error {
	psu, ok := c.getPsu(id)
	if !ok {
		return fmt.Errorf("powerpolicy: unknown PSU %d", id)
	}
	wasCurrent := psu.isCurrentConsumer
	psu.detach()

	if wasCurrent {
		g := c.mu.LockNow()
		g.Set(policyState{})
		g.Release()
		c.broadcast(Event{Kind: EventConsumerDisconnected, PsuID: id})
	}
	return c.selectConsumer()
}

// NotifySinkPowerCapability records a freshly reported consumer
// capability for psu and re-runs consumer selection.
func (c *Context) NotifySinkPowerCapability(id ids.PsuId, cap ids.ConsumerPowerCapability) error {
	psu, ok := c.getPsu(id)
	if !ok {
		return fmt.Errorf("powerpolicy: unknown PSU %d", id)
	}
	psu.noteConsumerCapability(cap)
	return c.selectConsumer()
}

// selectConsumer implements §4.5 "Consumer selection": pick the best
// attached PSU by (power_mW, is_current_consumer), switch if it differs
// from the incumbent, and mediate chargers against the result.
func (c *Context) selectConsumer() error {
	var best *Psu
	for _, psu := range c.allPsus() {
		if psu.state == StateDetached {
			continue
		}
		cap := psu.consumerCap
		if c.cfg.MinConsumerThresholdMw > 0 && cap.PowerMw() < c.cfg.MinConsumerThresholdMw {
			continue
		}
		if best == nil || isBetterConsumer(psu, best) {
			best = psu
		}
	}

	g := c.mu.LockNow()
	state := g.Get()
	g.Release()

	if best == nil {
		// No PSU can serve as consumer: chargers must see a zero
		// capability rather than keep whatever was last mediated (§4.5
		// "On detach, send zero capability").
		c.mediateChargers(ids.ConsumerPowerCapability{})
		return nil
	}
	if state.hasCurrentConsumer && state.currentConsumer == best.ID {
		return nil // unchanged
	}

	if state.hasCurrentConsumer {
		if current, ok := c.getPsu(state.currentConsumer); ok {
			if err := current.Proxy.Disconnect(); err != nil {
				c.log.Error("disconnecting PSU %d: %v", current.ID, err)
			}
			current.isCurrentConsumer = false
			if current.state == StateConnectedConsumer {
				current.state = StateIdle
			}
			c.broadcast(Event{Kind: EventConsumerDisconnected, PsuID: current.ID})
		}
		for _, ch := range c.allChargers() {
			if err := ch.Device.CheckReady(); err != nil {
				c.log.Error("charger %d disconnect notice failed: %v", ch.ID, err)
			}
		}
	}

	if best.state != StateIdle {
		c.log.Warn("PSU %d selected as consumer from state %s; coercing to Idle", best.ID, best.state)
		best.state = StateIdle
	}
	if err := best.Proxy.ConnectAsConsumer(best.consumerCap); err != nil {
		return err
	}
	best.state = StateConnectedConsumer
	best.isCurrentConsumer = true

	g = c.mu.LockNow()
	g.Set(policyState{currentConsumer: best.ID, hasCurrentConsumer: true})
	g.Release()

	c.broadcast(Event{Kind: EventConsumerConnected, PsuID: best.ID, Cap: best.consumerCap.PowerCapability})

	c.mediateChargers(best.consumerCap)
	c.updateUnconstrained(best)
	return nil
}

// isBetterConsumer orders candidate over incumbent by (power_mW,
// is_current_consumer) - the incumbent wins ties (§4.5 "breaks ties to
// avoid flapping").
func isBetterConsumer(candidate, incumbent *Psu) bool {
	cp, ip := candidate.consumerCap.PowerMw(), incumbent.consumerCap.PowerMw()
	if cp != ip {
		return cp > ip
	}
	return !incumbent.isCurrentConsumer && candidate.isCurrentConsumer
}

func (c *Context) mediateChargers(cap ids.ConsumerPowerCapability) {
	for _, ch := range c.allChargers() {
		if err := ch.mediate(c.log, cap); err != nil {
			c.log.Error("charger %d mediation failed: %v", ch.ID, err)
		}
	}
}

func (c *Context) updateUnconstrained(current *Psu) {
	unconstrained := current.consumerCap.UnconstrainedPower

	g := c.mu.LockNow()
	state := g.Get()
	changed := state.unconstrained != unconstrained
	state.unconstrained = unconstrained
	g.Set(state)
	g.Release()

	if changed {
		c.broadcast(Event{Kind: EventUnconstrained, Unconstrained: unconstrained})
	}
}

// RequestProviderCapability implements §4.5 "Provider arbitration" for
// requester id: sum requested provider power across all PSUs (with id's
// new request substituted in), classify Limited/Unlimited, grant the
// smaller of the request and the regime's cap, and connect id as
// provider at that grant.
func (c *Context) RequestProviderCapability(id ids.PsuId, requested ids.ProviderPowerCapability) error {
	psu, ok := c.getPsu(id)
	if !ok {
		return fmt.Errorf("powerpolicy: unknown PSU %d", id)
	}

	var total uint32
	for _, p := range c.allPsus() {
		if p.ID == id {
			total += requested.PowerMw()
			continue
		}
		if p.state == StateConnectedProvider {
			total += p.providerCap.PowerMw()
		}
	}

	limited := total > c.cfg.LimitedPowerThresholdMw
	capMw := c.cfg.ProviderUnlimitedMw
	if limited {
		capMw = c.cfg.ProviderLimitedMw
	}

	grantMw := mathx.Min(requested.PowerMw(), capMw)
	grant := requested
	if grantMw < requested.PowerMw() && requested.CurrentMa > 0 {
		// Scale current down to hit the capped power at the same voltage -
		// the voltage rail itself is negotiated, not something this layer
		// changes.
		grant.CurrentMa = uint16(mathx.Clamp(grantMw*1000/uint32(requested.VoltageMv), 0, uint32(requested.CurrentMa)))
	}

	if psu.state != StateIdle && psu.state != StateConnectedProvider {
		c.log.Warn("PSU %d requested as provider from state %s; coercing to Idle", id, psu.state)
		psu.state = StateIdle
	}
	if err := psu.Proxy.ConnectAsProvider(grant); err != nil {
		return err
	}
	psu.state = StateConnectedProvider
	psu.noteProviderRequest(grant)

	c.broadcast(Event{Kind: EventProviderConnected, PsuID: id, Cap: grant.PowerCapability})
	return nil
}

func (c *Context) broadcast(ev Event) { c.broadcaster.Publish(ev) }
