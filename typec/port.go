package typec

import (
	"context"
	"time"

	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/registry"
	"github.com/jangala-dev/ec-services/powerpolicy"
)

// MaxBufferedPdAlerts is the PD-alert pub/sub's default capacity (§3).
const MaxBufferedPdAlerts = 4

// portState is the mutable, mutex-guarded part of a Port record (§3
// "Per-port type-C record"): cached status, accumulated pending events,
// and the sink-ready deadline.
type portState struct {
	status            PortStatus
	pending           PortEvent
	sinkReadyDeadline time.Time
	hasDeadline       bool
	psuID             ids.PsuId
	psuAttached       bool
}

// Port is a single type-C port owned by a Wrapper: cached controller
// state, a bounded PD-alert pub/sub, and the power-proxy side the power
// policy service drives.
type Port struct {
	node registry.Node

	Local  ids.LocalPortId
	Global ids.GlobalPortId

	wrapper *Wrapper

	state  conc.Mutex[portState]
	alerts *conc.PubSub[Alert]

	subOnce conc.OnceLock[*conc.PubSubSubscriber[Alert]]
}

func newPort(local ids.LocalPortId, global ids.GlobalPortId, psu ids.PsuId, w *Wrapper) *Port {
	return &Port{
		Local:   local,
		Global:  global,
		wrapper: w,
		state:   *conc.NewMutex(portState{psuID: psu}),
		alerts:  conc.NewPubSub[Alert](MaxBufferedPdAlerts),
	}
}

// Node satisfies registry.NodeContainer so a Wrapper can keep its ports on
// an append-only registry.List, consistent with every other CORE service.
func (p *Port) Node() *registry.Node { return &p.node }

// Status returns the last cached PortStatus.
func (p *Port) Status() PortStatus {
	g := p.state.LockNow()
	defer g.Release()
	return g.Get().status
}

// GetPdAlert drains the oldest buffered PD alert without blocking (§4.6
// "PD alert retrieval"). A lagged subscriber's skipped count is reported
// for the caller to log; the fabric itself does not retry.
func (p *Port) GetPdAlert() (alert Alert, lagged conc.Lagged, ok bool) {
	return p.alertSub().TryReceive()
}

func (p *Port) alertSub() *conc.PubSubSubscriber[Alert] {
	// A single long-lived subscriber per port, created on first use -
	// matching §3's "one subscriber" shape for a single consuming
	// service per port.
	return p.subOnce.GetOrInit(func() *conc.PubSubSubscriber[Alert] { return p.alerts.Subscribe() })
}

// ---------------------------------------------------------------------------
// powerpolicy.Proxy implementation (§4.6 "Power proxy command handling")
// ---------------------------------------------------------------------------

var _ powerpolicy.Proxy = (*Port)(nil)

func (p *Port) ConnectAsConsumer(cap ids.ConsumerPowerCapability) error {
	return p.wrapper.controller.EnableSinkPath(context.Background(), p.Local, true)
}

func (p *Port) ConnectAsProvider(cap ids.ProviderPowerCapability) error {
	return p.wrapper.controller.SetProviderCapability(context.Background(), p.Local, cap)
}

func (p *Port) Disconnect() error {
	return p.wrapper.controller.EnableSinkPath(context.Background(), p.Local, false)
}

// attachPsu/detachPsu notify the power policy service of a plug event
// (§4.6 step 4). Recovery is tolerant of out-of-state PSU proxies: a
// detach is always safe to send even if the service's record disagrees.
func (p *Port) attachPsu() error {
	g := p.state.LockNow()
	st := g.Get()
	st.psuAttached = true
	g.Set(st)
	g.Release()
	return p.wrapper.policy.NotifyAttached(p.psuID())
}

func (p *Port) detachPsu() error {
	g := p.state.LockNow()
	st := g.Get()
	st.psuAttached = false
	st.hasDeadline = false
	g.Set(st)
	g.Release()
	return p.wrapper.policy.NotifyDetached(p.psuID())
}

func (p *Port) psuID() ids.PsuId {
	g := p.state.LockNow()
	defer g.Release()
	return g.Get().psuID
}

// psuAttached reports whether the last attach/detach notification sent
// to the power policy service was an attach.
func (p *Port) psuAttached() bool {
	g := p.state.LockNow()
	defer g.Release()
	return g.Get().psuAttached
}

// startSinkReadyTimeout sets the sink-ready deadline 2x tPSTransition from
// now, per §4.6 "Sink-ready timeout".
func (p *Port) startSinkReadyTimeout(epr bool) {
	transitionMs := TPsTransitionSpr
	if epr {
		transitionMs = TPsTransitionEpr
	}
	deadline := time.Now().Add(2 * time.Duration(transitionMs) * time.Millisecond)

	g := p.state.LockNow()
	st := g.Get()
	st.sinkReadyDeadline = deadline
	st.hasDeadline = true
	g.Set(st)
	g.Release()
}

// clearSinkReadyTimeout clears any pending sink-ready deadline.
func (p *Port) clearSinkReadyTimeout() {
	g := p.state.LockNow()
	st := g.Get()
	st.hasDeadline = false
	g.Set(st)
	g.Release()
}

// sinkReadyDeadline reports the currently armed deadline, if any.
func (p *Port) sinkReadyDeadline() (time.Time, bool) {
	g := p.state.LockNow()
	defer g.Release()
	st := g.Get()
	return st.sinkReadyDeadline, st.hasDeadline
}

func (p *Port) setStatus(status PortStatus) {
	g := p.state.LockNow()
	st := g.Get()
	st.status = status
	g.Set(st)
	g.Release()
}
