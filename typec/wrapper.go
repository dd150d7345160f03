package typec

import (
	"context"
	"time"

	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/logx"
	"github.com/jangala-dev/ec-services/internal/registry"
	"github.com/jangala-dev/ec-services/powerpolicy"
)

// Wrapper is the type-C/PD controller wrapper (§4.6): one cooperative
// event loop per physical controller, owning every port behind it, its
// PD-alert fan-out, and the CFU firmware-update sub-state-machine.
type Wrapper struct {
	log       *logx.Logger
	controller Controller
	policy    *powerpolicy.Context
	validator FwOfferValidator

	ports registry.List

	fwUpdate conc.Mutex[fwMachine]

	// portEvents is the service-level aggregate PortEventFlags fan-out
	// (§4.6 "notify the service registry of the aggregate
	// PortEventFlags"), published once per IRQ iteration.
	portEvents *conc.PubSub[PortEventFlags]

	background context.Context
}

// MaxBufferedPortEventFlags is the PortEventFlags pub/sub's default
// capacity, matching Port's own PD-alert pub/sub sizing.
const MaxBufferedPortEventFlags = 4

// NewWrapper constructs a wrapper around controller, driving psuID
// attach/detach notifications through policy and running firmware offers
// past validator.
func NewWrapper(controller Controller, policy *powerpolicy.Context, validator FwOfferValidator) *Wrapper {
	return &Wrapper{
		log:        logx.New("typec"),
		controller: controller,
		policy:     policy,
		validator:  validator,
		fwUpdate:   *conc.NewMutex(fwMachine{state: fwIdle}),
		portEvents: conc.NewPubSub[PortEventFlags](MaxBufferedPortEventFlags),
		background: context.Background(),
	}
}

// SubscribePortEvents returns a subscriber receiving the aggregate
// PortEventFlags published after each IRQ iteration - the delivery
// mechanism for §4.6's service-registry notification.
func (w *Wrapper) SubscribePortEvents() *conc.PubSubSubscriber[PortEventFlags] {
	return w.portEvents.Subscribe()
}

func (w *Wrapper) ctx() context.Context { return w.background }

// RegisterPort adds a port to the wrapper, backing the PSU identified by
// psu for the power policy service.
func (w *Wrapper) RegisterPort(local ids.LocalPortId, global ids.GlobalPortId, psu ids.PsuId) (*Port, error) {
	p := newPort(local, global, psu, w)
	if err := registry.Push[*Port](&w.ports, p); err != nil {
		return nil, err
	}
	if err := w.SyncState(w.ctx()); err != nil {
		w.log.Error("SyncState on port %d registration: %v", local, err)
	}
	return p, nil
}

// SyncState replays hardware state into every registered port's record
// and seeds power-proxy state accordingly (§4.6 "Sync with hardware").
// The wrapper runs it once per RegisterPort call, and it is re-run
// verbatim whenever the host issues an external SyncState command.
func (w *Wrapper) SyncState(ctx context.Context) error {
	if err := w.controller.SyncState(ctx); err != nil {
		return err
	}
	for _, port := range w.allPorts() {
		status, err := w.controller.GetPortStatus(ctx, port.Local, false)
		if err != nil {
			w.log.Error("GetPortStatus(%d) during sync: %v", port.Local, err)
			continue
		}

		connected := status.Connection == ConnectionConnected
		switch {
		case connected && !port.psuAttached():
			if err := port.attachPsu(); err != nil {
				w.log.Error("attachPsu port %d during sync: %v", port.Local, err)
			}
		case !connected && port.psuAttached():
			if err := port.detachPsu(); err != nil {
				w.log.Error("detachPsu port %d during sync: %v", port.Local, err)
			}
		}
		port.setStatus(status)
	}
	return nil
}

func (w *Wrapper) allPorts() []*Port { return registry.IterOnly[*Port](&w.ports) }

func (w *Wrapper) portByLocal(local ids.LocalPortId) (*Port, bool) {
	return registry.FindOnly[*Port](&w.ports, func(p *Port) bool { return p.Local == local })
}

func (w *Wrapper) portByGlobal(global ids.GlobalPortId) (*Port, bool) {
	return registry.FindOnly[*Port](&w.ports, func(p *Port) bool { return p.Global == global })
}

func (w *Wrapper) localPort(global ids.GlobalPortId) (ids.LocalPortId, bool) {
	p, ok := w.portByGlobal(global)
	if !ok {
		return 0, false
	}
	return p.Local, true
}

func (w *Wrapper) globalPort(local ids.LocalPortId) (ids.GlobalPortId, bool) {
	p, ok := w.portByLocal(local)
	if !ok {
		return 0, false
	}
	return p.Global, true
}

// Run drives the wrapper's cooperative event loop until ctx is done: a
// single select per iteration over the controller's next port-event
// interrupt, the CFU inactivity ticker, and the earliest armed sink-ready
// deadline across every port (§4.6 "Event loop").
func (w *Wrapper) Run(ctx context.Context) {
	irq := w.watchPortEvents(ctx)
	ticker, stopTicker := cfuTicker()
	defer stopTicker()

	for {
		deadlineCh := w.nextSinkReadyTimer()

		select {
		case <-ctx.Done():
			return
		case <-irq:
			w.handlePortEvents(ctx)
		case <-ticker.Recv():
			w.tickFwUpdate(ctx)
		case <-deadlineCh:
			w.handleSinkReadyTimeouts()
		}
	}
}

// watchPortEvents runs controller.WaitPortEvent in a background goroutine
// for the wrapper's lifetime, coalescing interrupts onto a capacity-1
// channel so a burst of hardware IRQs collapses to one loop iteration.
func (w *Wrapper) watchPortEvents(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		for {
			if err := w.controller.WaitPortEvent(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Warn("WaitPortEvent: %v", err)
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// handlePortEvents implements §4.6's per-port event procedure. While a FW
// update is in progress PD port-event processing is deferred entirely;
// power-proxy commands remain serviceable regardless since they are
// handled synchronously on Port, outside this loop.
func (w *Wrapper) handlePortEvents(ctx context.Context) {
	if w.fwUpdateInProgress() {
		return
	}

	var pending PortEventFlags
	for _, port := range w.allPorts() {
		events, err := w.controller.ClearPortEvents(ctx, port.Local)
		if err != nil {
			w.log.Error("ClearPortEvents(%d): %v", port.Local, err)
			continue
		}
		if events == 0 {
			continue
		}
		pending.Add(port.Global)

		status, err := w.controller.GetPortStatus(ctx, port.Local, false)
		if err != nil {
			w.log.Error("GetPortStatus(%d): %v", port.Local, err)
			continue
		}
		prev := port.Status()

		if events.Has(EventPlugInsertedOrRemoved) {
			switch {
			case status.Connection == ConnectionConnected && prev.Connection != ConnectionConnected:
				if err := port.attachPsu(); err != nil {
					w.log.Error("attachPsu port %d: %v", port.Local, err)
				}
			case status.Connection != ConnectionConnected && prev.Connection == ConnectionConnected:
				if err := port.detachPsu(); err != nil {
					w.log.Error("detachPsu port %d: %v", port.Local, err)
				}
			}
		}

		if events.Has(EventNewPowerContractAsConsumer) {
			port.startSinkReadyTimeout(status.Epr)
			if err := w.policy.NotifySinkPowerCapability(port.psuID(), ids.ConsumerPowerCapability{
				PowerCapability:    status.AvailableSinkContract,
				UnconstrainedPower: false,
			}); err != nil {
				w.log.Error("NotifySinkPowerCapability port %d: %v", port.Local, err)
			}
		}

		if events.Has(EventNewPowerContractAsProvider) {
			// The port sourcing power is a terminal success state for this
			// event; no sink-ready deadline applies to a provider role.
			port.clearSinkReadyTimeout()
		}

		if events.Has(EventSinkReady) {
			port.clearSinkReadyTimeout()
		}

		if events.Has(EventDpStatusUpdated) {
			w.log.Debug("port %d DP status updated", port.Local)
		}

		if events.Has(EventAlert) || events.Has(EventAttention) {
			if alert, ok, err := w.controller.GetPdAlert(ctx, port.Local); err != nil {
				w.log.Error("GetPdAlert(%d): %v", port.Local, err)
			} else if ok {
				port.alerts.Publish(alert)
			}
		}

		port.setStatus(status)
	}

	if pending != 0 {
		w.portEvents.Publish(pending)
	}
}

// nextSinkReadyTimer returns a channel that fires at the earliest armed
// sink-ready deadline across every port, or nil (blocks forever) if none
// is armed.
func (w *Wrapper) nextSinkReadyTimer() <-chan time.Time {
	var earliest time.Time
	found := false
	for _, port := range w.allPorts() {
		deadline, ok := port.sinkReadyDeadline()
		if !ok {
			continue
		}
		if !found || deadline.Before(earliest) {
			earliest = deadline
			found = true
		}
	}
	if !found {
		return nil
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	return time.After(d)
}

// handleSinkReadyTimeouts clears any port whose sink-ready deadline has
// elapsed, advancing it at most once per missed sink_ready (invariant 3):
// clearing the deadline here is what prevents the same miss from firing
// again on the next iteration.
func (w *Wrapper) handleSinkReadyTimeouts() {
	now := time.Now()
	for _, port := range w.allPorts() {
		deadline, ok := port.sinkReadyDeadline()
		if !ok || deadline.After(now) {
			continue
		}
		w.log.Warn("port %d missed sink_ready deadline", port.Local)
		port.clearSinkReadyTimeout()
	}
}
