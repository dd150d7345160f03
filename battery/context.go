package battery

import (
	"context"
	"time"

	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/logx"
	"github.com/jangala-dev/ec-services/internal/registry"
)

// Config tunes the state machine's global timeout and NotOperational
// retry budget.
type Config struct {
	StateMachineTimeout time.Duration // default 120s
	NoOpMaxRetries      int           // default 5
}

func (c Config) timeout() time.Duration {
	if c.StateMachineTimeout <= 0 {
		return 120 * time.Second
	}
	return c.StateMachineTimeout
}

func (c Config) maxRetries() int {
	if c.NoOpMaxRetries <= 0 {
		return 5
	}
	return c.NoOpMaxRetries
}

// Context is the battery service's hardware-agnostic state: one state
// machine instance drives any number of registered fuel gauges, all of
// which share the single State value (the DeviceID of an event selects
// the gauge to talk to, not a separate state) - the same simplification the teacher's single-writer HAL loop relies on
// (there is exactly one in-flight event at a time, §5 "CFU for a given
// component is strictly serialized" applies equally here).
type Context struct {
	log *logx.Logger
	cfg Config

	fuelGauges registry.List
	state      conc.Mutex[State]
	retryCount conc.Mutex[int]

	event    *conc.Channel[Event]
	response *conc.Channel[BatteryResponse]
}

// ContextResponse is the §4.4 success response.
type ContextResponse int

const ContextResponseAck ContextResponse = 0

// BatteryResponse is the battery context's outer Result.
type BatteryResponse struct {
	Err  error // *ContextError, or nil on success
	Resp ContextResponse
}

// NewContext constructs a battery Context. cfg's zero value applies the
// §4.4 defaults (120s timeout, 5 retries).
func NewContext(cfg Config) *Context {
	return &Context{
		log:      logx.New("battery"),
		cfg:      cfg,
		state:    *conc.NewMutex(StateNotPresent),
		event:    conc.NewChannel[Event](1),
		response: conc.NewChannel[BatteryResponse](1),
	}
}

// RegisterFuelGauge registers dev with the service. Registering the same
// device twice fails with registry.ErrNodeAlreadyInList (§8 invariant 4).
func (c *Context) RegisterFuelGauge(dev *Device) error {
	return registry.Push[*Device](&c.fuelGauges, dev)
}

func (c *Context) getFuelGauge(id ids.FuelGaugeId) (*Device, bool) {
	return registry.FindOnly[*Device](&c.fuelGauges, func(d *Device) bool { return d.ID == id })
}

// State returns the current top-level state.
func (c *Context) State() State {
	g := c.state.LockNow()
	defer g.Release()
	return g.Get()
}

// WaitEvent blocks until an event has been queued for processing -
// callers driving the service loop select on this alongside whatever
// other event sources the embedding application has.
func (c *Context) WaitEvent(ctx context.Context) (Event, error) {
	return c.event.Receive(ctx)
}

// SendEventNoWait enqueues ev without waiting for a response. It fails if
// the single-slot event channel is already occupied.
func (c *Context) SendEventNoWait(ev Event) bool { return c.event.TrySend(ev) }

// ExecuteEvent runs ev through the state machine and blocks for its
// result - the typical caller-facing entry point (S1/S2 in §8 drive the
// service this way).
func (c *Context) ExecuteEvent(ctx context.Context, ev Event) BatteryResponse {
	return c.Process(ctx, ev)
}

// Run drives the asynchronous entry point: receive one event queued via
// SendEventNoWait, Process it, publish the result, repeat until ctx is
// cancelled. Exactly one event is in flight at a time, per §5's "battery:
// channel receive + per-command execution".
func (c *Context) Run(ctx context.Context) {
	for {
		ev, err := c.event.Receive(ctx)
		if err != nil {
			return
		}
		c.response.TrySend(c.Process(ctx, ev))
	}
}

// Process runs the state machine for a single event under the global
// state-machine timeout. On timeout it dispatches an infallible Timeout
// event to force recovery progress, per §4.4 "Global timeout".
func (c *Context) Process(ctx context.Context, ev Event) BatteryResponse {
	smCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.doStateMachine(smCtx, ev) }()

	select {
	case err := <-done:
		if err != nil {
			c.log.Error("state machine error for event %+v: %v", ev, err)
			if ctxErr, ok := err.(*ContextError); ok {
				return BatteryResponse{Err: ctxErr}
			}
			return BatteryResponse{Err: &ContextError{StateErr: toStateMachineError(err)}}
		}
		return BatteryResponse{Resp: ContextResponseAck}
	case <-smCtx.Done():
		c.log.Error("battery state machine timeout on event %+v", ev)
		// The reentrant Timeout dispatch only applies the state transition -
		// it must be infallible, so it never re-runs a target state's entry
		// action (which could itself block or fail). Per S2, the outer
		// process() call surfaces ContextError::Timeout while state settles
		// at Present(NotOperational).
		g := c.state.LockNow()
		next, _ := handleEvent(c.log, g.Get(), EventTimeout)
		g.Set(next)
		g.Release()
		return BatteryResponse{Err: &ContextError{Timeout: true}}
	}
}

func toStateMachineError(err error) StateMachineError {
	if sme, ok := err.(StateMachineError); ok {
		return sme
	}
	return ErrDeviceError
}

// handleEvent validates ev against the current state and returns the next
// state, per the §4.4 transition table.
func handleEvent(log *logx.Logger, state State, kind EventKind) (State, error) {
	switch kind {
	case EventDoInit:
		if state != StateNotPresent {
			log.Warn("DoInit received outside NotPresent (state=%s); reinitializing", state)
		}
		return StateNotPresent, nil
	case EventPollDynamicData:
		if state != StatePresentOperationalPolling {
			log.Error("PollDynamicData received while not polling (state=%s)", state)
			return state, ErrInvalidActionInState
		}
		return StatePresentOperationalPolling, nil
	case EventPollStaticData:
		if state != StatePresentOperationalInit {
			log.Error("PollStaticData received outside Operational(Init) (state=%s)", state)
			return state, ErrInvalidActionInState
		}
		return StatePresentOperationalInit, nil
	case EventTimeout, EventOEM:
		log.Warn("timeout/OEM event received (state=%s)", state)
		return StatePresentNotOperational, nil
	default:
		return state, ErrInvalidActionInState
	}
}

// doStateMachine applies handleEvent then runs the target state's entry
// action, per the §4.4 action table.
func (c *Context) doStateMachine(ctx context.Context, ev Event) error {
	g := c.state.LockNow()
	cur := g.Get()

	next, err := handleEvent(c.log, cur, ev.Kind)
	if err != nil {
		g.Release()
		return err
	}
	g.Set(next)
	g.Release()

	switch {
	case next == StateNotPresent:
		return c.enterNotPresent(ctx, ev.DeviceID)
	case next == StatePresentNotOperational:
		return c.enterNotOperational(ctx, ev.DeviceID)
	case next == StatePresentOperationalInit:
		return c.enterOperationalInit(ctx, ev.DeviceID)
	case next == StatePresentOperationalPolling && ev.Kind == EventPollDynamicData:
		return c.enterOperationalPolling(ctx, ev.DeviceID)
	default:
		// Operational(Polling) reached via any other path requires no action.
		return nil
	}
}

func (c *Context) enterNotPresent(ctx context.Context, id ids.FuelGaugeId) error {
	dev, ok := c.getFuelGauge(id)
	if !ok {
		return &ContextError{DeviceNotFound: true}
	}
	c.log.Info("initializing fuel gauge %d", id)
	if err := dev.execute(ctx, CmdPing, 0, nil); err != nil {
		c.log.Error("ping failed for fuel gauge %d: %v", id, err)
		return ErrDeviceError
	}
	if err := dev.execute(ctx, CmdInitialize, 0, nil); err != nil {
		c.log.Error("initialize failed for fuel gauge %d: %v", id, err)
		return ErrDeviceError
	}
	g := c.state.LockNow()
	g.Set(StatePresentOperationalInit)
	g.Release()
	return nil
}

// enterNotOperational implements the retry recovery in §4.4 and the Open
// Question note in spec.md §9: the retry counter is seeded to max+1
// *before* the single Ping attempt, so exactly one failed attempt is
// enough to push retryCount past max and force NotPresent.
func (c *Context) enterNotOperational(ctx context.Context, id ids.FuelGaugeId) error {
	dev, ok := c.getFuelGauge(id)
	if !ok {
		return &ContextError{DeviceNotFound: true}
	}

	rg := c.retryCount.LockNow()
	rg.Set(c.cfg.maxRetries() + 1)
	rg.Release()

	err := dev.execute(ctx, CmdPing, 0, nil)
	if err == nil {
		c.log.Info("fuel gauge %d re-established communication", id)
		g := c.state.LockNow()
		g.Set(StatePresentOperationalInit)
		g.Release()
		rg = c.retryCount.LockNow()
		rg.Set(0)
		rg.Release()
		return nil
	}

	c.log.Error("fuel gauge %d failed to ping: %v", id, err)
	rg = c.retryCount.LockNow()
	retries := rg.Get()
	if retries > c.cfg.maxRetries() {
		g := c.state.LockNow()
		g.Set(StateNotPresent)
		g.Release()
	}
	rg.Release()
	return ErrDeviceTimeout
}

func (c *Context) enterOperationalInit(ctx context.Context, id ids.FuelGaugeId) error {
	dev, ok := c.getFuelGauge(id)
	if !ok {
		return &ContextError{DeviceNotFound: true}
	}
	c.log.Info("collecting static cache for fuel gauge %d", id)
	if err := dev.execute(ctx, CmdUpdateStaticCache, 0, nil); err != nil {
		c.log.Error("static cache update failed for fuel gauge %d: %v", id, err)
		return ErrDeviceError
	}
	g := c.state.LockNow()
	g.Set(StatePresentOperationalPolling)
	g.Release()
	return nil
}

func (c *Context) enterOperationalPolling(ctx context.Context, id ids.FuelGaugeId) error {
	dev, ok := c.getFuelGauge(id)
	if !ok {
		return &ContextError{DeviceNotFound: true}
	}
	c.log.Info("collecting dynamic cache for fuel gauge %d", id)
	if err := dev.execute(ctx, CmdUpdateDynamicCache, 0, nil); err != nil {
		c.log.Error("dynamic cache update failed for fuel gauge %d: %v", id, err)
		return ErrDeviceError
	}
	return nil
}
