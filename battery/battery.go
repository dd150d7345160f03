// Package battery implements the battery-service state machine (§4.4): a
// single state machine shared by every registered fuel gauge (an event
// for any gauge moves that one State; state is not kept per gauge),
// single-shot event dispatch against a global timeout, with retry
// semantics recovering a fuel gauge that has stopped responding.
package battery

import (
	"context"
	"fmt"
	"time"

	"github.com/jangala-dev/ec-services/errcode"
	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/registry"
	"github.com/jangala-dev/ec-services/x/mathx"
)

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// OperationalSubstate is the substate of Present(Operational(...)).
type OperationalSubstate int

const (
	OperationalInit OperationalSubstate = iota
	OperationalPolling
)

func (s OperationalSubstate) String() string {
	if s == OperationalInit {
		return "Init"
	}
	return "Polling"
}

// PresentSubstate is the substate of Present(...).
type PresentSubstate struct {
	NotOperational bool
	Operational    OperationalSubstate // meaningful only when !NotOperational
}

// State is the top-level battery state (§3 "Battery state").
type State struct {
	Present    bool
	PresentSub PresentSubstate
}

var (
	StateNotPresent                = State{Present: false}
	StatePresentNotOperational      = State{Present: true, PresentSub: PresentSubstate{NotOperational: true}}
	StatePresentOperationalInit     = State{Present: true, PresentSub: PresentSubstate{Operational: OperationalInit}}
	StatePresentOperationalPolling  = State{Present: true, PresentSub: PresentSubstate{Operational: OperationalPolling}}
)

func (s State) String() string {
	if !s.Present {
		return "NotPresent"
	}
	if s.PresentSub.NotOperational {
		return "Present(NotOperational)"
	}
	return fmt.Sprintf("Present(Operational(%s))", s.PresentSub.Operational)
}

// ---------------------------------------------------------------------------
// Events, commands, errors
// ---------------------------------------------------------------------------

// EventKind is the external battery state machine event (§4.4).
type EventKind int

const (
	EventDoInit EventKind = iota
	EventPollDynamicData
	EventPollStaticData
	EventTimeout
	EventOEM
)

// Event wraps an EventKind for a specific fuel gauge, plus OEM payload
// when EventKind is EventOEM.
type Event struct {
	Kind       EventKind
	DeviceID   ids.FuelGaugeId
	OEMVendor  uint8
	OEMPayload []byte
}

// Command is sent from the state machine to the Device's driver.
type Command int

const (
	CmdPing Command = iota
	CmdInitialize
	CmdUpdateStaticCache
	CmdUpdateDynamicCache
	CmdOEM
)

// StateMachineError is the §4.4 state-machine error taxonomy.
type StateMachineError string

func (e StateMachineError) Error() string { return string(e) }

const (
	ErrDeviceTimeout       StateMachineError = "battery: device timeout"
	ErrDeviceError         StateMachineError = "battery: device error"
	ErrInvalidActionInState StateMachineError = "battery: invalid action in state"
)

// ContextError wraps StateMachineError with the context-level error kinds.
type ContextError struct {
	DeviceNotFound bool
	Timeout        bool
	StateErr       StateMachineError // set iff !DeviceNotFound && !Timeout
}

func (e *ContextError) Error() string {
	switch {
	case e.DeviceNotFound:
		return string(errcode.DeviceNotFound)
	case e.Timeout:
		return string(errcode.Timeout)
	default:
		return e.StateErr.Error()
	}
}

// ---------------------------------------------------------------------------
// Static/dynamic cache (§6 battery MCTP payload schemas)
// ---------------------------------------------------------------------------

// StaticBatteryMsgs mirrors the ACPI battery static information block.
type StaticBatteryMsgs struct {
	DesignCapacityMWh  uint32
	FullChargeMWh      uint32
	DesignVoltageMv    uint16
	ManufacturerName   [21]byte
	DeviceName         [21]byte
	DeviceChemistry    [5]byte
	SerialNum          [4]byte
}

// DynamicBatteryMsgs mirrors the ACPI battery dynamic status block.
type DynamicBatteryMsgs struct {
	VoltageMv       uint16
	CurrentMa       int16
	ChargeCapacityMWh uint32
	TemperatureDk   uint16
	CycleCount      uint16

	// RelativeSocPct is ChargeCapacityMWh expressed as a percentage of
	// the fuel gauge's FullChargeMWh - the smart-battery
	// relative_state_of_charge reading dropped from the distilled wire
	// schema. 0 when FullChargeMWh is unknown (no static cache yet).
	RelativeSocPct uint8
}

// withRelativeSoc fills in RelativeSocPct from full, rounding to the
// nearest percent (§6 battery MCTP payload schemas).
func withRelativeSoc(dyn DynamicBatteryMsgs, full uint32) DynamicBatteryMsgs {
	if full == 0 {
		return dyn
	}
	pct := mathx.RoundDiv(dyn.ChargeCapacityMWh*100, full)
	dyn.RelativeSocPct = uint8(mathx.Clamp(pct, 0, 100))
	return dyn
}

// ---------------------------------------------------------------------------
// FuelGauge driver contract (external collaborator)
// ---------------------------------------------------------------------------

// FuelGauge is the hardware-facing driver contract a registered Device
// wraps. Out of scope per §1 ("hardware device drivers"); this interface
// is the CORE's boundary onto that driver.
type FuelGauge interface {
	Ping(ctx context.Context) error
	Initialize(ctx context.Context) error
	UpdateStaticCache(ctx context.Context) (StaticBatteryMsgs, error)
	UpdateDynamicCache(ctx context.Context) (DynamicBatteryMsgs, error)
	OEM(ctx context.Context, vendor uint8, payload []byte) error
}

// ---------------------------------------------------------------------------
// Device
// ---------------------------------------------------------------------------

// Device is a registered fuel gauge: an intrusive registry record wrapping
// a FuelGauge driver plus its per-device command timeout.
type Device struct {
	node registry.Node

	ID      ids.FuelGaugeId
	Driver  FuelGauge
	Timeout time.Duration // default 1s if zero

	staticMu  conc.Mutex[StaticBatteryMsgs]
	dynamicMu conc.Mutex[DynamicBatteryMsgs]
}

// NewDevice constructs a fuel-gauge registration for the given driver.
func NewDevice(id ids.FuelGaugeId, driver FuelGauge) *Device {
	return &Device{ID: id, Driver: driver, Timeout: time.Second}
}

func (d *Device) Node() *registry.Node { return &d.node }

// StaticCache returns the most recently cached static data.
func (d *Device) StaticCache() StaticBatteryMsgs {
	g := d.staticMu.LockNow()
	defer g.Release()
	return g.Get()
}

// DynamicCache returns the most recently cached dynamic data.
func (d *Device) DynamicCache() DynamicBatteryMsgs {
	g := d.dynamicMu.LockNow()
	defer g.Release()
	return g.Get()
}

// execute runs cmd against the driver, under d.Timeout.
func (d *Device) execute(ctx context.Context, cmd Command, oemVendor uint8, oemPayload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	switch cmd {
	case CmdPing:
		return d.Driver.Ping(ctx)
	case CmdInitialize:
		return d.Driver.Initialize(ctx)
	case CmdUpdateStaticCache:
		cache, err := d.Driver.UpdateStaticCache(ctx)
		if err != nil {
			return err
		}
		g := d.staticMu.LockNow()
		g.Set(cache)
		g.Release()
		return nil
	case CmdUpdateDynamicCache:
		cache, err := d.Driver.UpdateDynamicCache(ctx)
		if err != nil {
			return err
		}
		cache = withRelativeSoc(cache, d.StaticCache().FullChargeMWh)
		g := d.dynamicMu.LockNow()
		g.Set(cache)
		g.Release()
		return nil
	case CmdOEM:
		return d.Driver.OEM(ctx, oemVendor, oemPayload)
	default:
		return fmt.Errorf("battery: unknown command %d", cmd)
	}
}

func (d *Device) timeout() time.Duration {
	if d.Timeout <= 0 {
		return time.Second
	}
	return d.Timeout
}
