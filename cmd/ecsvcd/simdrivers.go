// Inert hardware-boundary stand-ins, in the style of the teacher
// platform's own host factories (services/hal/internal/platform/
// factories_host.go: "No emulation necessary for current tests."): every
// CORE hardware interface (FuelGauge, ChargerDevice, typec.Controller,
// cfu.Device) is out of scope per §1, so this binary links the most
// boring implementation that satisfies each contract well enough to
// drive the services end to end without real silicon.
package main

import (
	"context"
	"sync"
	"time"

	"github.com/jangala-dev/ec-services/battery"
	"github.com/jangala-dev/ec-services/cfu"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/powerpolicy"
	"github.com/jangala-dev/ec-services/timealarm"
	"github.com/jangala-dev/ec-services/typec"
)

// inertFuelGauge answers every battery driver call successfully with
// fixed sample data.
type inertFuelGauge struct{}

func (inertFuelGauge) Ping(ctx context.Context) error       { return nil }
func (inertFuelGauge) Initialize(ctx context.Context) error { return nil }

func (inertFuelGauge) UpdateStaticCache(ctx context.Context) (battery.StaticBatteryMsgs, error) {
	msgs := battery.StaticBatteryMsgs{DesignCapacityMWh: 50000, FullChargeMWh: 48000, DesignVoltageMv: 11100}
	copy(msgs.ManufacturerName[:], "sim")
	copy(msgs.DeviceName[:], "sim-cell")
	copy(msgs.DeviceChemistry[:], "LION")
	return msgs, nil
}

func (inertFuelGauge) UpdateDynamicCache(ctx context.Context) (battery.DynamicBatteryMsgs, error) {
	return battery.DynamicBatteryMsgs{VoltageMv: 11000, CurrentMa: -500, ChargeCapacityMWh: 32000, TemperatureDk: 2981, CycleCount: 12}, nil
}

func (inertFuelGauge) OEM(ctx context.Context, vendor uint8, payload []byte) error { return nil }

var _ battery.FuelGauge = inertFuelGauge{}

// inertCharger accepts every policy configuration without ever reporting
// itself unpowered.
type inertCharger struct{}

func (inertCharger) PolicyConfiguration(cap ids.ConsumerPowerCapability) (powerpolicy.ChargerResponse, error) {
	return powerpolicy.ChargerAck, nil
}
func (inertCharger) CheckReady() error  { return nil }
func (inertCharger) InitRequest() error { return nil }

var _ powerpolicy.ChargerDevice = inertCharger{}

// acceptAllValidator accepts every CFU firmware offer unconditionally.
type acceptAllValidator struct{}

func (acceptAllValidator) ValidateOffer(componentVersion uint32) typec.FwOfferDecision {
	return typec.FwOfferAccept
}

var _ typec.FwOfferValidator = acceptAllValidator{}

// inertController is a typec.Controller with no ports that ever actually
// transition: WaitPortEvent blocks until cancelled, every other call is a
// no-op success. It exists so Wrapper.Run has something to select against.
type inertController struct {
	mu     sync.Mutex
	status map[ids.LocalPortId]typec.PortStatus
}

func newInertController() *inertController {
	return &inertController{status: map[ids.LocalPortId]typec.PortStatus{}}
}

func (c *inertController) SyncState(ctx context.Context) error { return nil }

func (c *inertController) WaitPortEvent(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *inertController) ClearPortEvents(ctx context.Context, port ids.LocalPortId) (typec.PortEvent, error) {
	return 0, nil
}

func (c *inertController) GetPortStatus(ctx context.Context, port ids.LocalPortId, cached bool) (typec.PortStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status[port], nil
}

func (c *inertController) EnableSinkPath(ctx context.Context, port ids.LocalPortId, enable bool) error {
	return nil
}

func (c *inertController) SetProviderCapability(ctx context.Context, port ids.LocalPortId, cap ids.ProviderPowerCapability) error {
	return nil
}

func (c *inertController) GetControllerStatus(ctx context.Context) (string, error) { return "sim", nil }

func (c *inertController) GetRtFwUpdateStatus(ctx context.Context) (typec.FwUpdateStatus, error) {
	return typec.FwUpdateStatus{}, nil
}

func (c *inertController) SetRtFwUpdateState(ctx context.Context, inProgress bool) error { return nil }
func (c *inertController) SetRtCompliance(ctx context.Context) error                     { return nil }

func (c *inertController) GetPdAlert(ctx context.Context, port ids.LocalPortId) (typec.Alert, bool, error) {
	return typec.Alert{}, false, nil
}

func (c *inertController) ExecuteUcsi(ctx context.Context, cmd typec.UcsiCommand) (typec.UcsiResponse, error) {
	return typec.UcsiResponse{}, nil
}

func (c *inertController) GetActiveFwVersion(ctx context.Context) (uint32, error) { return 1, nil }
func (c *inertController) StartFwUpdate(ctx context.Context) error                { return nil }
func (c *inertController) AbortFwUpdate(ctx context.Context) error                { return nil }
func (c *inertController) FinalizeFwUpdate(ctx context.Context) error             { return nil }
func (c *inertController) WriteFwContents(ctx context.Context, offset uint32, data []byte) error {
	return nil
}

var _ typec.Controller = (*inertController)(nil)

// inertCfuDevice acknowledges every CFU request shape-correctly without
// touching any real firmware image.
type inertCfuDevice struct {
	version uint32
}

func (d *inertCfuDevice) Process(ctx context.Context, req cfu.RequestData) (cfu.InternalResponseData, error) {
	switch req.Kind {
	case cfu.RequestFwVersion:
		return cfu.InternalResponseData{Kind: cfu.ResponseFwVersion, FwVersion: d.version}, nil
	case cfu.RequestGiveOffer:
		return cfu.InternalResponseData{Kind: cfu.ResponseOffer, Offer: cfu.OfferAccept}, nil
	case cfu.RequestGiveContent:
		return cfu.InternalResponseData{Kind: cfu.ResponseContent, Seq: req.Content.Header.SequenceNum, ContentRes: cfu.ContentAccepted}, nil
	case cfu.RequestAbortUpdate, cfu.RequestFinalizeUpdate:
		return cfu.InternalResponseData{Kind: cfu.ResponseAck}, nil
	default:
		return cfu.InternalResponseData{Kind: cfu.ResponseAck}, nil
	}
}

var _ cfu.Device = (*inertCfuDevice)(nil)

// systemClock is the one Clock implementation that actually reads the
// wall clock, across timealarm's injected-Clock boundary; timealarm
// itself never calls time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var _ timealarm.Clock = systemClock{}

// memNvram is a volatile, process-lifetime NVRAM: real persistence is a
// hardware boundary out of scope here, but the five-slot shape is
// identical to what an EEPROM-backed implementation would expose.
type memNvram struct {
	mu    sync.Mutex
	slots [5]uint32
}

func newMemNvram() *memNvram {
	n := &memNvram{}
	n.slots[timealarm.SlotAcExpiration] = timealarm.Disabled
	n.slots[timealarm.SlotDcExpiration] = timealarm.Disabled
	return n
}

func (n *memNvram) ReadSlot(id timealarm.NvramSlot) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.slots[id], nil
}

func (n *memNvram) WriteSlot(id timealarm.NvramSlot, value uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slots[id] = value
	return nil
}

var _ timealarm.NVRAM = (*memNvram)(nil)
