package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/registry"
)

// mockGauge is a scriptable FuelGauge used to drive the state machine
// through its happy path and failure modes without real hardware.
type mockGauge struct {
	mu sync.Mutex

	pingErr   error
	pingDelay time.Duration
	initErr   error

	staticMsgs StaticBatteryMsgs
	staticErr  error

	dynamicMsgs DynamicBatteryMsgs
	dynamicErr  error

	pings int
}

func (m *mockGauge) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.pings++
	delay := m.pingDelay
	err := m.pingErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *mockGauge) Initialize(ctx context.Context) error { return m.initErr }

func (m *mockGauge) UpdateStaticCache(ctx context.Context) (StaticBatteryMsgs, error) {
	return m.staticMsgs, m.staticErr
}

func (m *mockGauge) UpdateDynamicCache(ctx context.Context) (DynamicBatteryMsgs, error) {
	return m.dynamicMsgs, m.dynamicErr
}

func (m *mockGauge) OEM(ctx context.Context, vendor uint8, payload []byte) error { return nil }

const testGaugeID ids.FuelGaugeId = 1

func newTestContext(t *testing.T, gauge *mockGauge) *Context {
	t.Helper()
	c := NewContext(Config{})
	dev := NewDevice(testGaugeID, gauge)
	dev.Timeout = 50 * time.Millisecond
	if err := c.RegisterFuelGauge(dev); err != nil {
		t.Fatalf("register fuel gauge: %v", err)
	}
	return c
}

// S1: DoInit brings a healthy gauge to Operational(Init); PollStaticData
// advances it to Operational(Polling); PollDynamicData then stays there
// and refreshes the dynamic cache.
func TestHappyPathReachesPolling(t *testing.T) {
	gauge := &mockGauge{
		staticMsgs:  StaticBatteryMsgs{DesignVoltageMv: 11100},
		dynamicMsgs: DynamicBatteryMsgs{VoltageMv: 11050},
	}
	c := newTestContext(t, gauge)
	ctx := context.Background()

	resp := c.ExecuteEvent(ctx, Event{Kind: EventDoInit, DeviceID: testGaugeID})
	if resp.Err != nil {
		t.Fatalf("DoInit: %v", resp.Err)
	}
	if got := c.State(); got != StatePresentOperationalInit {
		t.Fatalf("after DoInit: expected Operational(Init), got %s", got)
	}

	resp = c.ExecuteEvent(ctx, Event{Kind: EventPollStaticData, DeviceID: testGaugeID})
	if resp.Err != nil {
		t.Fatalf("PollStaticData: %v", resp.Err)
	}
	if got := c.State(); got != StatePresentOperationalPolling {
		t.Fatalf("after PollStaticData: expected Operational(Polling), got %s", got)
	}

	if dev, ok := c.getFuelGauge(testGaugeID); ok {
		if diff := cmp.Diff(gauge.staticMsgs, dev.StaticCache()); diff != "" {
			t.Fatalf("static cache mismatch (-want +got):\n%s", diff)
		}
	}

	resp = c.ExecuteEvent(ctx, Event{Kind: EventPollDynamicData, DeviceID: testGaugeID})
	if resp.Err != nil {
		t.Fatalf("PollDynamicData: %v", resp.Err)
	}
	if got := c.State(); got != StatePresentOperationalPolling {
		t.Fatalf("after PollDynamicData: expected still Operational(Polling), got %s", got)
	}

	dev, ok := c.getFuelGauge(testGaugeID)
	if !ok {
		t.Fatalf("fuel gauge not found")
	}
	if cache := dev.DynamicCache(); cache.VoltageMv != 11050 {
		t.Fatalf("dynamic cache not updated: %+v", cache)
	}
}

// PollStaticData is rejected outside Operational(Init).
func TestPollStaticDataRejectedFromWrongState(t *testing.T) {
	gauge := &mockGauge{}
	c := newTestContext(t, gauge)
	ctx := context.Background()

	resp := c.ExecuteEvent(ctx, Event{Kind: EventPollStaticData, DeviceID: testGaugeID})
	if resp.Err == nil {
		t.Fatalf("expected error, got none (state=%s)", c.State())
	}
}

// An event naming an unregistered fuel gauge must surface
// ContextError.DeviceNotFound, distinguishable from a device that
// responded with an error (§4.4).
func TestUnregisteredDeviceReportsDeviceNotFound(t *testing.T) {
	c := NewContext(Config{})
	resp := c.ExecuteEvent(context.Background(), Event{Kind: EventDoInit, DeviceID: testGaugeID})
	var ctxErr *ContextError
	if !errors.As(resp.Err, &ctxErr) || !ctxErr.DeviceNotFound {
		t.Fatalf("expected ContextError.DeviceNotFound, got %v", resp.Err)
	}
}

// S2: a gauge whose Ping never returns forces the state-machine-level
// timeout. The outer process() call surfaces ContextError::Timeout, and
// the reentrant recovery dispatch settles the state at
// Present(NotOperational) without attempting another blocking operation.
func TestStateMachineTimeoutRecovers(t *testing.T) {
	gauge := &mockGauge{pingDelay: time.Hour}
	c := NewContext(Config{StateMachineTimeout: 30 * time.Millisecond})
	dev := NewDevice(testGaugeID, gauge)
	dev.Timeout = time.Hour // device timeout must not race the SM timeout
	if err := c.RegisterFuelGauge(dev); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := c.ExecuteEvent(context.Background(), Event{Kind: EventDoInit, DeviceID: testGaugeID})
	if resp.Err == nil {
		t.Fatalf("expected timeout error")
	}
	var ctxErr *ContextError
	if !errors.As(resp.Err, &ctxErr) || !ctxErr.Timeout {
		t.Fatalf("expected ContextError.Timeout, got %v", resp.Err)
	}
	if got := c.State(); got != StatePresentNotOperational {
		t.Fatalf("after timeout: expected Present(NotOperational), got %s", got)
	}
}

// NotOperational recovery: a Timeout event moves the machine to
// NotOperational, whose recovery ping succeeds against a responsive gauge
// and brings it back to Operational(Init).
func TestNotOperationalRecoversOnSuccessfulPing(t *testing.T) {
	gauge := &mockGauge{}
	c := newTestContext(t, gauge)
	ctx := context.Background()

	resp := c.ExecuteEvent(ctx, Event{Kind: EventTimeout, DeviceID: testGaugeID})
	if resp.Err != nil {
		t.Fatalf("Timeout event: %v", resp.Err)
	}
	if got := c.State(); got != StatePresentOperationalInit {
		t.Fatalf("expected recovery to Operational(Init), got %s", got)
	}
}

// NotOperational exhausting its retry budget falls back to NotPresent.
func TestNotOperationalExhaustsRetriesToNotPresent(t *testing.T) {
	gauge := &mockGauge{pingErr: errors.New("bus nak")}
	c := newTestContext(t, gauge)
	ctx := context.Background()

	resp := c.ExecuteEvent(ctx, Event{Kind: EventTimeout, DeviceID: testGaugeID})
	if resp.Err == nil {
		t.Fatalf("expected device error")
	}
	if got := c.State(); got != StateNotPresent {
		t.Fatalf("expected fallback to NotPresent, got %s", got)
	}
}

// Registering the same fuel gauge twice fails (§8 invariant 4).
func TestRegisterFuelGaugeTwiceFails(t *testing.T) {
	c := NewContext(Config{})
	dev := NewDevice(testGaugeID, &mockGauge{})
	if err := c.RegisterFuelGauge(dev); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := c.RegisterFuelGauge(dev)
	if !errors.Is(err, registry.ErrNodeAlreadyInList) {
		t.Fatalf("expected ErrNodeAlreadyInList, got %v", err)
	}
}
