package powerpolicy

import (
	"testing"

	"github.com/jangala-dev/ec-services/internal/ids"
)

type mockProxy struct {
	connectedConsumer *ids.ConsumerPowerCapability
	connectedProvider *ids.ProviderPowerCapability
	disconnects       int
}

func (m *mockProxy) ConnectAsConsumer(cap ids.ConsumerPowerCapability) error {
	c := cap
	m.connectedConsumer = &c
	return nil
}

func (m *mockProxy) ConnectAsProvider(cap ids.ProviderPowerCapability) error {
	c := cap
	m.connectedProvider = &c
	return nil
}

func (m *mockProxy) Disconnect() error {
	m.disconnects++
	m.connectedConsumer = nil
	m.connectedProvider = nil
	return nil
}

type mockCharger struct {
	configs []ids.ConsumerPowerCapability
}

func (m *mockCharger) PolicyConfiguration(cap ids.ConsumerPowerCapability) (ChargerResponse, error) {
	m.configs = append(m.configs, cap)
	return ChargerAck, nil
}
func (m *mockCharger) CheckReady() error  { return nil }
func (m *mockCharger) InitRequest() error { return nil }

func consumerCap(voltageMv, currentMa uint16) ids.ConsumerPowerCapability {
	return ids.ConsumerPowerCapability{PowerCapability: ids.PowerCapability{VoltageMv: voltageMv, CurrentMa: currentMa}}
}

func providerCap(voltageMv, currentMa uint16) ids.ProviderPowerCapability {
	return ids.ProviderPowerCapability{PowerCapability: ids.PowerCapability{VoltageMv: voltageMv, CurrentMa: currentMa}}
}

// S3: PSU A (7.5W) attaches and becomes current; PSU B (15W) attaches
// with higher capability and takes over.
func TestConsumerSwitchesToHigherCapability(t *testing.T) {
	c := NewContext(Config{})

	var events []Event
	c.Subscribe(func(e Event) { events = append(events, e) })

	proxyA, proxyB := &mockProxy{}, &mockProxy{}
	psuA := NewPsu(1, proxyA)
	psuB := NewPsu(2, proxyB)
	if err := c.RegisterPsu(psuA); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := c.RegisterPsu(psuB); err != nil {
		t.Fatalf("register B: %v", err)
	}

	if err := c.NotifyAttached(1); err != nil {
		t.Fatalf("attach A: %v", err)
	}
	if err := c.NotifySinkPowerCapability(1, consumerCap(5000, 1500)); err != nil {
		t.Fatalf("A capability: %v", err)
	}
	if proxyA.connectedConsumer == nil {
		t.Fatalf("expected A connected as consumer")
	}
	if psuA.State() != StateConnectedConsumer {
		t.Fatalf("expected A ConnectedConsumer, got %s", psuA.State())
	}

	if err := c.NotifyAttached(2); err != nil {
		t.Fatalf("attach B: %v", err)
	}
	if err := c.NotifySinkPowerCapability(2, consumerCap(5000, 3000)); err != nil {
		t.Fatalf("B capability: %v", err)
	}

	if proxyA.disconnects != 1 {
		t.Fatalf("expected A disconnected once, got %d", proxyA.disconnects)
	}
	if proxyB.connectedConsumer == nil {
		t.Fatalf("expected B connected as consumer")
	}
	if psuB.State() != StateConnectedConsumer || !psuB.IsCurrentConsumer() {
		t.Fatalf("expected B to be current consumer, got state=%s current=%v", psuB.State(), psuB.IsCurrentConsumer())
	}
	if psuA.IsCurrentConsumer() {
		t.Fatalf("A should no longer be current consumer")
	}

	var gotDisconnect, gotConnectB bool
	for _, e := range events {
		if e.Kind == EventConsumerDisconnected && e.PsuID == 1 {
			gotDisconnect = true
		}
		if e.Kind == EventConsumerConnected && e.PsuID == 2 && e.Cap.PowerMw() == 15000 {
			gotConnectB = true
		}
	}
	if !gotDisconnect {
		t.Fatalf("expected ConsumerDisconnected(A) broadcast, got %+v", events)
	}
	if !gotConnectB {
		t.Fatalf("expected ConsumerConnected(B, 15000mW) broadcast, got %+v", events)
	}
}

// §4.5 "On detach, send zero capability": once the sole PSU detaches and
// no replacement consumer exists, chargers must be re-mediated with a
// zero-value capability rather than left on the last nonzero grant.
func TestDetachWithNoReplacementSendsZeroCapabilityToChargers(t *testing.T) {
	c := NewContext(Config{})

	charger := &mockCharger{}
	if err := c.RegisterCharger(NewCharger(1, charger)); err != nil {
		t.Fatalf("register charger: %v", err)
	}

	proxy := &mockProxy{}
	psu := NewPsu(1, proxy)
	if err := c.RegisterPsu(psu); err != nil {
		t.Fatalf("register psu: %v", err)
	}

	if err := c.NotifyAttached(1); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := c.NotifySinkPowerCapability(1, consumerCap(5000, 1500)); err != nil {
		t.Fatalf("capability: %v", err)
	}
	if len(charger.configs) == 0 || charger.configs[len(charger.configs)-1].PowerMw() == 0 {
		t.Fatalf("expected nonzero mediation after attach, got %+v", charger.configs)
	}

	if err := c.NotifyDetached(1); err != nil {
		t.Fatalf("detach: %v", err)
	}
	last := charger.configs[len(charger.configs)-1]
	if last.PowerMw() != 0 {
		t.Fatalf("expected zero capability mediated on detach, got %+v", last)
	}
}

// Invariant 1: the selected consumer is always the max power_mW among
// attached PSUs meeting the configured threshold.
func TestConsumerSelectionRespectsThreshold(t *testing.T) {
	c := NewContext(Config{MinConsumerThresholdMw: 10000})

	psuA := NewPsu(1, &mockProxy{})
	if err := c.RegisterPsu(psuA); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.NotifyAttached(1); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := c.NotifySinkPowerCapability(1, consumerCap(5000, 1500)); err != nil { // 7.5W < 10W threshold
		t.Fatalf("capability: %v", err)
	}
	if psuA.State() == StateConnectedConsumer {
		t.Fatalf("PSU below threshold must not be selected")
	}
}

// S4: provider arbitration caps the grant once the aggregate request
// exceeds the limited threshold.
func TestProviderArbitrationCapsUnderLimitedBudget(t *testing.T) {
	c := NewContext(Config{
		LimitedPowerThresholdMw: 20000,
		ProviderUnlimitedMw:     15000,
		ProviderLimitedMw:       7500,
	})

	var events []Event
	c.Subscribe(func(e Event) { events = append(events, e) })

	proxy0, proxy1 := &mockProxy{}, &mockProxy{}
	psu0 := NewPsu(1, proxy0)
	psu1 := NewPsu(2, proxy1)
	if err := c.RegisterPsu(psu0); err != nil {
		t.Fatalf("register R0: %v", err)
	}
	if err := c.RegisterPsu(psu1); err != nil {
		t.Fatalf("register R1: %v", err)
	}
	if err := c.NotifyAttached(1); err != nil {
		t.Fatalf("attach R0: %v", err)
	}
	if err := c.NotifyAttached(2); err != nil {
		t.Fatalf("attach R1: %v", err)
	}

	// R0 already providing 10W.
	if err := c.RequestProviderCapability(1, providerCap(5000, 2000)); err != nil {
		t.Fatalf("R0 request: %v", err)
	}

	// R1 requests 15W -> total 25W > 20W limited threshold -> capped at 7.5W.
	if err := c.RequestProviderCapability(2, providerCap(5000, 3000)); err != nil {
		t.Fatalf("R1 request: %v", err)
	}

	if proxy1.connectedProvider == nil {
		t.Fatalf("expected R1 connected as provider")
	}
	if got := proxy1.connectedProvider.PowerMw(); got != 7500 {
		t.Fatalf("expected R1 grant capped to 7500mW, got %d", got)
	}

	var gotGrant bool
	for _, e := range events {
		if e.Kind == EventProviderConnected && e.PsuID == 2 && e.Cap.PowerMw() == 7500 {
			gotGrant = true
		}
	}
	if !gotGrant {
		t.Fatalf("expected ProviderConnected(R1, 7500mW) broadcast, got %+v", events)
	}
}

// Registering the same PSU twice fails (§8 invariant 4).
func TestRegisterPsuTwiceFails(t *testing.T) {
	c := NewContext(Config{})
	psu := NewPsu(1, &mockProxy{})
	if err := c.RegisterPsu(psu); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.RegisterPsu(psu); err == nil {
		t.Fatalf("expected error on second registration")
	}
}
