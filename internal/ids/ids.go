// Package ids defines the small newtype device identifiers shared across
// the battery, power-policy, type-C, and CFU services, plus the power
// capability value types those services exchange.
package ids

// PdControllerId identifies a Type-C/PD controller instance.
type PdControllerId uint8

// GlobalPortId identifies a USB-C port at the system (cross-controller) scope.
type GlobalPortId uint8

// LocalPortId identifies a USB-C port local to a single controller.
type LocalPortId uint8

// FuelGaugeId identifies a battery fuel-gauge device.
type FuelGaugeId uint8

// ChargerId identifies a charger device mediated by the power policy service.
type ChargerId uint8

// PsuId identifies a power-supply unit record owned by the power policy service.
type PsuId uint8

// CfuComponentId identifies a component addressable by the CFU service.
type CfuComponentId uint8

// PowerCapability is a voltage/current pair; capabilities are ordered by
// the power they represent.
type PowerCapability struct {
	VoltageMv uint16
	CurrentMa uint16
}

// PowerMw returns voltage_mV * current_mA / 1000, the ordering key for
// capabilities.
func (c PowerCapability) PowerMw() uint32 {
	return uint32(c.VoltageMv) * uint32(c.CurrentMa) / 1000
}

// Less reports whether c represents strictly less power than other.
func (c PowerCapability) Less(other PowerCapability) bool {
	return c.PowerMw() < other.PowerMw()
}

// PsuType is a 4-bit classification of the physical source behind a PSU.
type PsuType uint8

const (
	PsuTypeUnknown PsuType = iota
	PsuTypeWall
	PsuTypeBattery
	PsuTypeOther
)

// ConsumerPowerCapability annotates a PowerCapability with the PD
// unconstrained-power flag and the PSU type, as reported when a port
// attaches as a power consumer.
type ConsumerPowerCapability struct {
	PowerCapability
	UnconstrainedPower bool
	PsuType            PsuType
}

// ProviderPowerCapability annotates a PowerCapability with the PSU type,
// as requested when a port is asked to source power.
type ProviderPowerCapability struct {
	PowerCapability
	PsuType PsuType
}
