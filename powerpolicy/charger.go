package powerpolicy

import (
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/logx"
	"github.com/jangala-dev/ec-services/internal/registry"
)

// ChargerResponse is a charger device's reply to a mediation message.
type ChargerResponse int

const (
	ChargerAck ChargerResponse = iota
	ChargerUnpoweredAck
)

// ChargerDevice is the charger-facing collaborator a Charger record
// drives. Out of scope per §1; this is the CORE's boundary onto it.
type ChargerDevice interface {
	PolicyConfiguration(cap ids.ConsumerPowerCapability) (ChargerResponse, error)
	CheckReady() error
	InitRequest() error
}

// Charger is a registered charger mediated by the power policy service
// (§4.5 "Charger mediation").
type Charger struct {
	node registry.Node

	ID     ids.ChargerId
	Device ChargerDevice
}

// NewCharger constructs a charger registration.
func NewCharger(id ids.ChargerId, device ChargerDevice) *Charger {
	return &Charger{ID: id, Device: device}
}

func (c *Charger) Node() *registry.Node { return &c.node }

// mediate drives the handshake in §4.5: send the configuration; if the
// charger reports it is unpowered, bring it up with CheckReady+InitRequest
// and resend the configuration once more.
func (c *Charger) mediate(log *logx.Logger, cap ids.ConsumerPowerCapability) error {
	resp, err := c.Device.PolicyConfiguration(cap)
	if err != nil {
		return err
	}
	if resp != ChargerUnpoweredAck {
		return nil
	}

	log.Info("charger %d unpowered, bringing up", c.ID)
	if err := c.Device.CheckReady(); err != nil {
		return err
	}
	if err := c.Device.InitRequest(); err != nil {
		return err
	}
	_, err = c.Device.PolicyConfiguration(cap)
	return err
}
