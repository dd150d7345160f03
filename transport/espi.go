package transport

import (
	"context"

	"tinygo.org/x/drivers"
)

// MctpReplyContext holds medium-specific addressing for a single
// outbound reply (§4.8 "Medium-specific context ... is plumbed through
// MctpReplyContext"). It is carried on HostResult only; no Medium reads
// it, and replies go to the medium's fixed address.
type MctpReplyContext struct {
	// SMBusDestAddr is the SMBus-over-eSPI destination address a reply
	// must target.
	SMBusDestAddr uint8
}

// ESPIController is the wrapped eSPI/SMBus peripheral an eSPI medium
// drives. Out of scope per §1 ("hardware device drivers"); this is the
// transport's boundary onto it, expressed in terms of the same I2C/SMBus
// transaction shape `tinygo.org/x/drivers` exposes for its I2C-backed
// device drivers elsewhere in this stack.
type ESPIController interface {
	drivers.I2C
}

// espiMedium adapts an SMBus-over-eSPI controller to the Medium
// interface. Each inbound/outbound transaction targets the fixed
// peripheral address given to NewESPIMedium; a reply's MctpReplyContext
// does not reach this Medium and does not change the address.
type espiMedium struct {
	ctl  ESPIController
	addr uint8
}

// NewESPIMedium wraps ctl as a Medium using the fixed peripheral address
// addr for both directions (point-to-point eSPI link to the host).
func NewESPIMedium(ctl ESPIController, addr uint8) Medium {
	return &espiMedium{ctl: ctl, addr: addr}
}

func (m *espiMedium) ReadContext(ctx context.Context, buf []byte) (int, error) {
	if err := m.ctl.Tx(uint16(m.addr), nil, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (m *espiMedium) Write(buf []byte) (int, error) {
	if err := m.ctl.Tx(uint16(m.addr), buf, nil); err != nil {
		return 0, err
	}
	return len(buf), nil
}
