// Package thermal wires MCTP service ID 0x09 into the relay as a
// pass-through handler (§6 "Thermal (0x09)"). Thermal sensor/fan control
// logic is out of scope here (no module body in spec.md); this package
// exists only so the relay aggregator has a full four-service sum type to
// dispatch across, matching every other registered family's shape.
package thermal

import (
	"context"

	"github.com/jangala-dev/ec-services/relay"
)

// Request is an opaque thermal MCTP request: discriminant plus raw
// payload bytes, carried through unexamined since no sensor semantics are
// implemented.
type Request struct {
	discriminant uint16
	payload      []byte
}

func (r Request) Discriminant() uint16 { return r.discriminant }

func (r Request) Serialize(buf []byte) (int, error) {
	return copy(buf, r.payload), nil
}

// Result is the fixed Unsupported response every thermal request
// receives; there is no sensor/fan core to answer with real data.
type Result struct {
	discriminant uint16
}

func (r Result) Discriminant() uint16 { return r.discriminant }
func (r Result) IsOk() bool           { return false }
func (r Result) Serialize(buf []byte) (int, error) { return 0, nil }

// Handler implements relay.ServiceHandler for service ID 0x09. Every
// request decodes successfully and is answered Unsupported - routing is
// exercised end to end without any thermal sensor logic behind it.
type Handler struct{}

func (Handler) ServiceID() uint8 { return relay.ServiceIDThermal }

func (Handler) DecodeRequest(discriminant uint16, buf []byte) (relay.SerializableMessage, error) {
	payload := append([]byte(nil), buf...)
	return Request{discriminant: discriminant, payload: payload}, nil
}

func (Handler) ProcessRequest(ctx context.Context, req relay.SerializableMessage) (relay.SerializableResult, error) {
	return Result{discriminant: req.Discriminant()}, nil
}
