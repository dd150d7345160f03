package relay

import "context"

// SerializableMessage is a per-service request type (§4.8).
type SerializableMessage interface {
	Discriminant() uint16
	Serialize(buf []byte) (int, error)
}

// SerializableResult is a per-service result type.
type SerializableResult interface {
	Discriminant() uint16
	IsOk() bool
	Serialize(buf []byte) (int, error)
}

// ServiceHandler is what a registered MCTP message family provides: a
// request decoder keyed by discriminant, and the coroutine that turns a
// decoded request into a result.
type ServiceHandler interface {
	ServiceID() uint8
	DecodeRequest(discriminant uint16, buf []byte) (SerializableMessage, error)
	ProcessRequest(ctx context.Context, req SerializableMessage) (SerializableResult, error)
}

// Battery(0x08), Thermal(0x09), Debug(0x0A), Time/Alarm(0x0B) service IDs
// (§6 "Per-service MCTP message families").
const (
	ServiceIDBattery   uint8 = 0x08
	ServiceIDThermal   uint8 = 0x09
	ServiceIDDebug     uint8 = 0x0A
	ServiceIDTimeAlarm uint8 = 0x0B
)
