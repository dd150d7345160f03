package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable). OK and Error bracket the bus reply
// envelope (bus.Connection.ReplyOK/ReplyErr); the rest are the §7
// taxonomy used by the battery, CFU and time/alarm services.
const (
	OK      Code = "ok"
	Timeout Code = "timeout"

	InvalidDevice  Code = "invalid_device"
	BusError       Code = "bus_error"
	ProtocolError  Code = "protocol_error"
	DeviceNotFound Code = "device_not_found"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error. bus.ReplyErr
// uses this to turn a handler's returned error into the wire-facing
// reply code.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
