// Relay service handlers (§6 "Per-service MCTP message families"). These
// are thin adapters from the wire, not CORE logic: CORE's battery,
// timealarm packages already expose everything a real handler needs, so
// each adapter here only does discriminant dispatch and (de)serialization.
package main

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jangala-dev/ec-services/battery"
	"github.com/jangala-dev/ec-services/internal/comms"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/relay"
	"github.com/jangala-dev/ec-services/timealarm"
)

// simpleRequest/simpleResult carry a raw payload through unexamined except
// by the handler that decoded them - every handler here interprets the
// same wire shape (discriminant selects the operation, payload bytes are
// operation-specific), so one pair of types serves all three.
type simpleRequest struct {
	discriminant uint16
	payload      []byte
}

func (r simpleRequest) Discriminant() uint16          { return r.discriminant }
func (r simpleRequest) Serialize(buf []byte) (int, error) { return copy(buf, r.payload), nil }

type simpleResult struct {
	discriminant uint16
	ok           bool
	payload      []byte
}

func (r simpleResult) Discriminant() uint16          { return r.discriminant }
func (r simpleResult) IsOk() bool                    { return r.ok }
func (r simpleResult) Serialize(buf []byte) (int, error) { return copy(buf, r.payload), nil }

func decodeSimple(discriminant uint16, buf []byte) (relay.SerializableMessage, error) {
	return simpleRequest{discriminant: discriminant, payload: append([]byte(nil), buf...)}, nil
}

// ---------------------------------------------------------------------------
// Battery (0x08)
// ---------------------------------------------------------------------------

// Discriminant 0 ("DoInit") is the only operation wired past the
// pass-through stage: payload[0] names the target fuel gauge, the
// handler drives battery.Context.ExecuteEvent and reports success/failure.
// Every other discriminant gets an Unsupported echo, the same as thermal.
const batteryDiscDoInit uint16 = 0

type batteryHandler struct {
	svc *battery.Context
}

func (h *batteryHandler) ServiceID() uint8 { return relay.ServiceIDBattery }

func (h *batteryHandler) DecodeRequest(discriminant uint16, buf []byte) (relay.SerializableMessage, error) {
	return decodeSimple(discriminant, buf)
}

func (h *batteryHandler) ProcessRequest(ctx context.Context, req relay.SerializableMessage) (relay.SerializableResult, error) {
	msg := req.(simpleRequest)
	if msg.discriminant != batteryDiscDoInit || len(msg.payload) < 1 {
		return simpleResult{discriminant: msg.discriminant, ok: false}, nil
	}
	resp := h.svc.ExecuteEvent(ctx, battery.Event{Kind: battery.EventDoInit, DeviceID: ids.FuelGaugeId(msg.payload[0])})
	return simpleResult{discriminant: msg.discriminant, ok: resp.Err == nil}, nil
}

var _ relay.ServiceHandler = (*batteryHandler)(nil)

// ---------------------------------------------------------------------------
// Time/Alarm (0x0B)
// ---------------------------------------------------------------------------

const (
	taDiscGetCapabilities uint16 = iota
	taDiscGetRealTime
	taDiscGetTimerValue
	taDiscSetTimerValue
)

type timeAlarmHandler struct {
	svc *timealarm.Context
}

func (h *timeAlarmHandler) ServiceID() uint8 { return relay.ServiceIDTimeAlarm }

func (h *timeAlarmHandler) DecodeRequest(discriminant uint16, buf []byte) (relay.SerializableMessage, error) {
	return decodeSimple(discriminant, buf)
}

func (h *timeAlarmHandler) ProcessRequest(ctx context.Context, req relay.SerializableMessage) (relay.SerializableResult, error) {
	msg := req.(simpleRequest)
	switch msg.discriminant {
	case taDiscGetCapabilities:
		caps := h.svc.GetCapabilities(ctx)
		buf := make([]byte, 1)
		if caps.SupportsDc {
			buf[0] = 1
		}
		return simpleResult{discriminant: msg.discriminant, ok: true, payload: buf}, nil

	case taDiscGetRealTime:
		rt := h.svc.GetRealTime(ctx)
		buf := make([]byte, 3)
		binary.BigEndian.PutUint16(buf[0:2], uint16(rt.TimeZone))
		buf[2] = rt.DstStatus
		return simpleResult{discriminant: msg.discriminant, ok: true, payload: buf}, nil

	case taDiscGetTimerValue:
		if len(msg.payload) < 1 {
			return simpleResult{discriminant: msg.discriminant, ok: false}, nil
		}
		v := h.svc.GetTimerValue(ctx, timealarm.TimerId(msg.payload[0]))
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, v)
		return simpleResult{discriminant: msg.discriminant, ok: true, payload: buf}, nil

	case taDiscSetTimerValue:
		if len(msg.payload) < 5 {
			return simpleResult{discriminant: msg.discriminant, ok: false}, nil
		}
		timer := timealarm.TimerId(msg.payload[0])
		seconds := binary.BigEndian.Uint32(msg.payload[1:5])
		err := h.svc.SetTimerValue(ctx, timer, seconds)
		return simpleResult{discriminant: msg.discriminant, ok: err == nil}, nil

	default:
		return simpleResult{discriminant: msg.discriminant, ok: false}, nil
	}
}

var _ relay.ServiceHandler = (*timeAlarmHandler)(nil)

// ---------------------------------------------------------------------------
// Debug (0x0A)
// ---------------------------------------------------------------------------

// debugHandler answers every request Ok with an empty payload; its real
// job is the comms.Directory mailbox it registers separately (see
// registerDebugMailbox) which receives best-effort dispatch-failure
// reports from the relay aggregator (§4.8).
type debugHandler struct{}

func (debugHandler) ServiceID() uint8 { return relay.ServiceIDDebug }

func (debugHandler) DecodeRequest(discriminant uint16, buf []byte) (relay.SerializableMessage, error) {
	return decodeSimple(discriminant, buf)
}

func (debugHandler) ProcessRequest(ctx context.Context, req relay.SerializableMessage) (relay.SerializableResult, error) {
	return simpleResult{discriminant: req.Discriminant(), ok: true}, nil
}

var _ relay.ServiceHandler = debugHandler{}

// registerDebugMailbox wires the comms.Directory's Debug endpoint to
// print every reported dispatch failure to the console.
func registerDebugMailbox(dir *comms.Directory, print func(string)) error {
	return dir.Register(comms.Int(comms.InternalDebug), comms.MailboxFunc(func(msg any) error {
		report, ok := msg.(relay.DebugFailureReport)
		if !ok {
			return comms.ErrUnhandled
		}
		print(fmt.Sprintf("[debug] service 0x%02X dispatch failure: %v", report.ServiceID, report.Err))
		return nil
	}))
}
