package relay

import (
	"context"
	"encoding/binary"
	"testing"
)

// fakeRequest/fakeResult exercise the SerializableMessage/SerializableResult
// contract with a single-byte payload, enough to verify routing and
// round-trip framing without a real service family.
type fakeRequest struct {
	discriminant uint16
	value        byte
}

func (r fakeRequest) Discriminant() uint16 { return r.discriminant }
func (r fakeRequest) Serialize(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrSerialize
	}
	buf[0] = r.value
	return 1, nil
}

type fakeResult struct {
	discriminant uint16
	ok           bool
	value        byte
}

func (r fakeResult) Discriminant() uint16 { return r.discriminant }
func (r fakeResult) IsOk() bool           { return r.ok }
func (r fakeResult) Serialize(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrSerialize
	}
	buf[0] = r.value
	return 1, nil
}

type fakeHandler struct {
	id           uint8
	lastReq      fakeRequest
	nextOk       bool
	nextDiscrim  uint16
	decodeErr    error
}

func (h *fakeHandler) ServiceID() uint8 { return h.id }

func (h *fakeHandler) DecodeRequest(discriminant uint16, buf []byte) (SerializableMessage, error) {
	if h.decodeErr != nil {
		return nil, h.decodeErr
	}
	var v byte
	if len(buf) > 0 {
		v = buf[0]
	}
	return fakeRequest{discriminant: discriminant, value: v}, nil
}

func (h *fakeHandler) ProcessRequest(ctx context.Context, req SerializableMessage) (SerializableResult, error) {
	fr := req.(fakeRequest)
	h.lastReq = fr
	discrim := h.nextDiscrim
	if discrim == 0 {
		discrim = fr.discriminant
	}
	return fakeResult{discriminant: discrim, ok: h.nextOk, value: fr.value + 1}, nil
}

func packRequest(serviceID uint8, messageID uint16, payload byte) []byte {
	h := Header{IsRequest: true, ServiceID: serviceID, MessageID: messageID}
	buf := make([]byte, HeaderSize+1)
	WriteHeader(buf, h)
	buf[HeaderSize] = payload
	return buf
}

// S6: a well-formed battery-service request routes to its handler with
// the matching discriminant, and the response header mirrors
// is_error/message_id off the result.
func TestDispatchRoutesByServiceID(t *testing.T) {
	agg := NewAggregator(nil)
	handler := &fakeHandler{id: ServiceIDBattery, nextOk: true}
	if err := agg.Register(handler); err != nil {
		t.Fatalf("register: %v", err)
	}

	packet := packRequest(ServiceIDBattery, 0x0001, 0x42)
	resp, err := agg.Dispatch(context.Background(), packet)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if handler.lastReq.discriminant != 0x0001 || handler.lastReq.value != 0x42 {
		t.Fatalf("handler received unexpected request: %+v", handler.lastReq)
	}

	respHeader, payload, err := ReadHeader(resp)
	if err != nil {
		t.Fatalf("ReadHeader(resp): %v", err)
	}
	if respHeader.IsRequest {
		t.Fatalf("expected response header IsRequest=false")
	}
	if respHeader.ServiceID != ServiceIDBattery {
		t.Fatalf("expected ServiceID 0x%02x, got 0x%02x", ServiceIDBattery, respHeader.ServiceID)
	}
	if respHeader.IsError != false {
		t.Fatalf("expected IsError=false (is_ok result), got true")
	}
	if respHeader.MessageID != 0x0001 {
		t.Fatalf("expected MessageID 0x0001, got 0x%04x", respHeader.MessageID)
	}
	if len(payload) != 1 || payload[0] != 0x43 {
		t.Fatalf("unexpected response payload: %v", payload)
	}
}

func TestDispatchErrorResultSetsIsError(t *testing.T) {
	agg := NewAggregator(nil)
	handler := &fakeHandler{id: ServiceIDThermal, nextOk: false}
	if err := agg.Register(handler); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := agg.Dispatch(context.Background(), packRequest(ServiceIDThermal, 0x0005, 0x01))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	respHeader, _, err := ReadHeader(resp)
	if err != nil {
		t.Fatalf("ReadHeader(resp): %v", err)
	}
	if !respHeader.IsError {
		t.Fatalf("expected IsError=true for !result.IsOk()")
	}
}

func TestDispatchUnknownServiceID(t *testing.T) {
	agg := NewAggregator(nil)
	_, err := agg.Dispatch(context.Background(), packRequest(0xFF, 1, 0))
	if err != ErrUnknownService {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}

func TestDispatchRejectsResultDirection(t *testing.T) {
	agg := NewAggregator(nil)
	handler := &fakeHandler{id: ServiceIDBattery}
	if err := agg.Register(handler); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := Header{IsRequest: false, ServiceID: ServiceIDBattery, MessageID: 1}
	buf := make([]byte, HeaderSize)
	WriteHeader(buf, h)

	_, err := agg.Dispatch(context.Background(), buf)
	if err != ErrInvalidDirection {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

// Invariant 6: header encode/decode round-trips for arbitrary service
// IDs and discriminants.
func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{IsRequest: true, ServiceID: ServiceIDBattery, MessageID: 0x0001},
		{IsRequest: false, ServiceID: ServiceIDThermal, IsError: true, MessageID: 0x7FFF},
		{IsRequest: true, ServiceID: ServiceIDDebug, MessageID: 0},
		{IsRequest: false, ServiceID: ServiceIDTimeAlarm, IsError: false, MessageID: 0x4242 & 0x7FFF},
	}
	for _, h := range cases {
		encoded := h.Encode()
		decoded := DecodeHeader(encoded)
		if decoded != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, h)
		}
	}
}

func TestHeaderWireIsBigEndian(t *testing.T) {
	h := Header{IsRequest: true, ServiceID: ServiceIDBattery, MessageID: 0x0001}
	buf := make([]byte, HeaderSize)
	WriteHeader(buf, h)
	if got := binary.BigEndian.Uint32(buf); got != h.Encode() {
		t.Fatalf("WriteHeader did not use big-endian encoding: got %#x, want %#x", got, h.Encode())
	}
}

func TestRegisterDuplicateServiceIDFails(t *testing.T) {
	agg := NewAggregator(nil)
	if err := agg.Register(&fakeHandler{id: ServiceIDBattery}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := agg.Register(&fakeHandler{id: ServiceIDBattery}); err == nil {
		t.Fatalf("expected duplicate service id registration to fail")
	}
}
