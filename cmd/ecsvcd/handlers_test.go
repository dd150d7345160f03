package main

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/jangala-dev/ec-services/battery"
	"github.com/jangala-dev/ec-services/internal/comms"
	"github.com/jangala-dev/ec-services/relay"
	"github.com/jangala-dev/ec-services/timealarm"
)

func TestBatteryHandlerDoInitRoutesToContext(t *testing.T) {
	svc := battery.NewContext(battery.Config{})
	if err := svc.RegisterFuelGauge(battery.NewDevice(1, inertFuelGauge{})); err != nil {
		t.Fatalf("RegisterFuelGauge: %v", err)
	}
	h := &batteryHandler{svc: svc}

	msg, err := h.DecodeRequest(batteryDiscDoInit, []byte{1})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	res, err := h.ProcessRequest(context.Background(), msg)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if !res.IsOk() {
		t.Fatalf("expected DoInit to succeed against the inert fuel gauge")
	}
}

func TestBatteryHandlerUnknownDiscriminantIsUnsupported(t *testing.T) {
	svc := battery.NewContext(battery.Config{})
	h := &batteryHandler{svc: svc}

	msg, _ := h.DecodeRequest(99, nil)
	res, err := h.ProcessRequest(context.Background(), msg)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if res.IsOk() {
		t.Fatalf("expected unknown discriminant to be unsuccessful")
	}
}

func TestTimeAlarmHandlerSetThenGetTimerValueRoundTrips(t *testing.T) {
	svc := timealarm.NewContext(systemClock{}, newMemNvram())
	h := &timeAlarmHandler{svc: svc}
	ctx := context.Background()

	setPayload := make([]byte, 5)
	setPayload[0] = byte(timealarm.AcPower)
	binary.BigEndian.PutUint32(setPayload[1:], 42)
	setMsg, _ := h.DecodeRequest(taDiscSetTimerValue, setPayload)
	setRes, err := h.ProcessRequest(ctx, setMsg)
	if err != nil || !setRes.IsOk() {
		t.Fatalf("SetTimerValue failed: err=%v ok=%v", err, setRes.IsOk())
	}

	getMsg, _ := h.DecodeRequest(taDiscGetTimerValue, []byte{byte(timealarm.AcPower)})
	getRes, err := h.ProcessRequest(ctx, getMsg)
	if err != nil || !getRes.IsOk() {
		t.Fatalf("GetTimerValue failed: err=%v ok=%v", err, getRes.IsOk())
	}
	buf := make([]byte, 4)
	n, err := getRes.Serialize(buf)
	if err != nil || n != 4 {
		t.Fatalf("Serialize: n=%d err=%v", n, err)
	}
	if got := binary.BigEndian.Uint32(buf); got != 42 {
		t.Fatalf("expected 42 seconds, got %d", got)
	}
}

func TestTimeAlarmHandlerGetCapabilities(t *testing.T) {
	svc := timealarm.NewContext(systemClock{}, newMemNvram())
	h := &timeAlarmHandler{svc: svc}

	msg, _ := h.DecodeRequest(taDiscGetCapabilities, nil)
	res, err := h.ProcessRequest(context.Background(), msg)
	if err != nil || !res.IsOk() {
		t.Fatalf("GetCapabilities failed: err=%v", err)
	}
}

func TestDebugHandlerAlwaysOk(t *testing.T) {
	h := debugHandler{}
	msg, _ := h.DecodeRequest(0, nil)
	res, err := h.ProcessRequest(context.Background(), msg)
	if err != nil || !res.IsOk() {
		t.Fatalf("expected debug handler to always succeed")
	}
}

func TestRegisterDebugMailboxForwardsFailureReports(t *testing.T) {
	dir := &comms.Directory{}
	var captured string
	if err := registerDebugMailbox(dir, func(s string) { captured = s }); err != nil {
		t.Fatalf("registerDebugMailbox: %v", err)
	}

	err := dir.Send(comms.Int(comms.InternalDebug), relay.DebugFailureReport{ServiceID: 0x08, Err: errTest})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured == "" {
		t.Fatalf("expected the mailbox to print something")
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest testErr = "boom"
