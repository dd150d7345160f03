package cfu

import (
	"context"
	"errors"
	"testing"

	"github.com/jangala-dev/ec-services/errcode"
)

type mockDevice struct {
	version    uint32
	acceptOffer bool
	calls       []RequestKind
}

func (m *mockDevice) Process(ctx context.Context, req RequestData) (InternalResponseData, error) {
	m.calls = append(m.calls, req.Kind)
	switch req.Kind {
	case RequestFwVersion:
		return InternalResponseData{Kind: ResponseFwVersion, FwVersion: m.version}, nil
	case RequestGiveOffer:
		decision := OfferRejectOther
		if m.acceptOffer {
			decision = OfferAccept
		}
		return InternalResponseData{Kind: ResponseOffer, Offer: decision}, nil
	case RequestGiveContent:
		return InternalResponseData{Kind: ResponseContent, Seq: req.Content.Header.SequenceNum, ContentRes: ContentAccepted}, nil
	case RequestPrepareComponentForUpdate:
		return InternalResponseData{Kind: ResponseComponentPrepared}, nil
	case RequestAbortUpdate, RequestFinalizeUpdate:
		return InternalResponseData{Kind: ResponseAck}, nil
	default:
		return InternalResponseData{}, nil
	}
}

func TestFwVersionRequestForwardsToComponent(t *testing.T) {
	c := NewContext()
	dev := &mockDevice{version: 42}
	if err := c.RegisterComponent(NewComponent(1, dev)); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := c.ProcessRequest(context.Background(), 1, RequestData{Kind: RequestFwVersion})
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if resp.Kind != ResponseFwVersion || resp.FwVersion != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGiveContentRoundTripsSequenceNumber(t *testing.T) {
	c := NewContext()
	dev := &mockDevice{acceptOffer: true}
	if err := c.RegisterComponent(NewComponent(2, dev)); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := RequestData{Kind: RequestGiveContent, Content: FwUpdateContentCommand{
		Header: FwUpdateContentHeader{SequenceNum: 7, Flags: FlagFirstBlock},
		Data:   []byte{1, 2, 3},
	}}
	resp, err := c.ProcessRequest(context.Background(), 2, req)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if resp.Seq != 7 || resp.ContentRes != ContentAccepted {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// §4.7: GiveOfferExtended/GiveOfferInformation are unsupported regardless
// of the target component, rejected with InvalidComponent before ever
// reaching the device.
func TestUnsupportedOfferVariantsRejectedWithoutReachingDevice(t *testing.T) {
	c := NewContext()
	dev := &mockDevice{}
	if err := c.RegisterComponent(NewComponent(3, dev)); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, kind := range []RequestKind{RequestGiveOfferExtended, RequestGiveOfferInformation} {
		resp, err := c.ProcessRequest(context.Background(), 3, RequestData{Kind: kind})
		if err != nil {
			t.Fatalf("ProcessRequest(%s): %v", kind, err)
		}
		if resp.Kind != ResponseOffer || resp.Offer != OfferRejectInvalidComponent {
			t.Fatalf("ProcessRequest(%s) = %+v, want InvalidComponent reject", kind, resp)
		}
	}
	if len(dev.calls) != 0 {
		t.Fatalf("expected device never called, got %v", dev.calls)
	}
}

func TestProcessRequestUnknownComponent(t *testing.T) {
	c := NewContext()
	_, err := c.ProcessRequest(context.Background(), 99, RequestData{Kind: RequestFwVersion})
	if err == nil {
		t.Fatalf("expected error for unknown component")
	}
	var cfuErr *Error
	if !errors.As(err, &cfuErr) {
		t.Fatalf("expected *cfu.Error, got %T (%v)", err, err)
	}
	if cfuErr.Code != errcode.InvalidDevice {
		t.Fatalf("expected InvalidDevice, got %v", cfuErr.Code)
	}
}

func TestProcessRequestRejectsWrongResponseShape(t *testing.T) {
	c := NewContext()
	dev := &mismatchedDevice{}
	if err := c.RegisterComponent(NewComponent(4, dev)); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := c.ProcessRequest(context.Background(), 4, RequestData{Kind: RequestFwVersion})
	if err == nil {
		t.Fatalf("expected protocol error")
	}
	cfuErr, ok := err.(*Error)
	if !ok || cfuErr.Code != errcode.ProtocolError {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

type mismatchedDevice struct{}

func (mismatchedDevice) Process(ctx context.Context, req RequestData) (InternalResponseData, error) {
	// Always responds as if to an offer, regardless of req.Kind.
	return InternalResponseData{Kind: ResponseOffer, Offer: OfferAccept}, nil
}

func TestRegisterComponentTwiceFails(t *testing.T) {
	c := NewContext()
	comp := NewComponent(5, &mockDevice{})
	if err := c.RegisterComponent(comp); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.RegisterComponent(comp); err == nil {
		t.Fatalf("expected second register to fail")
	}
}
