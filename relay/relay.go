package relay

import (
	"context"

	"github.com/jangala-dev/ec-services/internal/comms"
	"github.com/jangala-dev/ec-services/internal/logx"
)

// ErrSerialize reports a response that failed to fit the aggregator's
// response buffer.
const ErrSerialize ParseError = "relay: response serialization failed"

// maxResponseSize bounds a single ODP response packet; large enough for
// every family's result payload (battery's longest fixed strings plus
// header) with headroom.
const maxResponseSize = 256

// DebugFailureReport is the best-effort message the aggregator forwards
// to the Debug endpoint (§4.8) when it cannot process an inbound packet.
type DebugFailureReport struct {
	ServiceID uint8
	Err       error
}

// Aggregator is the per-application relay: a sum type over every
// registered service's requests/results, dispatching inbound packets by
// service ID (§4.8 "Relay aggregator").
type Aggregator struct {
	log      *logx.Logger
	handlers map[uint8]ServiceHandler
	directory *comms.Directory // optional; nil disables debug reporting
}

// NewAggregator constructs an aggregator. directory may be nil - debug
// failure reports are then silently skipped.
func NewAggregator(directory *comms.Directory) *Aggregator {
	return &Aggregator{
		log:       logx.New("relay"),
		handlers:  make(map[uint8]ServiceHandler),
		directory: directory,
	}
}

// Register binds a ServiceHandler to its service ID. It fails if the ID
// is already registered.
func (a *Aggregator) Register(h ServiceHandler) error {
	id := h.ServiceID()
	if _, exists := a.handlers[id]; exists {
		return ParseError("relay: service id already registered")
	}
	a.handlers[id] = h
	return nil
}

// Dispatch implements §4.8's inbound packet procedure: parse the header,
// reject results (the EC never accepts them), route the request to its
// service handler, and frame the handler's result as a response packet.
func (a *Aggregator) Dispatch(ctx context.Context, packet []byte) ([]byte, error) {
	header, payload, err := ReadHeader(packet)
	if err != nil {
		a.reportFailure(0, err)
		return nil, err
	}

	if !header.IsRequest {
		a.reportFailure(header.ServiceID, ErrInvalidDirection)
		return nil, ErrInvalidDirection
	}

	handler, ok := a.handlers[header.ServiceID]
	if !ok {
		a.reportFailure(header.ServiceID, ErrUnknownService)
		return nil, ErrUnknownService
	}

	req, err := handler.DecodeRequest(header.MessageID, payload)
	if err != nil {
		a.reportFailure(header.ServiceID, err)
		return nil, err
	}

	result, err := handler.ProcessRequest(ctx, req)
	if err != nil {
		a.log.Error("service 0x%02x process_request failed: %v", header.ServiceID, err)
		a.reportFailure(header.ServiceID, err)
		return nil, err
	}

	respHeader := Header{
		IsRequest: false,
		ServiceID: header.ServiceID,
		IsError:   !result.IsOk(),
		MessageID: result.Discriminant(),
	}

	buf := make([]byte, maxResponseSize)
	WriteHeader(buf, respHeader)
	n, err := result.Serialize(buf[HeaderSize:])
	if err != nil {
		a.reportFailure(header.ServiceID, ErrSerialize)
		return nil, ErrSerialize
	}
	return buf[:HeaderSize+n], nil
}

// reportFailure best-effort forwards a dispatch failure to the Debug
// endpoint, if one is registered. Failure to deliver the report itself is
// swallowed - this is diagnostic, not load-bearing.
func (a *Aggregator) reportFailure(serviceID uint8, err error) {
	if a.directory == nil {
		return
	}
	_ = a.directory.Send(comms.Int(comms.InternalDebug), DebugFailureReport{ServiceID: serviceID, Err: err})
}
