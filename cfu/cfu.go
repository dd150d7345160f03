package cfu

import (
	"context"

	"github.com/jangala-dev/ec-services/errcode"
	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/internal/logx"
	"github.com/jangala-dev/ec-services/internal/registry"
)

// Device is the hardware-facing CFU driver contract a registered
// Component wraps. Out of scope per §1 ("hardware device drivers").
type Device interface {
	Process(ctx context.Context, req RequestData) (InternalResponseData, error)
}

// Component is a single registered CFU-addressable device: a synchronous
// Device, a mutex that gives it strict per-component serialization for
// direct and queued requests alike, and the request/response channel pair
// its Run loop drains (§5 "CFU for a given component is strictly
// serialized by its single request/response pair").
type Component struct {
	node registry.Node

	ID     ids.CfuComponentId
	device Device

	mu conc.Mutex[struct{}]

	request  *conc.Channel[RequestData]
	response *conc.Channel[InternalResponseData]
}

// NewComponent wraps device under id.
func NewComponent(id ids.CfuComponentId, device Device) *Component {
	return &Component{
		ID:       id,
		device:   device,
		mu:       *conc.NewMutex(struct{}{}),
		request:  conc.NewChannel[RequestData](1),
		response: conc.NewChannel[InternalResponseData](1),
	}
}

// Node satisfies registry.NodeContainer.
func (c *Component) Node() *registry.Node { return &c.node }

// process runs req through device under the component's serializing
// mutex, so a second concurrent caller blocks rather than racing the
// device's own request/response pair.
func (c *Component) process(ctx context.Context, req RequestData) (InternalResponseData, error) {
	g := c.mu.LockNow()
	defer g.Release()
	return c.device.Process(ctx, req)
}

// Run drains requests submitted via SubmitRequestNoWait, serializing them
// through the same critical section as direct ProcessRequest calls - the
// async counterpart battery's Context also offers alongside its
// synchronous entry point.
func (c *Component) Run(ctx context.Context) {
	for {
		req, err := c.request.Receive(ctx)
		if err != nil {
			return
		}
		resp, err := c.process(ctx, req)
		if err != nil {
			resp = InternalResponseData{Kind: ResponseComponentBusy}
		}
		c.response.TrySend(resp)
	}
}

// SubmitRequestNoWait enqueues req for the component's Run loop without
// blocking.
func (c *Component) SubmitRequestNoWait(req RequestData) bool { return c.request.TrySend(req) }

// WaitResponse blocks for the next response produced by Run.
func (c *Component) WaitResponse(ctx context.Context) (InternalResponseData, error) {
	return c.response.Receive(ctx)
}

// Context is the CFU service: the registry of addressable components and
// the request router (§4.7 "process_request").
type Context struct {
	log        *logx.Logger
	components registry.List
}

// NewContext constructs a CFU routing context.
func NewContext() *Context {
	return &Context{log: logx.New("cfu")}
}

// RegisterComponent registers comp with the service.
func (c *Context) RegisterComponent(comp *Component) error {
	return registry.Push[*Component](&c.components, comp)
}

func (c *Context) getComponent(id ids.CfuComponentId) (*Component, bool) {
	return registry.FindOnly[*Component](&c.components, func(cm *Component) bool { return cm.ID == id })
}

// ProcessRequest routes req to the component named by id (§4.7).
// GiveOfferExtended/GiveOfferInformation are unsupported regardless of
// whether id names a registered component, and are rejected immediately
// with InvalidComponent per spec - they never reach a Device.
func (c *Context) ProcessRequest(ctx context.Context, id ids.CfuComponentId, req RequestData) (InternalResponseData, error) {
	if req.Kind == RequestGiveOfferExtended || req.Kind == RequestGiveOfferInformation {
		return InternalResponseData{Kind: ResponseOffer, Offer: OfferRejectInvalidComponent}, nil
	}

	comp, ok := c.getComponent(id)
	if !ok {
		return InternalResponseData{}, &Error{Code: errcode.InvalidDevice, ComponentID: id}
	}

	resp, err := comp.process(ctx, req)
	if err != nil {
		c.log.Error("component %d request %s failed: %v", id, req.Kind, err)
		return InternalResponseData{}, err
	}

	want := expectedResponseKind(req.Kind)
	if resp.Kind != want {
		c.log.Error("component %d returned response kind %d for request %s, expected %d", id, resp.Kind, req.Kind, want)
		return InternalResponseData{}, &Error{Code: errcode.ProtocolError, ComponentID: id}
	}
	return resp, nil
}

func expectedResponseKind(k RequestKind) ResponseKind {
	switch k {
	case RequestFwVersion:
		return ResponseFwVersion
	case RequestGiveOffer:
		return ResponseOffer
	case RequestGiveContent:
		return ResponseContent
	case RequestPrepareComponentForUpdate:
		return ResponseComponentPrepared
	default: // RequestAbortUpdate, RequestFinalizeUpdate
		return ResponseAck
	}
}
