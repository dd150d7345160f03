// Package transport owns the single host-facing medium the relay rides
// on (§4.8 "Transport"): UART, wired to the real tinygo-uartx driver, and
// eSPI/SMBus, which addresses a fixed peripheral address in both
// directions. A bounded TX queue absorbs bursts of outbound
// results so a slow host never starves EC processing.
package transport

import (
	"context"

	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/logx"
)

// Medium is the wire-level read/write boundary a transport drives. Out of
// scope per §1 ("hardware device drivers"); UART and eSPI controllers
// implement it.
type Medium interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// HostResult is a single outbound ODP response packet, queued for
// delivery to the host. RunTx writes only Packet; Context travels with
// the result but is not used to address the write.
type HostResult struct {
	Context MctpReplyContext
	Packet  []byte
}

// DefaultTxQueueCapacity is the bounded TX queue's default size (§4.8).
const DefaultTxQueueCapacity = 5

// Transport serializes outbound HostResults onto a single Medium through
// a bounded queue, and reads inbound packets from the same Medium via
// ReadPacket.
type Transport struct {
	log    *logx.Logger
	medium Medium
	txq    *conc.Channel[HostResult]
}

// New constructs a Transport over medium with the default TX queue
// capacity.
func New(medium Medium) *Transport {
	return NewWithCapacity(medium, DefaultTxQueueCapacity)
}

// NewWithCapacity is New with an explicit TX queue capacity.
func NewWithCapacity(medium Medium, capacity int) *Transport {
	return &Transport{
		log:    logx.New("transport"),
		medium: medium,
		txq:    conc.NewChannel[HostResult](capacity),
	}
}

// EnqueueResult attempts a non-blocking enqueue of result onto the TX
// queue (§7 "ResourceExhausted ... returning to the caller" for the
// transport's own queue, unlike the PD-alert pub/sub's overwrite policy).
func (t *Transport) EnqueueResult(result HostResult) (ok bool) {
	return t.txq.TrySend(result)
}

// RunTx drains the TX queue onto the medium until ctx is done. Write
// failures are logged and the loop continues onto the next queued
// result - a single bad write must not stall every other host reply.
func (t *Transport) RunTx(ctx context.Context) {
	for {
		result, err := t.txq.Receive(ctx)
		if err != nil {
			return
		}
		if _, err := t.medium.Write(result.Packet); err != nil {
			t.log.Error("transport write failed: %v", err)
		}
	}
}

// ReadPacket reads one inbound packet from the medium into buf, blocking
// until data arrives or ctx is done.
func (t *Transport) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	return t.medium.ReadContext(ctx, buf)
}
