package typec

import (
	"context"
	"time"

	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/x/mathx"
)

// fwState is the controller-level CFU firmware-update sub-state-machine
// (§3 "CFU firmware-update state").
type fwState int

const (
	fwIdle fwState = iota
	fwPreparing
	fwReceivingContent
	fwFinalizing
	fwAborting
)

// FwUpdateContentFlags per §6.
const (
	FwFlagFirstBlock = 0x1
	FwFlagLastBlock  = 0x2
)

type fwContentHeader struct {
	DataLength      uint8
	SequenceNum     uint16
	FirmwareAddress uint32
	Flags           uint8
}

type fwMachine struct {
	state           fwState
	seqExpected     uint16
	addrCursor      uint32
	lastChunkTicks  int
}

// cfuTickInterval is the periodic ticker's period; cfuTimeoutSeconds is
// §4.6's "Timeout" inactivity budget, converted to whole ticks by
// rounding up so the watchdog never fires early.
const (
	cfuTickInterval    = 5 * time.Second
	cfuTimeoutSeconds  = 120
)

var cfuTimeoutTicks = int(mathx.CeilDiv(uint32(cfuTimeoutSeconds), uint32(cfuTickInterval/time.Second)))

// FwOfferDecision is what the wrapper's FW-offer validator returns for a
// GiveOffer.
type FwOfferDecision int

const (
	FwOfferAccept FwOfferDecision = iota
	FwOfferReject
)

// FwOfferValidator decides whether to accept a firmware offer.
type FwOfferValidator interface {
	ValidateOffer(componentVersion uint32) FwOfferDecision
}

// ContentStatus is the per-chunk CFU response (§6
// "ContentResponse(seq, status)").
type ContentStatus int

const (
	ContentSuccess ContentStatus = iota
	ContentErrorInvalid
	ContentErrorWrite
)

// FwVersionRequest asks the controller for its current firmware version
// and returns it; the validator is consulted only by GiveOffer.
func (w *Wrapper) FwVersionRequest(ctx context.Context) (uint32, error) {
	return w.controller.GetActiveFwVersion(ctx)
}

// GiveOffer validates an incoming offer and, if accepted, transitions the
// FW-update state to ReceivingContent.
func (w *Wrapper) GiveOffer(ctx context.Context, componentVersion uint32, firmwareAddress uint32) FwOfferDecision {
	decision := w.validator.ValidateOffer(componentVersion)
	if decision != FwOfferAccept {
		return decision
	}

	g := w.fwUpdate.LockNow()
	g.Set(fwMachine{state: fwReceivingContent, seqExpected: 0, addrCursor: firmwareAddress})
	g.Release()
	return FwOfferAccept
}

// GiveContent implements §4.6's content chunk handling.
func (w *Wrapper) GiveContent(ctx context.Context, header fwContentHeader, data []byte) (ContentStatus, uint16) {
	g := w.fwUpdate.LockNow()
	m := g.Get()
	defer func() { g.Set(m); g.Release() }()

	if header.Flags&FwFlagFirstBlock != 0 {
		if err := w.controller.StartFwUpdate(ctx); err != nil {
			m.state = fwAborting
			return ContentErrorWrite, header.SequenceNum
		}
	} else if header.SequenceNum != m.seqExpected {
		m.state = fwAborting
		return ContentErrorInvalid, m.seqExpected
	}

	if err := w.controller.WriteFwContents(ctx, header.FirmwareAddress, data); err != nil {
		m.state = fwAborting
		return ContentErrorWrite, header.SequenceNum
	}

	seq := header.SequenceNum
	m.seqExpected = header.SequenceNum + 1
	m.lastChunkTicks = 0

	if header.Flags&FwFlagLastBlock != 0 {
		m.state = fwFinalizing
	}
	return ContentSuccess, seq
}

// FinalizeUpdate completes the update, returning to Idle on success or
// failure alike (failure logs and the machine still returns to Idle per
// §4.6).
func (w *Wrapper) FinalizeUpdate(ctx context.Context) error {
	err := w.controller.FinalizeFwUpdate(ctx)
	if err != nil {
		w.log.Error("CFU finalize failed: %v", err)
	}
	g := w.fwUpdate.LockNow()
	g.Set(fwMachine{state: fwIdle})
	g.Release()
	return err
}

// AbortUpdate calls abort_fw_update unconditionally and resets to Idle.
func (w *Wrapper) AbortUpdate(ctx context.Context) error {
	err := w.controller.AbortFwUpdate(ctx)
	g := w.fwUpdate.LockNow()
	g.Set(fwMachine{state: fwIdle})
	g.Release()
	return err
}

// fwUpdateInProgress reports whether port-event processing and port
// commands should be deferred (§4.6 "While a FW update is in progress").
func (w *Wrapper) fwUpdateInProgress() bool {
	g := w.fwUpdate.LockNow()
	defer g.Release()
	return g.Get().state != fwIdle
}

// tickFwUpdate advances the inactivity watchdog by one period, aborting
// the update once the timeout budget is exhausted.
func (w *Wrapper) tickFwUpdate(ctx context.Context) {
	g := w.fwUpdate.LockNow()
	m := g.Get()
	if m.state == fwIdle {
		g.Release()
		return
	}
	m.lastChunkTicks++
	timedOut := m.lastChunkTicks >= cfuTimeoutTicks
	g.Set(m)
	g.Release()

	if timedOut {
		w.log.Warn("CFU update timed out after %d ticks", mathx.Clamp(m.lastChunkTicks, 0, cfuTimeoutTicks))
		_ = w.AbortUpdate(ctx)
	}
}

// cfuTicker exposes a periodic channel the wrapper's event loop selects
// on alongside every other awaited source.
func cfuTicker() (*conc.Channel[time.Time], func()) {
	ticker := time.NewTicker(cfuTickInterval)
	ch := conc.NewChannel[time.Time](1)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case t := <-ticker.C:
				ch.TrySend(t)
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
	return ch, func() { close(stop) }
}
