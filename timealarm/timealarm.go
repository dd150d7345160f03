// Package timealarm implements the host-facing Time/Alarm interface (§6
// "Time/Alarm interface"), an ACPI-TAD analogue: real-time readout with a
// persisted timezone/DST offset, and two independent wake timers (AC and
// DC power) each with a persisted expiration and expired-timer policy.
//
// The wall clock and the NVRAM cell store are both out of scope for this
// package (§1 excludes "the time-alarm service wall clock"; NVRAM is a
// hardware boundary); both are taken as injected dependencies so the
// state machine here is exercised against fakes.
package timealarm

import (
	"context"
	"time"

	"github.com/jangala-dev/ec-services/errcode"
	"github.com/jangala-dev/ec-services/internal/conc"
	"github.com/jangala-dev/ec-services/internal/logx"
)

// Clock is the injected wall clock. Setting the wall clock is out of
// scope; only reading it is required to compose a RealTime reading with
// the persisted timezone/DST offset.
type Clock interface {
	Now() time.Time
}

// NvramSlot identifies one of the five persisted u32 cells (§6 "Persisted
// state layout").
type NvramSlot uint8

const (
	SlotTimeZone NvramSlot = iota
	SlotAcExpiration
	SlotAcPolicy
	SlotDcExpiration
	SlotDcPolicy

	slotCount
)

// NVRAM is the injected persistence boundary: five independently
// addressable u32 cells, durable across power loss.
type NVRAM interface {
	ReadSlot(id NvramSlot) (uint32, error)
	WriteSlot(id NvramSlot, value uint32) error
}

// TimerId selects one of the two independent wake timers.
type TimerId int

const (
	AcPower TimerId = iota
	DcPower
)

func (t TimerId) String() string {
	if t == AcPower {
		return "AcPower"
	}
	return "DcPower"
}

// ExpiredTimerPolicy controls what happens once a timer's countdown
// reaches zero.
type ExpiredTimerPolicy uint32

const (
	// PolicyNone leaves the wake status set with no further action
	// required of this package; a supervisor reads it back via
	// GetWakeStatus.
	PolicyNone ExpiredTimerPolicy = iota
	// PolicyDisableOnExpire resets the timer to Disabled once it fires,
	// so a stale expiration can never re-trigger a wake status it was
	// never meant to repeat.
	PolicyDisableOnExpire
)

// Disabled is the sentinel TimerValue meaning "no active countdown" (§6).
const Disabled uint32 = 0xFFFFFFFF

// Capabilities reports what this implementation supports. Both timers are
// always present; there is no variant without DC wake support.
type Capabilities struct {
	NumTimers      int
	SupportsDc     bool
	RealTimeGetSet bool
}

// RealTime is a reading of Clock.Now() alongside the persisted
// timezone/DST offset; DateTime itself is not adjusted by that offset.
type RealTime struct {
	DateTime  time.Time
	TimeZone  int16 // minutes from UTC
	DstStatus uint8
}

type timerState struct {
	expiration uint32 // seconds remaining; Disabled sentinel when inactive
	policy     ExpiredTimerPolicy
	wakeStatus bool
}

type state struct {
	timeZone  int16
	dstStatus uint8
	timers    [2]timerState
}

// Context is the Time/Alarm service instance. One per system; the host
// relay handler (§4.8) holds a single Context and dispatches every
// Time/Alarm MCTP request onto it.
type Context struct {
	log   *logx.Logger
	clock Clock
	nv    NVRAM
	st    conc.Mutex[state]
}

// NewContext constructs a Context and loads its persisted state from nv.
// A read failure on any slot leaves that field at its default (Disabled
// for a timer expiration, zero otherwise) and is logged, never returned - a missing/corrupt NVRAM cell must not prevent
// the rest of the service from starting.
func NewContext(clock Clock, nv NVRAM) *Context {
	c := &Context{log: logx.New("timealarm"), clock: clock, nv: nv}
	c.st = *conc.NewMutex(c.load())
	return c
}

func (c *Context) load() state {
	var st state
	st.timers[AcPower].expiration = Disabled
	st.timers[DcPower].expiration = Disabled

	if v, err := c.nv.ReadSlot(SlotTimeZone); err != nil {
		c.log.Warn("timealarm: read tz slot failed: %v", err)
	} else {
		st.timeZone, st.dstStatus = unpackTz(v)
	}
	if v, err := c.nv.ReadSlot(SlotAcExpiration); err != nil {
		c.log.Warn("timealarm: read ac expiration slot failed: %v", err)
	} else {
		st.timers[AcPower].expiration = v
	}
	if v, err := c.nv.ReadSlot(SlotAcPolicy); err != nil {
		c.log.Warn("timealarm: read ac policy slot failed: %v", err)
	} else {
		st.timers[AcPower].policy = ExpiredTimerPolicy(v)
	}
	if v, err := c.nv.ReadSlot(SlotDcExpiration); err != nil {
		c.log.Warn("timealarm: read dc expiration slot failed: %v", err)
	} else {
		st.timers[DcPower].expiration = v
	}
	if v, err := c.nv.ReadSlot(SlotDcPolicy); err != nil {
		c.log.Warn("timealarm: read dc policy slot failed: %v", err)
	} else {
		st.timers[DcPower].policy = ExpiredTimerPolicy(v)
	}
	return st
}

func packTz(minutesFromUtc int16, dst uint8) uint32 {
	return uint32(uint16(minutesFromUtc))<<16 | uint32(dst)<<8
}

func unpackTz(v uint32) (int16, uint8) {
	return int16(uint16(v >> 16)), uint8(v >> 8)
}

func expirationSlot(t TimerId) NvramSlot {
	if t == AcPower {
		return SlotAcExpiration
	}
	return SlotDcExpiration
}

func policySlot(t TimerId) NvramSlot {
	if t == AcPower {
		return SlotAcPolicy
	}
	return SlotDcPolicy
}

// GetCapabilities reports the fixed capability set.
func (c *Context) GetCapabilities(ctx context.Context) Capabilities {
	return Capabilities{NumTimers: 2, SupportsDc: true, RealTimeGetSet: true}
}

// GetRealTime composes Clock.Now() with the persisted timezone/DST
// offset.
func (c *Context) GetRealTime(ctx context.Context) RealTime {
	g := c.st.LockNow()
	tz, dst := g.Get().timeZone, g.Get().dstStatus
	g.Release()
	return RealTime{DateTime: c.clock.Now(), TimeZone: tz, DstStatus: dst}
}

// SetRealTime persists the timezone/DST offset. Setting the wall clock
// itself is out of scope (§1); rt.DateTime is accepted for protocol
// symmetry with GetRealTime but not applied.
func (c *Context) SetRealTime(ctx context.Context, rt RealTime) error {
	g := c.st.LockNow()
	st := g.Get()
	st.timeZone = rt.TimeZone
	st.dstStatus = rt.DstStatus
	g.Set(st)
	g.Release()

	if err := c.nv.WriteSlot(SlotTimeZone, packTz(rt.TimeZone, rt.DstStatus)); err != nil {
		return &errcode.E{C: errcode.BusError, Op: "timealarm.SetRealTime", Err: err}
	}
	return nil
}

// GetWakeStatus reports whether timer has fired since its last clear.
func (c *Context) GetWakeStatus(ctx context.Context, timer TimerId) bool {
	g := c.st.LockNow()
	defer g.Release()
	return g.Get().timers[timer].wakeStatus
}

// ClearWakeStatus resets timer's wake status.
func (c *Context) ClearWakeStatus(ctx context.Context, timer TimerId) {
	g := c.st.LockNow()
	st := g.Get()
	st.timers[timer].wakeStatus = false
	g.Set(st)
	g.Release()
}

// SetExpiredTimerPolicy persists the policy applied when timer's
// countdown reaches zero.
func (c *Context) SetExpiredTimerPolicy(ctx context.Context, timer TimerId, policy ExpiredTimerPolicy) error {
	g := c.st.LockNow()
	st := g.Get()
	st.timers[timer].policy = policy
	g.Set(st)
	g.Release()

	if err := c.nv.WriteSlot(policySlot(timer), uint32(policy)); err != nil {
		return &errcode.E{C: errcode.BusError, Op: "timealarm.SetExpiredTimerPolicy", Err: err}
	}
	return nil
}

// GetExpiredTimerPolicy reads back timer's persisted policy.
func (c *Context) GetExpiredTimerPolicy(ctx context.Context, timer TimerId) ExpiredTimerPolicy {
	g := c.st.LockNow()
	defer g.Release()
	return g.Get().timers[timer].policy
}

// SetTimerValue arms timer's countdown to seconds. Disabled (0xFFFFFFFF)
// disarms it and clears any pending wake status, matching a freshly
// disabled timer never having fired.
func (c *Context) SetTimerValue(ctx context.Context, timer TimerId, seconds uint32) error {
	g := c.st.LockNow()
	st := g.Get()
	st.timers[timer].expiration = seconds
	if seconds == Disabled {
		st.timers[timer].wakeStatus = false
	}
	g.Set(st)
	g.Release()

	if err := c.nv.WriteSlot(expirationSlot(timer), seconds); err != nil {
		return &errcode.E{C: errcode.BusError, Op: "timealarm.SetTimerValue", Err: err}
	}
	return nil
}

// GetTimerValue reads back timer's remaining seconds (or Disabled).
func (c *Context) GetTimerValue(ctx context.Context, timer TimerId) uint32 {
	g := c.st.LockNow()
	defer g.Release()
	return g.Get().timers[timer].expiration
}

// Tick advances every armed timer's countdown by elapsedSeconds, setting
// wake status and applying the configured policy on expiry. A supervisor
// (§ cmd/ecsvcd) drives this on a periodic tick; it is the only source of
// countdown progress, there being no real hardware timer behind NVRAM.
func (c *Context) Tick(ctx context.Context, elapsedSeconds uint32) {
	g := c.st.LockNow()
	st := g.Get()
	for i := range st.timers {
		t := &st.timers[i]
		if t.expiration == Disabled {
			continue
		}
		if t.expiration <= elapsedSeconds {
			t.expiration = 0
			t.wakeStatus = true
			if t.policy == PolicyDisableOnExpire {
				t.expiration = Disabled
			}
			c.log.Info("timealarm: timer %s expired", TimerId(i))
		} else {
			t.expiration -= elapsedSeconds
		}
	}
	g.Set(st)
	g.Release()
}
