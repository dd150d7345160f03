// Command ecsvcd assembles every CORE service over a single host
// transport, the way the teacher platform's own cmd/pico-hal-main wires
// its HAL over a bus connection for local testing. It is example wiring,
// not CORE logic (§6): everything behind the console here is satisfied
// entirely by the packages under the repository root.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/shlex"
	"golang.org/x/sync/errgroup"

	"github.com/jangala-dev/ec-services/battery"
	"github.com/jangala-dev/ec-services/bus"
	"github.com/jangala-dev/ec-services/cfu"
	"github.com/jangala-dev/ec-services/errcode"
	"github.com/jangala-dev/ec-services/internal/comms"
	"github.com/jangala-dev/ec-services/internal/ids"
	"github.com/jangala-dev/ec-services/powerpolicy"
	"github.com/jangala-dev/ec-services/relay"
	"github.com/jangala-dev/ec-services/thermal"
	"github.com/jangala-dev/ec-services/timealarm"
	"github.com/jangala-dev/ec-services/transport"
	"github.com/jangala-dev/ec-services/typec"
)

// tTelemetry is the bus topic PSU connection-change events are mirrored
// onto, so the console can subscribe and print them the way the teacher
// UI connection subscribes to HAL topics in cmd/pico-hal-main.
func tTelemetry() bus.Topic { return bus.T("ecsvcd", "powerpolicy", "event") }

// tPolicyStatus is the request/reply topic the console's "policy
// status" command uses to ask the power policy service for its
// current consumer over the bus, rather than holding a direct
// reference - the same indirection the teacher HAL gives its own
// control-plane requests.
func tPolicyStatus() bus.Topic { return bus.T("ecsvcd", "powerpolicy", "status", "get") }

// policyStatusReply is the success payload for tPolicyStatus; a
// failed lookup replies with bus.ReplyPayload via ReplyErr instead.
type policyStatusReply struct {
	ConsumerPsuID ids.PsuId
}

// runPolicyStatusServer answers tPolicyStatus requests with the
// current consumer's PSU id, or errcode.DeviceNotFound if none is
// selected - svcConn.ReplyErr giving the failure case the same
// {OK, Error} envelope every bus-facing CORE command replies with.
func runPolicyStatusServer(ctx context.Context, svcConn *bus.Connection, policy *powerpolicy.Context) {
	sub := svcConn.Subscribe(tPolicyStatus())
	defer svcConn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			if id, hasConsumer := policy.CurrentConsumer(); hasConsumer {
				svcConn.Reply(msg, policyStatusReply{ConsumerPsuID: id}, false)
			} else {
				svcConn.ReplyErr(msg, errcode.DeviceNotFound)
			}
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := &comms.Directory{}
	if err := registerDebugMailbox(dir, println_); err != nil {
		fmt.Fprintln(os.Stderr, "register debug mailbox:", err)
		os.Exit(1)
	}

	telemetry := bus.NewBus(8)
	uiConn := telemetry.NewConnection("ui")
	svcConn := telemetry.NewConnection("ecsvcd")

	batterySvc := battery.NewContext(battery.Config{})
	if err := batterySvc.RegisterFuelGauge(battery.NewDevice(1, inertFuelGauge{})); err != nil {
		fmt.Fprintln(os.Stderr, "register fuel gauge:", err)
		os.Exit(1)
	}

	policy := powerpolicy.NewContext(powerpolicy.Config{
		MinConsumerThresholdMw:  2500,
		LimitedPowerThresholdMw: 60000,
		ProviderUnlimitedMw:     100000,
		ProviderLimitedMw:       15000,
	})
	if err := policy.RegisterCharger(powerpolicy.NewCharger(1, inertCharger{})); err != nil {
		fmt.Fprintln(os.Stderr, "register charger:", err)
		os.Exit(1)
	}
	policy.Subscribe(func(ev powerpolicy.Event) {
		svcConn.Publish(svcConn.NewMessage(tTelemetry(), ev, false))
	})

	wrapper := typec.NewWrapper(newInertController(), policy, acceptAllValidator{})
	port, err := wrapper.RegisterPort(1, 1, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "register port:", err)
		os.Exit(1)
	}
	if err := policy.RegisterPsu(powerpolicy.NewPsu(1, port)); err != nil {
		fmt.Fprintln(os.Stderr, "register psu:", err)
		os.Exit(1)
	}

	cfuSvc := cfu.NewContext()
	cfuComponent := cfu.NewComponent(1, &inertCfuDevice{version: 0x0100})
	if err := cfuSvc.RegisterComponent(cfuComponent); err != nil {
		fmt.Fprintln(os.Stderr, "register cfu component:", err)
		os.Exit(1)
	}

	timeAlarmSvc := timealarm.NewContext(systemClock{}, newMemNvram())

	aggregator := relay.NewAggregator(dir)
	mustRegister(aggregator, &batteryHandler{svc: batterySvc})
	mustRegister(aggregator, thermal.Handler{})
	mustRegister(aggregator, debugHandler{})
	mustRegister(aggregator, &timeAlarmHandler{svc: timeAlarmSvc})

	medium := newLoopbackMedium()
	xport := transport.New(medium)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { batterySvc.Run(gctx); return nil })
	g.Go(func() error { wrapper.Run(gctx); return nil })
	g.Go(func() error { cfuComponent.Run(gctx); return nil })
	g.Go(func() error { xport.RunTx(gctx); return nil })
	g.Go(func() error { runTimeAlarmTicker(gctx, timeAlarmSvc); return nil })
	g.Go(func() error { runPolicyStatusServer(gctx, svcConn, policy); return nil })
	g.Go(func() error { return runConsole(gctx, aggregator, xport, medium, uiConn, cfuSvc) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "ecsvcd:", err)
		os.Exit(1)
	}
}

func mustRegister(a *relay.Aggregator, h relay.ServiceHandler) {
	if err := a.Register(h); err != nil {
		fmt.Fprintln(os.Stderr, "register relay handler:", err)
		os.Exit(1)
	}
}

func println_(s string) { fmt.Println(s) }

// runTimeAlarmTicker drives timealarm's countdown from a plain one-second
// time.Ticker, one Tick(1) per tick - there being no hardware timer IRQ
// behind NVRAM.
func runTimeAlarmTicker(ctx context.Context, svc *timealarm.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			svc.Tick(ctx, 1)
		}
	}
}

// runConsole is the debug console: a line-oriented REPL tokenized with
// shlex (so quoted hex payloads survive whitespace splitting) driving the
// relay aggregator and a couple of service entry points directly.
func runConsole(ctx context.Context, agg *relay.Aggregator, xport *transport.Transport, medium *loopbackMedium, uiConn *bus.Connection, cfuSvc *cfu.Context) error {
	telemetrySub := uiConn.Subscribe(tTelemetry())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-telemetrySub.Channel():
				if ev, ok := msg.Payload.(powerpolicy.Event); ok {
					fmt.Printf("[telemetry] %s psu=%d\n", ev.Kind, ev.PsuID)
				}
			}
		}
	}()

	fmt.Println("ecsvcd console ready - try: relay 0b 0 , timealarm get ac, cfu version, policy status, quit")
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			args, err := shlex.Split(line)
			if err != nil || len(args) == 0 {
				continue
			}
			if args[0] == "quit" || args[0] == "exit" {
				return nil
			}
			runCommand(ctx, agg, xport, medium, uiConn, cfuSvc, args)
		}
	}
}

func runCommand(ctx context.Context, agg *relay.Aggregator, xport *transport.Transport, medium *loopbackMedium, uiConn *bus.Connection, cfuSvc *cfu.Context, args []string) {
	switch args[0] {
	case "relay":
		runRelayCommand(ctx, agg, xport, medium, args[1:])
	case "timealarm":
		runTimeAlarmCommand(args[1:])
	case "cfu":
		runCfuCommand(ctx, cfuSvc, args[1:])
	case "policy":
		runPolicyCommand(ctx, uiConn, args[1:])
	default:
		fmt.Println("unknown command:", args[0])
	}
}

// runPolicyCommand drives "policy status" over the bus via
// runPolicyStatusServer's request/reply handler, rather than calling
// the power policy service directly - exercising the same RPC path a
// remote console process would use.
func runPolicyCommand(ctx context.Context, uiConn *bus.Connection, args []string) {
	if len(args) < 1 || args[0] != "status" {
		fmt.Println("usage: policy status")
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	reply, err := uiConn.RequestWait(reqCtx, uiConn.NewMessage(tPolicyStatus(), nil, false))
	if err != nil {
		fmt.Println("policy status request failed:", err)
		return
	}
	if status, ok := reply.Payload.(policyStatusReply); ok {
		fmt.Printf("current consumer: psu %d\n", status.ConsumerPsuID)
		return
	}
	if errReply, ok := reply.Payload.(bus.ReplyPayload); ok {
		fmt.Println("policy status error:", errReply.Error)
		return
	}
	fmt.Printf("unexpected policy status reply: %+v\n", reply.Payload)
}

// runRelayCommand builds one MCTP request packet and runs it through the
// relay aggregator directly, then enqueues the response onto the
// transport's bounded TX queue - the same path a real inbound host
// request would take once past the medium read (§2 data flow).
func runRelayCommand(ctx context.Context, agg *relay.Aggregator, xport *transport.Transport, medium *loopbackMedium, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: relay <service-hex> <discriminant> [payload-hex]")
		return
	}
	serviceID, err := strconv.ParseUint(args[0], 16, 8)
	if err != nil {
		fmt.Println("bad service id:", err)
		return
	}
	discriminant, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		fmt.Println("bad discriminant:", err)
		return
	}
	var payload []byte
	if len(args) >= 3 {
		payload, err = hex.DecodeString(args[2])
		if err != nil {
			fmt.Println("bad payload hex:", err)
			return
		}
	}

	header := relay.Header{IsRequest: true, ServiceID: uint8(serviceID), MessageID: uint16(discriminant)}
	packet := make([]byte, relay.HeaderSize+len(payload))
	relay.WriteHeader(packet, header)
	copy(packet[relay.HeaderSize:], payload)

	resp, err := agg.Dispatch(ctx, packet)
	if err != nil {
		fmt.Println("dispatch failed:", err)
		return
	}
	if !xport.EnqueueResult(transport.HostResult{Packet: resp}) {
		fmt.Println("tx queue full, response dropped")
		return
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b, ok := medium.lastWritten(); ok {
			fmt.Printf("response: % x\n", b)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Println("no response observed on medium")
}

func runTimeAlarmCommand(args []string) {
	fmt.Println("use 'relay 0b <discriminant> [payload-hex]' to drive timealarm over MCTP;", args)
}

// runCfuCommand drives cfu.Context.ProcessRequest directly against the
// one registered component (id 1) - CFU has no wire handler registered
// with the relay aggregator (§1 excludes the host-facing CFU transport
// binding from CORE), so this is the console's only entry point into it.
func runCfuCommand(ctx context.Context, svc *cfu.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: cfu <version|offer|abort|finalize>")
		return
	}
	const demoComponent ids.CfuComponentId = 1

	var req cfu.RequestData
	switch args[0] {
	case "version":
		req = cfu.RequestData{Kind: cfu.RequestFwVersion}
	case "offer":
		req = cfu.RequestData{Kind: cfu.RequestGiveOffer, Offer: cfu.FwUpdateOffer{ComponentVersion: 0x0100}}
	case "abort":
		req = cfu.RequestData{Kind: cfu.RequestAbortUpdate}
	case "finalize":
		req = cfu.RequestData{Kind: cfu.RequestFinalizeUpdate}
	default:
		fmt.Println("unknown cfu subcommand:", args[0])
		return
	}

	resp, err := svc.ProcessRequest(ctx, demoComponent, req)
	if err != nil {
		fmt.Println("cfu request failed:", err)
		return
	}
	switch resp.Kind {
	case cfu.ResponseFwVersion:
		fmt.Printf("fw version: 0x%08x\n", resp.FwVersion)
	case cfu.ResponseOffer:
		fmt.Println("offer decision:", resp.Offer)
	case cfu.ResponseAck:
		fmt.Println("ack")
	default:
		fmt.Printf("response: %+v\n", resp)
	}
}
