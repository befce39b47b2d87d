package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/laminar-data/fgbridge/internal/monitoring"
)

func init() {
	// Keep endpoint diagnostics out of test output.
	monitoring.SetLogger(nil)
}

// newTestEndpoint builds an endpoint on ephemeral loopback ports together
// with a fake simulator socket the endpoint sends to.
func newTestEndpoint(t *testing.T, cfg Config) (*Endpoint, *net.UDPConn) {
	t.Helper()

	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to open simulator socket: %v", err)
	}
	t.Cleanup(func() { sim.Close() })

	cfg.Host = "127.0.0.1"
	cfg.SendPort = sim.LocalAddr().(*net.UDPAddr).Port
	cfg.ReadTimeout = 20 * time.Millisecond

	ep, err := NewEndpoint(cfg)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep, sim
}

// sendToEndpoint delivers one inbound datagram to the endpoint's bound port.
// The endpoint binds locally on all interfaces, so the test reaches it over
// loopback by port.
func sendToEndpoint(t *testing.T, ep *Endpoint, payload string) {
	t.Helper()
	port := ep.LocalAddr().(*net.UDPAddr).Port
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("failed to dial endpoint: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("failed to send payload: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSendCommandAppliesTransform(t *testing.T) {
	ep, sim := newTestEndpoint(t, Config{
		Name:   "uav",
		Fields: []string{"heading", "speed"},
	})

	// Update order among the three vectors must not matter.
	if err := ep.UpdateScale("heading", 1.0); err != nil {
		t.Fatalf("UpdateScale: %v", err)
	}
	if err := ep.UpdateSetpoint("heading", 90.0); err != nil {
		t.Fatalf("UpdateSetpoint: %v", err)
	}
	if err := ep.UpdateBias("heading", 0.0); err != nil {
		t.Fatalf("UpdateBias: %v", err)
	}

	if err := ep.SendCommand(); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	buf := make([]byte, 256)
	sim.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := sim.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("simulator receive: %v", err)
	}
	if got, want := string(buf[:n]), "90.000000, 0.000000\n"; got != want {
		t.Errorf("wire line = %q, want %q", got, want)
	}
}

func TestSendCommandTransformWithScaleAndBias(t *testing.T) {
	ep, sim := newTestEndpoint(t, Config{
		Name:   "ugv",
		Fields: []string{"velocity"},
	})

	if err := ep.UpdateSetpoint("velocity", 10.0); err != nil {
		t.Fatalf("UpdateSetpoint: %v", err)
	}
	if err := ep.UpdateBias("velocity", 2.0); err != nil {
		t.Fatalf("UpdateBias: %v", err)
	}
	if err := ep.UpdateScale("velocity", 0.5); err != nil {
		t.Fatalf("UpdateScale: %v", err)
	}
	if err := ep.SendCommand(); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	buf := make([]byte, 256)
	sim.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := sim.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("simulator receive: %v", err)
	}
	// 0.5 * (10 + 2)
	if got, want := string(buf[:n]), "6.000000\n"; got != want {
		t.Errorf("wire line = %q, want %q", got, want)
	}
}

func TestGetSetpointRoundTrip(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"altitude", "gamma"}})

	if err := ep.UpdateSetpoint("altitude", 18.5); err != nil {
		t.Fatalf("UpdateSetpoint: %v", err)
	}
	got, err := ep.GetSetpoint("altitude")
	if err != nil {
		t.Fatalf("GetSetpoint: %v", err)
	}
	if got != 18.5 {
		t.Errorf("GetSetpoint = %v, want 18.5", got)
	}

	// Untouched fields keep their construction defaults.
	got, err = ep.GetSetpoint("gamma")
	if err != nil {
		t.Fatalf("GetSetpoint: %v", err)
	}
	if got != 0 {
		t.Errorf("default setpoint = %v, want 0", got)
	}
}

func TestUnknownFieldFailsFast(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	if ep.HasField("unknown_field") {
		t.Error("HasField(unknown_field) = true, want false")
	}
	if !ep.HasField("heading") {
		t.Error("HasField(heading) = false, want true")
	}

	if err := ep.UpdateSetpoint("unknown_field", 1.0); !errors.Is(err, ErrUnknownField) {
		t.Errorf("UpdateSetpoint error = %v, want ErrUnknownField", err)
	}
	if err := ep.UpdateScale("unknown_field", 1.0); !errors.Is(err, ErrUnknownField) {
		t.Errorf("UpdateScale error = %v, want ErrUnknownField", err)
	}
	if err := ep.UpdateBias("unknown_field", 1.0); !errors.Is(err, ErrUnknownField) {
		t.Errorf("UpdateBias error = %v, want ErrUnknownField", err)
	}
	if _, err := ep.GetSetpoint("unknown_field"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("GetSetpoint error = %v, want ErrUnknownField", err)
	}

	// Failed updates leave all vectors unchanged.
	setpoint, scale, bias := ep.Parameters()
	if setpoint[0] != 0 || scale[0] != 1 || bias[0] != 0 {
		t.Errorf("vectors changed after failed updates: %v %v %v", setpoint, scale, bias)
	}
}

func TestScaleDefaultsToOne(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"a", "b", "c"}})
	_, scale, _ := ep.Parameters()
	for i, v := range scale {
		if v != 1.0 {
			t.Errorf("scale[%d] = %v, want 1.0", i, v)
		}
	}
}

func TestReferenceHeadingSeedsBias(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{
		Name:             "uav",
		Fields:           []string{"velocity", "heading"},
		ReferenceHeading: 199.67,
	})
	_, _, bias := ep.Parameters()
	if bias[0] != 0 {
		t.Errorf("bias[velocity] = %v, want 0", bias[0])
	}
	if bias[1] != 199.67 {
		t.Errorf("bias[heading] = %v, want 199.67", bias[1])
	}
}

func TestReceiveLoopPublishesSnapshot(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	if ep.Connected() {
		t.Error("Connected() = true before any packet")
	}
	if _, err := ep.GetState([]int{0}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("GetState before first packet error = %v, want ErrIndexOutOfRange", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendToEndpoint(t, ep, "12.5\t3.2\t0.0\n")
	if !waitFor(t, time.Second, ep.Connected) {
		t.Fatal("endpoint never observed the first packet")
	}

	if !waitFor(t, time.Second, func() bool { return len(ep.State()) == 3 }) {
		t.Fatalf("snapshot = %v, want 3 values", ep.State())
	}
	got, err := ep.GetState([]int{1})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(got) != 1 || got[0] != 3.2 {
		t.Errorf("GetState([1]) = %v, want [3.2]", got)
	}
}

func TestReceiveLoopRetainsSnapshotOnMalformedPacket(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendToEndpoint(t, ep, "1.0\t2.0\n")
	if !waitFor(t, time.Second, func() bool { return len(ep.State()) == 2 }) {
		t.Fatal("first snapshot never arrived")
	}

	sendToEndpoint(t, ep, "1.0\tnot-a-number\n")
	if !waitFor(t, time.Second, func() bool { return ep.Stats().Malformed == 1 }) {
		t.Fatal("malformed packet was not counted")
	}

	// Connection state and snapshot survive the bad packet.
	if !ep.Connected() {
		t.Error("Connected() = false after malformed packet, want true")
	}
	state := ep.State()
	if len(state) != 2 || state[0] != 1.0 || state[1] != 2.0 {
		t.Errorf("snapshot = %v, want previous [1 2]", state)
	}
	if !ep.Running() {
		t.Error("receive loop stopped on a malformed packet")
	}
}

func TestReceiveLoopStopsOnEmptyPayload(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendToEndpoint(t, ep, "5.0\n")
	if !waitFor(t, time.Second, ep.Connected) {
		t.Fatal("first packet never arrived")
	}

	sendToEndpoint(t, ep, "\n")
	if !waitFor(t, time.Second, func() bool { return !ep.Running() }) {
		t.Fatal("receive loop did not stop on empty payload")
	}

	// The last good snapshot is still queryable.
	got, err := ep.GetState([]int{0})
	if err != nil {
		t.Fatalf("GetState after loop exit: %v", err)
	}
	if got[0] != 5.0 {
		t.Errorf("GetState([0]) = %v, want [5]", got)
	}
}

func TestReceiveLoopIgnoresEmptyPayloadWhenConfigured(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{
		Name:               "uav",
		Fields:             []string{"heading"},
		IgnoreEmptyPackets: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendToEndpoint(t, ep, "\n")
	sendToEndpoint(t, ep, "7.5\n")
	if !waitFor(t, time.Second, func() bool { return len(ep.State()) == 1 }) {
		t.Fatal("snapshot never arrived after empty heartbeat")
	}
	if !ep.Running() {
		t.Error("receive loop stopped despite IgnoreEmptyPackets")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ep.Start(ctx); err != nil {
		t.Errorf("second Start = %v, want nil no-op", err)
	}
}

func TestCancellationStopsLoop(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	if !waitFor(t, time.Second, func() bool { return !ep.Running() }) {
		t.Fatal("receive loop did not observe cancellation")
	}
}

func TestCloseStopsLoopAndRejectsFurtherUse(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	ctx := context.Background()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ep.Running() {
		t.Error("receive loop still running after Close")
	}
	if err := ep.SendCommand(); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("SendCommand after Close = %v, want ErrEndpointClosed", err)
	}
	if err := ep.Start(ctx); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("Start after Close = %v, want ErrEndpointClosed", err)
	}
	// Close is idempotent.
	if err := ep.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	id, ch := ep.Subscribe()
	defer ep.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendToEndpoint(t, ep, "1.5\t2.5\n")
	select {
	case snapshot := <-ch:
		if len(snapshot) != 2 || snapshot[0] != 1.5 {
			t.Errorf("subscriber snapshot = %v, want [1.5 2.5]", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received a snapshot")
	}
}

func TestNewEndpointWithRemoteHost(t *testing.T) {
	// The inbound socket binds locally even when the simulator lives on
	// another machine; only the outbound side points at the remote host.
	// 192.0.2.1 (TEST-NET-1) is never assignable locally.
	ep, err := NewEndpoint(Config{
		Name:     "remote",
		Fields:   []string{"heading"},
		Host:     "192.0.2.1",
		RecvPort: 0,
		SendPort: 5515,
	})
	if err != nil {
		t.Fatalf("NewEndpoint with remote host: %v", err)
	}
	defer ep.Close()

	if got := ep.RemoteAddr().String(); got != "192.0.2.1:5515" {
		t.Errorf("RemoteAddr = %q, want 192.0.2.1:5515", got)
	}
	if port := ep.LocalAddr().(*net.UDPAddr).Port; port == 0 {
		t.Error("inbound socket not bound")
	}
}

func TestSendCommandInvokesOnSend(t *testing.T) {
	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to open simulator socket: %v", err)
	}
	defer sim.Close()

	var sent []string
	ep, err := NewEndpoint(Config{
		Name:     "uav",
		Fields:   []string{"heading"},
		Host:     "127.0.0.1",
		SendPort: sim.LocalAddr().(*net.UDPAddr).Port,
		OnSend:   func(line string) { sent = append(sent, line) },
	})
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer ep.Close()

	if err := ep.UpdateSetpoint("heading", 90); err != nil {
		t.Fatalf("UpdateSetpoint: %v", err)
	}
	if err := ep.SendCommand(); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if len(sent) != 1 || sent[0] != "90.000000\n" {
		t.Errorf("OnSend lines = %q, want the encoded command", sent)
	}
}

func TestIngestLinePublishesOutOfBand(t *testing.T) {
	ep, _ := newTestEndpoint(t, Config{Name: "uav", Fields: []string{"heading"}})

	if err := ep.IngestLine("4.0\t5.0\n"); err != nil {
		t.Fatalf("IngestLine: %v", err)
	}
	if !ep.Connected() {
		t.Error("IngestLine did not mark the endpoint connected")
	}
	got, err := ep.GetState([]int{0, 1})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got[0] != 4.0 || got[1] != 5.0 {
		t.Errorf("GetState = %v, want [4 5]", got)
	}

	// Empty lines are a no-op on this path, never a terminator.
	if err := ep.IngestLine("\n"); err != nil {
		t.Errorf("IngestLine(empty) = %v, want nil", err)
	}
	if err := ep.IngestLine("nan-or-bust\n"); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("IngestLine(malformed) = %v, want ErrMalformedPacket", err)
	}
}
