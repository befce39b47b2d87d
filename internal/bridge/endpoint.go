package bridge

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/laminar-data/fgbridge/internal/monitoring"
)

// Config describes one endpoint: the resolved outbound field order, the UDP
// port pair, and receive-loop behaviour. Fields is the already-parsed chunk
// name list from the vehicle's input protocol description.
type Config struct {
	// Name identifies the endpoint in logs and the API, e.g. "uav".
	Name string

	// Fields is the ordered outbound field list. Wire position i carries
	// the field registered at index i.
	Fields []string

	// Host is the simulator host commands are sent to. Defaults to
	// localhost. Inbound state is accepted on RecvPort regardless of the
	// sender, so a remote simulator needs no local bind on its address.
	Host string

	// RecvPort is the local UDP port bound for inbound simulator state.
	RecvPort int

	// SendPort is the remote UDP port commands are sent to.
	SendPort int

	// ReferenceHeading seeds the bias of the "heading" field, when one is
	// registered. Each endpoint carries its own value so that concurrent
	// vehicles can use different reference frames.
	ReferenceHeading float64

	// IgnoreEmptyPackets keeps the receive loop running when a datagram
	// decodes to an empty vector. The zero value preserves the simulator's
	// end-of-stream convention: an empty payload terminates the loop.
	IgnoreEmptyPackets bool

	// ReadTimeout bounds each blocking receive so cancellation latency is
	// predictable. Defaults to 100ms.
	ReadTimeout time.Duration

	// RecvBufBytes sets the inbound socket receive buffer when positive.
	RecvBufBytes int

	// OnSend, when set, receives a copy of every successfully sent command
	// line. The daemon uses it to persist command history.
	OnSend func(line string)
}

// Endpoint owns the field registry, the three parameter vectors, the latest
// state snapshot, one inbound and one outbound UDP socket, and the receive
// goroutine for a single simulated vehicle.
//
// The parameter vectors are guarded by a mutex so that setpoint updates and
// SendCommand may be called from any goroutine. The snapshot is written only
// by the receive loop and replaced wholesale under its own lock; readers
// never observe a partially updated vector.
type Endpoint struct {
	name     string
	registry *FieldRegistry

	paramMu  sync.Mutex
	setpoint []float64
	scale    []float64
	bias     []float64

	stateMu   sync.RWMutex
	state     []float64
	connected atomic.Bool

	in  *net.UDPConn
	out *net.UDPConn

	stats       PacketStats
	readTimeout time.Duration
	ignoreEmpty bool
	onSend      func(string)

	subMu       sync.Mutex
	subscribers map[string]chan []float64

	runMu   sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEndpoint constructs an endpoint from cfg, opening both sockets and
// binding the inbound port immediately. Scale defaults to 1.0 and setpoint
// and bias to 0.0 for every field; a registered "heading" field has its bias
// seeded from cfg.ReferenceHeading.
func NewEndpoint(cfg Config) (*Endpoint, error) {
	registry, err := NewFieldRegistry(cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", cfg.Name, err)
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 100 * time.Millisecond
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, cfg.SendPort))
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: resolve remote address: %w", cfg.Name, err)
	}

	// The inbound socket binds locally; Host only names the remote side.
	in, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.RecvPort})
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: bind inbound socket: %w", cfg.Name, err)
	}
	if cfg.RecvBufBytes > 0 {
		if err := in.SetReadBuffer(cfg.RecvBufBytes); err != nil {
			monitoring.Logf("endpoint %s: failed to set receive buffer to %d: %v", cfg.Name, cfg.RecvBufBytes, err)
		}
	}

	out, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("endpoint %s: open outbound socket: %w", cfg.Name, err)
	}

	n := registry.Len()
	e := &Endpoint{
		name:        cfg.Name,
		registry:    registry,
		setpoint:    make([]float64, n),
		scale:       make([]float64, n),
		bias:        make([]float64, n),
		in:          in,
		out:         out,
		readTimeout: readTimeout,
		ignoreEmpty: cfg.IgnoreEmptyPackets,
		onSend:      cfg.OnSend,
		subscribers: make(map[string]chan []float64),
	}
	for i := range e.scale {
		e.scale[i] = 1.0
	}
	if i, err := registry.IndexOf("heading"); err == nil {
		e.bias[i] = cfg.ReferenceHeading
	}
	return e, nil
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string { return e.name }

// LocalAddr returns the bound inbound socket address. Useful when RecvPort
// was 0 and the kernel chose the port.
func (e *Endpoint) LocalAddr() net.Addr { return e.in.LocalAddr() }

// RemoteAddr returns the outbound command destination.
func (e *Endpoint) RemoteAddr() net.Addr { return e.out.RemoteAddr() }

// Registry returns the endpoint's field registry.
func (e *Endpoint) Registry() *FieldRegistry { return e.registry }

// HasField reports whether name is a registered outbound field.
func (e *Endpoint) HasField(name string) bool { return e.registry.Has(name) }

// UpdateSetpoint sets the target value for a named field.
func (e *Endpoint) UpdateSetpoint(name string, value float64) error {
	return e.updateVector(name, value, func(i int, v float64) { e.setpoint[i] = v })
}

// UpdateScale sets the linear scale coefficient for a named field.
func (e *Endpoint) UpdateScale(name string, value float64) error {
	return e.updateVector(name, value, func(i int, v float64) { e.scale[i] = v })
}

// UpdateBias sets the additive bias for a named field.
func (e *Endpoint) UpdateBias(name string, value float64) error {
	return e.updateVector(name, value, func(i int, v float64) { e.bias[i] = v })
}

func (e *Endpoint) updateVector(name string, value float64, set func(int, float64)) error {
	i, err := e.registry.IndexOf(name)
	if err != nil {
		return err
	}
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	set(i, value)
	return nil
}

// GetSetpoint returns the current setpoint for a named field.
func (e *Endpoint) GetSetpoint(name string) (float64, error) {
	i, err := e.registry.IndexOf(name)
	if err != nil {
		return 0, err
	}
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	return e.setpoint[i], nil
}

// Parameters returns copies of the setpoint, scale and bias vectors in
// registry order, for the API status surface.
func (e *Endpoint) Parameters() (setpoint, scale, bias []float64) {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	setpoint = append([]float64(nil), e.setpoint...)
	scale = append([]float64(nil), e.scale...)
	bias = append([]float64(nil), e.bias...)
	return setpoint, scale, bias
}

// SendCommand builds the transformed command vector, encodes it, and sends
// one datagram to the remote port. No acknowledgement is awaited; the send
// never blocks the caller beyond the non-blocking socket write.
func (e *Endpoint) SendCommand() error {
	e.runMu.Lock()
	if e.closed {
		e.runMu.Unlock()
		return ErrEndpointClosed
	}
	e.runMu.Unlock()

	e.paramMu.Lock()
	command := BuildCommand(e.setpoint, e.scale, e.bias)
	e.paramMu.Unlock()

	payload := EncodeCommand(command)
	if _, err := e.out.Write(payload); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	e.stats.AddSent()
	if e.onSend != nil {
		e.onSend(string(payload))
	}
	return nil
}

// Connected reports whether at least one inbound packet has been received.
// The transition is one-way for the lifetime of the endpoint.
func (e *Endpoint) Connected() bool { return e.connected.Load() }

// State returns a copy of the full current state snapshot. It is nil before
// the first packet arrives.
func (e *Endpoint) State() []float64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.state == nil {
		return nil
	}
	return append([]float64(nil), e.state...)
}

// GetState returns the snapshot values at the given positions. An index
// beyond the snapshot's current length is an IndexOutOfRangeError; this can
// legitimately happen before the first packet or when the simulator changes
// output arity.
func (e *Endpoint) GetState(indices []int) ([]float64, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make([]float64, len(indices))
	for n, i := range indices {
		if i < 0 || i >= len(e.state) {
			return nil, &IndexOutOfRangeError{Index: i, Length: len(e.state)}
		}
		out[n] = e.state[i]
	}
	return out, nil
}

// Stats returns the endpoint's receive and send counters.
func (e *Endpoint) Stats() StatsSnapshot { return e.stats.Snapshot() }

// LogStats writes the current counters to the package logger.
func (e *Endpoint) LogStats() { e.stats.LogStats(e.name) }

// Subscribe registers a channel that receives a copy of every published
// state snapshot. Slow subscribers are skipped rather than blocking the
// receive loop; skips are counted in the endpoint stats.
func (e *Endpoint) Subscribe() (string, <-chan []float64) {
	id := uuid.NewString()
	ch := make(chan []float64, 1)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (e *Endpoint) Unsubscribe(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subscribers[id]; ok {
		close(ch)
		delete(e.subscribers, id)
	}
}

// IngestLine decodes one generic-protocol line received out of band (for
// example from a serial telemetry tap) and publishes it as the current
// snapshot. Empty lines are a no-op; they never terminate anything here.
func (e *Endpoint) IngestLine(line string) error {
	values, err := DecodeState([]byte(line))
	if err != nil {
		e.stats.AddMalformed()
		return err
	}
	if values == nil {
		return nil
	}
	e.connected.Store(true)
	e.publish(values)
	return nil
}

// publish replaces the snapshot wholesale and fans a copy out to every
// subscriber without blocking.
func (e *Endpoint) publish(values []float64) {
	e.stateMu.Lock()
	e.state = values
	e.stateMu.Unlock()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		snapshot := append([]float64(nil), values...)
		select {
		case ch <- snapshot:
		default:
			e.stats.AddDropped()
		}
	}
}

// Start launches the receive loop. Starting an endpoint that is already
// running is a no-op; the loop runs until ctx is cancelled, the endpoint is
// closed, or (unless IgnoreEmptyPackets is set) the simulator signals
// end-of-stream with an empty payload.
func (e *Endpoint) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.closed {
		return ErrEndpointClosed
	}
	if e.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.receiveLoop(loopCtx, e.done)
	return nil
}

// receiveLoop continuously reads inbound datagrams, decodes them, and
// publishes each successful decode as the current snapshot. Decode failures
// are logged and counted; the previous snapshot is retained and the loop
// keeps running.
func (e *Endpoint) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.markStopped()

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Bound the blocking receive so cancellation is observed promptly.
		e.in.SetReadDeadline(time.Now().Add(e.readTimeout))
		n, _, err := e.in.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// A closed socket during teardown is a termination signal,
			// not a fault.
			e.runMu.Lock()
			closed := e.closed
			e.runMu.Unlock()
			if closed {
				return
			}
			monitoring.Logf("endpoint %s: read error: %v", e.name, err)
			continue
		}

		e.stats.AddPacket(n)
		if !e.connected.Load() {
			e.connected.Store(true)
			monitoring.Logf("endpoint %s: connected (first packet, %d bytes)", e.name, n)
		}

		values, err := DecodeState(buf[:n])
		if err != nil {
			e.stats.AddMalformed()
			monitoring.Logf("endpoint %s: %v", e.name, err)
			continue
		}
		if values == nil {
			if e.ignoreEmpty {
				continue
			}
			monitoring.Logf("endpoint %s: empty payload, ending receive loop", e.name)
			return
		}
		e.publish(values)
	}
}

func (e *Endpoint) markStopped() {
	e.runMu.Lock()
	e.running = false
	e.runMu.Unlock()
}

// Running reports whether the receive loop is currently active.
func (e *Endpoint) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// Close stops the receive loop, closes both sockets, and closes all
// subscriber channels. The endpoint cannot be restarted afterwards.
func (e *Endpoint) Close() error {
	e.runMu.Lock()
	if e.closed {
		e.runMu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	done := e.done
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Closing the inbound socket unblocks any pending receive.
	inErr := e.in.Close()
	outErr := e.out.Close()
	if done != nil {
		<-done
	}

	e.subMu.Lock()
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
	e.subMu.Unlock()

	if inErr != nil {
		return inErr
	}
	return outErr
}
