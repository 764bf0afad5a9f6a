// Package monitor runs the heartbeat loop for a single server.
//
// A Monitor repeatedly performs a handshake against its server through a
// Handshaker, turns the reply into a description.Server and hands it to
// the publish callback supplied by its owner. Monitors do not know about
// the topology they feed.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.ntppool.org/common/logger"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/clustertime"
	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/event"
)

const (
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultMinHeartbeatInterval = 500 * time.Millisecond
	DefaultConnectTimeout       = 5 * time.Second
)

// Reply is the outcome of a successful handshake.
type Reply struct {
	Document bson.Raw
	// RTT is the measured round trip; zero means the monitor uses the
	// wall time of the Handshake call.
	RTT time.Duration
}

// Handshaker performs one handshake against addr. Implementations that
// also implement io.Closer are closed when the monitor stops.
type Handshaker interface {
	Handshake(ctx context.Context, addr address.Address) (*Reply, error)
}

type HandshakerFunc func(ctx context.Context, addr address.Address) (*Reply, error)

func (f HandshakerFunc) Handshake(ctx context.Context, addr address.Address) (*Reply, error) {
	return f(ctx, addr)
}

// PublishFunc receives every description the monitor produces.
type PublishFunc func(description.Server)

type State int32

const (
	Idle State = iota
	Scanning
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Stopped:
		return "stopped"
	}
	return "invalid"
}

type Option func(*Monitor)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Monitor) { m.heartbeat = d }
}

func WithMinHeartbeatInterval(d time.Duration) Option {
	return func(m *Monitor) { m.minHeartbeat = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.connectTimeout = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

func WithEventBus(bus *event.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithClock makes the monitor advance clock with the $clusterTime of
// every successful reply.
func WithClock(clock *clustertime.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

type Monitor struct {
	addr    address.Address
	hs      Handshaker
	publish PublishFunc

	heartbeat      time.Duration
	minHeartbeat   time.Duration
	connectTimeout time.Duration

	log   *slog.Logger
	bus   *event.Bus
	clock *clustertime.Clock

	checkNow chan struct{}
	state    atomic.Int32
	rtt      rttMonitor
	failures int

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a monitor for addr. It does nothing until Start.
func New(addr address.Address, hs Handshaker, publish PublishFunc, opts ...Option) *Monitor {
	m := &Monitor{
		addr:           addr,
		hs:             hs,
		publish:        publish,
		heartbeat:      DefaultHeartbeatInterval,
		minHeartbeat:   DefaultMinHeartbeatInterval,
		connectTimeout: DefaultConnectTimeout,
		checkNow:       make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Setup()
	}
	if m.minHeartbeat > m.heartbeat {
		m.minHeartbeat = m.heartbeat
	}
	m.log = m.log.With("address", addr.String())
	return m
}

func (m *Monitor) Address() address.Address { return m.addr }

func (m *Monitor) State() State { return State(m.state.Load()) }

// Start launches the heartbeat loop. The first check runs immediately.
// Calling Start more than once, or after Stop, does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// RequestCheck wakes the loop for an immediate check, subject to the
// minimum heartbeat interval. Requests made while one is pending are
// coalesced.
func (m *Monitor) RequestCheck() {
	select {
	case m.checkNow <- struct{}{}:
	default:
	}
}

// Stop cancels any in-flight handshake and waits for the loop to exit.
// Once Stop returns the monitor never publishes again. Stop must not be
// called from the publish callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		}
		return
	}
	m.stopped = true
	m.state.Store(int32(Stopped))
	started, cancel := m.started, m.cancel
	m.mu.Unlock()

	if started {
		cancel()
		<-m.done
	}
	if c, ok := m.hs.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.log.Debug("closing handshaker", "err", err)
		}
	}
}

func (m *Monitor) setState(s State) {
	for {
		cur := m.state.Load()
		if State(cur) == Stopped {
			return
		}
		if m.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	succeeded := false
	for {
		start := time.Now()
		ok := m.check(ctx)
		if ctx.Err() != nil {
			return
		}

		next := m.heartbeat
		if !ok && succeeded {
			next = m.minHeartbeat
		}
		succeeded = ok

		if !m.wait(ctx, start, next) {
			return
		}
	}
}

// wait sleeps until start+interval, or until a requested check is allowed
// (start+minHeartbeat). It returns false when the context ends.
func (m *Monitor) wait(ctx context.Context, start time.Time, interval time.Duration) bool {
	timer := time.NewTimer(time.Until(start.Add(interval)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-m.checkNow:
			d := time.Until(start.Add(m.minHeartbeat))
			if d <= 0 {
				return true
			}
			timer.Reset(d)
		}
	}
}

var errEmptyReply = errors.New("empty handshake reply")

// check runs one handshake and publishes the result. It reports whether
// the server answered successfully.
func (m *Monitor) check(ctx context.Context) bool {
	m.setState(Scanning)
	defer m.setState(Idle)

	m.bus.Publish(event.ServerHeartbeatStarted{Address: m.addr})

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	reply, err := m.hs.Handshake(hctx, m.addr)
	cancel()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return false
	}
	if err == nil && reply == nil {
		err = errEmptyReply
	}

	var desc description.Server
	if err == nil {
		sample := reply.RTT
		if sample <= 0 {
			sample = elapsed
		}
		desc = description.NewServer(m.addr, reply.Document, m.rtt.add(sample), time.Now())
		if desc.Kind == description.Unknown {
			err = desc.Error
		}
	}

	if err != nil {
		m.rtt.reset()
		if desc.Error == nil {
			desc = description.NewServerFromError(m.addr, time.Now(), err)
		}
		if m.failures == 0 {
			m.log.Info("server check failed", "err", err, "duration", elapsed)
		} else {
			m.log.Debug("server check failed", "err", err, "duration", elapsed, "failures", m.failures+1)
		}
		m.failures++
		m.bus.Publish(event.ServerHeartbeatFailed{Address: m.addr, Duration: elapsed, Err: err})
		m.publish(desc)
		return false
	}

	m.failures = 0
	if m.clock != nil {
		m.clock.AdvanceFromReply(reply.Document)
	}
	m.log.Debug("server check", "type", desc.Kind, "rtt", desc.AverageRTT, "duration", elapsed)
	m.bus.Publish(event.ServerHeartbeatSucceeded{Address: m.addr, Duration: elapsed, Reply: desc})
	m.publish(desc)
	return true
}
