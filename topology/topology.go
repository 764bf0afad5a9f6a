// Package topology aggregates server descriptions from one monitor per
// member into a consistent view of the deployment.
//
// Every description goes through a single serialized apply step which
// classifies the deployment, reconciles membership and publishes a new
// immutable snapshot. Readers get the latest snapshot without locking.
package topology

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.ntppool.org/common/logger"
	"golang.org/x/sync/errgroup"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/clustertime"
	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/event"
	"go.ntppool.org/clustermon/monitor"
	"go.ntppool.org/clustermon/wire"
)

var ErrClosed = errors.New("topology is closed")

// HandshakerFactory returns the handshake source for a new monitor.
type HandshakerFactory func(address.Address) monitor.Handshaker

type Option func(*Topology)

func WithLogger(log *slog.Logger) Option {
	return func(t *Topology) { t.log = log }
}

func WithEventBus(bus *event.Bus) Option {
	return func(t *Topology) { t.bus = bus }
}

// WithClock shares a cluster clock advanced by every monitor.
func WithClock(clock *clustertime.Clock) Option {
	return func(t *Topology) { t.clock = clock }
}

// WithHandshaker replaces the default wire protocol handshake.
func WithHandshaker(f HandshakerFactory) Option {
	return func(t *Topology) { t.newHandshaker = f }
}

// published is what readers see: the snapshot plus a channel closed when
// it is replaced.
type published struct {
	topo    description.Topology
	changed chan struct{}
}

type Topology struct {
	cfg           Config
	id            string
	log           *slog.Logger
	bus           *event.Bus
	clock         *clustertime.Clock
	newHandshaker HandshakerFactory

	mu        sync.Mutex
	st        state
	monitors  map[address.Address]*monitor.Monitor
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	closed    bool
	stopping  sync.WaitGroup

	current atomic.Pointer[published]
}

// New validates cfg and returns a topology with every seed Unknown. No
// monitoring happens until Connect.
func New(cfg Config, opts ...Option) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	t := &Topology{
		cfg:      cfg,
		id:       ulid.Make().String(),
		st:       newState(cfg),
		monitors: map[address.Address]*monitor.Monitor{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Setup()
	}
	t.log = t.log.With("topology", t.id)
	if t.clock == nil {
		t.clock = &clustertime.Clock{}
	}
	if t.newHandshaker == nil {
		d := &wire.Dialer{Logger: t.log}
		t.newHandshaker = d.Handshaker
	}

	t.current.Store(&published{topo: t.buildSnapshot(), changed: make(chan struct{})})
	return t, nil
}

func (t *Topology) ID() string { return t.id }

func (t *Topology) Clock() *clustertime.Clock { return t.clock }

// Connect starts a monitor for every known member. Monitors run until
// Close or until ctx ends.
func (t *Topology) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return nil
	}
	t.connected = true
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.bus.Publish(event.TopologyOpening{TopologyID: t.id})
	t.log.Info("connecting", "kind", t.st.kind.String(), "seeds", len(t.st.servers))
	for _, a := range t.st.sortedAddrs() {
		t.startMonitor(a)
	}
	return nil
}

// Snapshot returns the current view. It never blocks on monitors.
func (t *Topology) Snapshot() description.Topology {
	return t.current.Load().topo
}

// Changes returns a channel that is closed when a newer snapshot is
// published.
func (t *Topology) Changes() <-chan struct{} {
	return t.current.Load().changed
}

// RequestImmediateCheck wakes every monitor.
func (t *Topology) RequestImmediateCheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.monitors {
		m.RequestCheck()
	}
}

// Add makes addr a member. Adding a known member does nothing.
func (t *Topology) Add(addr address.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	var out outcome
	if !t.st.add(addr, &out) {
		return nil
	}
	t.st.recompute()
	t.commit(out)
	return nil
}

// Remove drops addr and stops its monitor.
func (t *Topology) Remove(addr address.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	var out outcome
	if !t.st.remove(addr, &out) {
		return nil
	}
	t.st.recompute()
	t.commit(out)
	return nil
}

// Close stops every monitor and waits for them to exit. Calling it again
// does nothing.
func (t *Topology) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	monitors := slices.Collect(maps.Values(t.monitors))
	clear(t.monitors)
	connected := t.connected
	t.mu.Unlock()

	var g errgroup.Group
	for _, m := range monitors {
		g.Go(func() error {
			m.Stop()
			t.bus.Publish(event.ServerClosed{TopologyID: t.id, Address: m.Address()})
			return nil
		})
	}
	err := g.Wait()
	t.stopping.Wait()

	if t.cancel != nil {
		t.cancel()
	}
	if connected {
		t.bus.Publish(event.TopologyClosed{TopologyID: t.id})
		t.log.Info("closed")
	}
	return err
}

// startMonitor must be called with t.mu held.
func (t *Topology) startMonitor(addr address.Address) {
	if _, ok := t.monitors[addr]; ok {
		return
	}
	var m *monitor.Monitor
	m = monitor.New(addr, t.newHandshaker(addr),
		func(d description.Server) { t.apply(m, d) },
		monitor.WithHeartbeatInterval(t.cfg.HeartbeatInterval),
		monitor.WithMinHeartbeatInterval(t.cfg.MinHeartbeatInterval),
		monitor.WithConnectTimeout(t.cfg.ConnectTimeout),
		monitor.WithLogger(t.log),
		monitor.WithEventBus(t.bus),
		monitor.WithClock(t.clock),
	)
	t.monitors[addr] = m
	t.bus.Publish(event.ServerOpening{TopologyID: t.id, Address: addr})
	m.Start(t.ctx)
}

// stopMonitor must be called with t.mu held. The monitor is stopped in
// the background since the caller may be running inside its publish
// callback.
func (t *Topology) stopMonitor(addr address.Address) {
	m, ok := t.monitors[addr]
	if !ok {
		return
	}
	delete(t.monitors, addr)
	t.stopping.Add(1)
	go func() {
		defer t.stopping.Done()
		m.Stop()
		t.bus.Publish(event.ServerClosed{TopologyID: t.id, Address: addr})
	}()
}

// apply is the publish callback of every monitor.
func (t *Topology) apply(from *monitor.Monitor, d description.Server) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// a monitor that has been replaced or removed no longer speaks for
	// its address
	if t.closed || t.monitors[d.Addr] != from {
		return
	}

	prev, known := t.st.servers[d.Addr]
	out := t.st.apply(d, t.log)
	if cur, ok := t.st.servers[d.Addr]; ok && known && !prev.Equal(cur) {
		t.log.Debug("server description changed", "address", d.Addr.String(),
			"from", prev.Kind.String(), "to", cur.Kind.String())
		t.bus.Publish(event.ServerDescriptionChanged{
			TopologyID: t.id, Address: d.Addr, Previous: prev, New: cur,
		})
	}
	t.commit(out)
}

// commit starts and stops monitors for membership changes, requests
// checks and publishes a new snapshot. Must be called with t.mu held.
func (t *Topology) commit(out outcome) {
	if t.connected {
		for _, a := range out.added {
			t.log.Info("adding member", "address", a.String())
			t.startMonitor(a)
		}
		for _, a := range out.removed {
			t.log.Info("removing member", "address", a.String())
			t.stopMonitor(a)
		}
		for _, a := range out.check {
			if m, ok := t.monitors[a]; ok {
				m.RequestCheck()
			}
		}
	}

	prev := t.current.Load()
	next := t.buildSnapshot()
	if next.CompatibilityErr != nil && prev.topo.CompatibilityErr == nil {
		t.log.Warn("incompatible server in topology", "err", next.CompatibilityErr)
	}
	t.current.Store(&published{topo: next, changed: make(chan struct{})})
	if !prev.topo.Equal(next) {
		t.bus.Publish(event.TopologyDescriptionChanged{TopologyID: t.id, Previous: prev.topo, New: next})
		if prev.topo.Kind != next.Kind {
			t.log.Info("topology kind changed", "from", prev.topo.Kind.String(), "to", next.Kind.String())
		}
	}
	close(prev.changed)
}

func (t *Topology) buildSnapshot() description.Topology {
	servers := slices.Collect(maps.Values(t.st.servers))
	return description.NewTopology(t.id, t.st.kind, t.st.setName,
		t.st.maxSetVersion, t.st.maxElectionID, servers, t.cfg.HeartbeatInterval)
}
