package srv

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.ntppool.org/common/logger"

	"go.ntppool.org/clustermon/address"
)

// DefaultRescanInterval is how often a Watcher repeats the SRV lookup.
const DefaultRescanInterval = 60 * time.Second

// Membership is the set of servers a Watcher keeps in sync;
// *topology.Topology implements it.
type Membership interface {
	Add(addr address.Address) error
	Remove(addr address.Address) error
}

// LookupFunc resolves the seed list for a host.
type LookupFunc func(ctx context.Context, host string) ([]address.Address, error)

type WatcherOption func(*Watcher)

func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

func WithLookup(f LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = f }
}

func WithLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// Watcher polls the SRV records of a host and applies the difference to
// a Membership. A failed lookup leaves the membership unchanged.
type Watcher struct {
	host     string
	target   Membership
	interval time.Duration
	lookup   LookupFunc
	log      *slog.Logger

	current []address.Address
}

// NewWatcher creates a watcher for host. initial is the membership the
// target already has, usually the result of the first Lookup.
func NewWatcher(host string, target Membership, initial []address.Address, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		host:     host,
		target:   target,
		interval: DefaultRescanInterval,
		lookup:   Lookup,
		current:  slices.SortedFunc(slices.Values(initial), address.Address.Compare),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.Setup()
	}
	w.log = w.log.With("srv", w.host)
	return w
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one lookup and applies the changes.
func (w *Watcher) Poll(ctx context.Context) {
	found, err := w.lookup(ctx, w.host)
	if err != nil {
		w.log.WarnContext(ctx, "srv lookup failed, keeping membership", "err", err)
		return
	}
	added, removed := diff(w.current, found)
	for _, addr := range added {
		w.log.InfoContext(ctx, "adding server from srv", "address", addr)
		if err := w.target.Add(addr); err != nil {
			w.log.ErrorContext(ctx, "could not add server", "address", addr, "err", err)
			return
		}
	}
	for _, addr := range removed {
		w.log.InfoContext(ctx, "removing server missing from srv", "address", addr)
		if err := w.target.Remove(addr); err != nil {
			w.log.ErrorContext(ctx, "could not remove server", "address", addr, "err", err)
			return
		}
	}
	w.current = slices.SortedFunc(slices.Values(found), address.Address.Compare)
}

// diff returns the addresses in next but not prev, and in prev but not next.
// prev must be sorted.
func diff(prev, next []address.Address) (added, removed []address.Address) {
	seen := make(map[address.Address]bool, len(next))
	for _, a := range next {
		seen[a] = true
		if _, ok := slices.BinarySearchFunc(prev, a, address.Address.Compare); !ok {
			added = append(added, a)
		}
	}
	for _, a := range prev {
		if !seen[a] {
			removed = append(removed, a)
		}
	}
	return added, removed
}
