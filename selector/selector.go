package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/readpref"
)

const (
	DefaultLocalThreshold = 15 * time.Millisecond
	DefaultTimeout        = 30 * time.Second
	DefaultRetryInterval  = 25 * time.Millisecond
)

var (
	ErrInvalidServerPreference = errors.New("invalid server preference")
	ErrNoServerAvailable       = errors.New("no server available")
)

// SelectionError is returned when no server could be selected before the
// timeout. It unwraps to ErrNoServerAvailable and, when the context ended
// the selection, to the context error.
type SelectionError struct {
	ReadPref readpref.ReadPref
	Topology description.Topology
	Attempts int
	Err      error
}

func (e *SelectionError) Error() string {
	msg := fmt.Sprintf("server selection failed after %d attempts: %s for read preference %s, topology %s",
		e.Attempts, ErrNoServerAvailable, e.ReadPref, e.Topology)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SelectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNoServerAvailable}
	}
	return []error{ErrNoServerAvailable, e.Err}
}

// Deployment is what Select reads snapshots from; *topology.Topology
// implements it.
type Deployment interface {
	Snapshot() description.Topology
	RequestImmediateCheck()
}

// changeNotifier is implemented by deployments that can wake a waiting
// selection when their snapshot changes.
type changeNotifier interface {
	Changes() <-chan struct{}
}

// ConnectableFunc reports whether the connection pool can currently hand
// out connections to addr.
type ConnectableFunc func(addr address.Address) bool

type Option func(*Selector)

func WithLocalThreshold(d time.Duration) Option {
	return func(s *Selector) { s.localThreshold = d }
}

// WithTimeout sets the server selection timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Selector) { s.timeout = d }
}

func WithRetryInterval(d time.Duration) Option {
	return func(s *Selector) { s.retryInterval = d }
}

func WithConnectable(f ConnectableFunc) Option {
	return func(s *Selector) { s.connectable = f }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Selector) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Selector) { s.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Selector) { s.tracer = tp.Tracer("go.ntppool.org/clustermon/selector") }
}

// WithRand makes the random pick deterministic.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.intN = r.IntN }
}

type Selector struct {
	localThreshold time.Duration
	timeout        time.Duration
	retryInterval  time.Duration
	connectable    ConnectableFunc

	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	intN    func(int) int
}

func New(opts ...Option) *Selector {
	s := &Selector{
		localThreshold: DefaultLocalThreshold,
		timeout:        DefaultTimeout,
		retryInterval:  DefaultRetryInterval,
		intN:           rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Setup()
	}
	if s.tracer == nil {
		s.tracer = tracing.Tracer()
	}
	return s
}

// SelectFrom runs one selection attempt against topo.
func (s *Selector) SelectFrom(topo description.Topology, rp readpref.ReadPref) (description.Server, error) {
	if err := validate(rp, topo.HeartbeatInterval); err != nil {
		return description.Server{}, err
	}
	if topo.CompatibilityErr != nil {
		return description.Server{}, topo.CompatibilityErr
	}

	window := s.window(eligible(topo, rp))
	if len(window) == 0 {
		return description.Server{}, ErrNoServerAvailable
	}
	return window[s.intN(len(window))], nil
}

// window drops servers that are not connectable and keeps those within
// localThreshold of the fastest one.
func (s *Selector) window(servers []description.Server) []description.Server {
	var list []description.Server
	for _, srv := range servers {
		if s.connectable != nil && !s.connectable(srv.Addr) {
			continue
		}
		list = append(list, srv)
	}
	if len(list) == 0 {
		return nil
	}

	fastest := list[0].AverageRTT
	for _, srv := range list[1:] {
		fastest = min(fastest, srv.AverageRTT)
	}
	limit := fastest + s.localThreshold

	inWindow := list[:0]
	for _, srv := range list {
		if srv.AverageRTT <= limit {
			inWindow = append(inWindow, srv)
		}
	}
	return inWindow
}

// Select repeats SelectFrom against fresh snapshots of dep until a server
// is found, the read preference turns out to be invalid, or the selection
// timeout (or ctx) ends.
func (s *Selector) Select(ctx context.Context, dep Deployment, rp readpref.ReadPref) (description.Server, error) {
	ctx, span := s.tracer.Start(ctx, "selector.Select",
		trace.WithAttributes(attribute.String("read_preference", rp.String())))
	defer span.End()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	retry := backoff.NewConstantBackOff(s.retryInterval)
	attempts := 0
	for {
		var changed <-chan struct{}
		if n, ok := dep.(changeNotifier); ok {
			changed = n.Changes()
		}
		topo := dep.Snapshot()
		attempts++

		srv, err := s.SelectFrom(topo, rp)
		if err == nil {
			span.SetAttributes(
				attribute.String("server", srv.Addr.String()),
				attribute.String("server_type", srv.Kind.String()),
				attribute.Int("attempts", attempts),
			)
			s.metrics.observe(rp.Mode, resultOK, attempts, time.Since(start))
			return srv, nil
		}
		if !errors.Is(err, ErrNoServerAvailable) {
			result := resultInvalid
			if errors.Is(err, description.ErrIncompatible) {
				result = resultIncompatible
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.observe(rp.Mode, result, attempts, time.Since(start))
			return description.Server{}, err
		}

		dep.RequestImmediateCheck()

		timer := time.NewTimer(retry.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			serr := &SelectionError{ReadPref: rp, Topology: topo, Attempts: attempts, Err: ctx.Err()}
			s.log.DebugContext(ctx, "server selection failed", "err", serr)
			span.RecordError(serr)
			span.SetStatus(codes.Error, ErrNoServerAvailable.Error())
			result := resultTimeout
			if errors.Is(ctx.Err(), context.Canceled) {
				result = resultCanceled
			}
			s.metrics.observe(rp.Mode, result, attempts, time.Since(start))
			return description.Server{}, serr
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}
