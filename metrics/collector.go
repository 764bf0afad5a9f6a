// Package metrics turns monitoring events into prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/event"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type Collector struct {
	Heartbeats        *prometheus.CounterVec
	HeartbeatDuration *prometheus.HistogramVec
	RTT               *prometheus.GaugeVec
	Servers           *prometheus.GaugeVec
	TopologyKind      *prometheus.GaugeVec
	TopologyChanges   prometheus.Counter
}

// NewCollector creates and registers the topology metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Heartbeats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clustermon_heartbeats_total",
				Help: "Server heartbeats by address and outcome",
			},
			[]string{"address", "outcome"},
		),
		HeartbeatDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clustermon_heartbeat_duration_seconds",
				Help:    "Heartbeat round trip time in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"outcome"},
		),
		RTT: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clustermon_server_rtt_seconds",
				Help: "Average round trip time per server",
			},
			[]string{"address"},
		),
		Servers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clustermon_servers",
				Help: "Number of known servers by server type",
			},
			[]string{"type"},
		),
		TopologyKind: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clustermon_topology_kind",
				Help: "Set to 1 for the current topology kind",
			},
			[]string{"kind"},
		),
		TopologyChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clustermon_topology_changes_total",
				Help: "Number of published topology changes",
			},
		),
	}

	reg.MustRegister(
		c.Heartbeats,
		c.HeartbeatDuration,
		c.RTT,
		c.Servers,
		c.TopologyKind,
		c.TopologyChanges,
	)
	return c
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(ctx context.Context, e event.Event) {
	switch e := e.(type) {
	case event.ServerHeartbeatSucceeded:
		addr := e.Address.String()
		c.Heartbeats.WithLabelValues(addr, outcomeSuccess).Inc()
		c.HeartbeatDuration.WithLabelValues(outcomeSuccess).Observe(e.Duration.Seconds())
		if e.Reply.AverageRTTSet {
			c.RTT.WithLabelValues(addr).Set(e.Reply.AverageRTT.Seconds())
		}
		recordHeartbeat(ctx, addr, outcomeSuccess)

	case event.ServerHeartbeatFailed:
		addr := e.Address.String()
		c.Heartbeats.WithLabelValues(addr, outcomeFailure).Inc()
		c.HeartbeatDuration.WithLabelValues(outcomeFailure).Observe(e.Duration.Seconds())
		recordHeartbeat(ctx, addr, outcomeFailure)

	case event.ServerClosed:
		addr := e.Address.String()
		c.RTT.DeleteLabelValues(addr)
		c.Heartbeats.DeletePartialMatch(prometheus.Labels{"address": addr})

	case event.TopologyDescriptionChanged:
		c.TopologyChanges.Inc()
		recordTopologyChange(ctx, e.New.Kind)
		c.setTopology(e.New)
	}
}

func (c *Collector) setTopology(topo description.Topology) {
	c.TopologyKind.Reset()
	c.TopologyKind.WithLabelValues(topo.Kind.String()).Set(1)

	counts := map[description.ServerType]int{}
	for _, s := range topo.Servers {
		counts[s.Kind]++
	}
	for _, kind := range description.ServerTypeValues() {
		c.Servers.WithLabelValues(kind.String()).Set(float64(counts[kind]))
	}
}

// Run feeds events from bus into the collector until ctx is done or the
// bus is closed.
func (c *Collector) Run(ctx context.Context, bus *event.Bus) error {
	events, unsubscribe := bus.Subscribe(256, func(e event.Event) bool {
		_, started := e.(event.ServerHeartbeatStarted)
		return !started
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.Observe(ctx, e)
		}
	}
}
