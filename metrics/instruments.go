package metrics

import (
	"context"
	"log/slog"
	"sync"

	"go.ntppool.org/common/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"go.ntppool.org/clustermon/description"
)

var (
	HeartbeatsSent  metric.Int64Counter
	TopologyChanged metric.Int64Counter

	setupOnce sync.Once
	setupErr  error
)

// InitInstruments creates the OpenTelemetry instruments. It is safe to
// call more than once; until it succeeds the instruments record nothing.
func InitInstruments() error {
	setupOnce.Do(func() {
		setupErr = initializeInstruments()
	})
	return setupErr
}

func initializeInstruments() error {
	log := slog.Default()
	meter := metrics.GetMeter("clustermon")

	var err error

	HeartbeatsSent, err = meter.Int64Counter("clustermon.heartbeats_total",
		metric.WithDescription("Server heartbeats by outcome"))
	if err != nil {
		log.ErrorContext(context.Background(), "failed to create HeartbeatsSent counter", "err", err)
		return err
	}

	TopologyChanged, err = meter.Int64Counter("clustermon.topology_changes_total",
		metric.WithDescription("Published topology changes by new topology kind"))
	if err != nil {
		log.ErrorContext(context.Background(), "failed to create TopologyChanged counter", "err", err)
		return err
	}

	log.Debug("clustermon metrics instruments initialized")
	return nil
}

func recordHeartbeat(ctx context.Context, addr, outcome string) {
	if HeartbeatsSent == nil {
		return
	}
	HeartbeatsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("address", addr),
		attribute.String("outcome", outcome),
	))
}

func recordTopologyChange(ctx context.Context, kind description.TopologyKind) {
	if TopologyChanged == nil {
		return
	}
	TopologyChanged.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}
