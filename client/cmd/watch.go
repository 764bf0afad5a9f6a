package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"

	"go.ntppool.org/common/config/depenv"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/metricsserver"
	"go.ntppool.org/common/version"
	"golang.org/x/sync/errgroup"

	"go.ntppool.org/clustermon/event"
	"go.ntppool.org/clustermon/metrics"
	"go.ntppool.org/clustermon/mqttcm"
)

type WatchCmd struct {
	TopologyFlags `embed:""`

	MetricsPort int `default:"9000" help:"Metrics server port" flag:"metrics-port"`

	Name         string `help:"Deployment name used in MQTT topics (default: replica set name, SRV host or topology ID)"`
	MQTTBroker   string `name:"mqtt-broker" env:"CLUSTERMON_MQTT_BROKER" help:"MQTT broker URL (mqtt:// or mqtts://); status publishing is off when empty"`
	MQTTUser     string `name:"mqtt-user" env:"CLUSTERMON_MQTT_USER"`
	MQTTPassword string `name:"mqtt-password" env:"CLUSTERMON_MQTT_PASSWORD"`
}

func (cmd *WatchCmd) Run(ctx context.Context, env depenv.DeploymentEnvironment) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "clustermon starting", "version", version.Version())

	tpShutdown, err := InitTracing(ctx, env)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer tpShutdown(context.WithoutCancel(ctx))

	metricssrv := metricsserver.New()
	version.RegisterMetric("clustermon", metricssrv.Registry())
	go func() {
		if err := metricssrv.ListenAndServe(ctx, cmd.MetricsPort); err != nil {
			log.Error("metrics server error", "err", err)
		}
	}()
	if err := metrics.InitInstruments(); err != nil {
		log.WarnContext(ctx, "metrics instruments unavailable", "err", err)
	}
	collector := metrics.NewCollector(metricssrv.Registry())

	bus := event.NewBus()
	defer bus.Close()

	topo, watcher, err := cmd.open(ctx, log, bus)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return collector.Run(ctx, bus) })
	g.Go(func() error { return logChanges(ctx, log, bus) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if cmd.MQTTBroker != "" {
		name := cmd.name(topo.ID())
		topic := mqttcm.NewTopics(env).Status(name)
		sp := mqttcm.NewStatusPublisher(log, topic, topo)

		mqcfg, err := cmd.mqttConfig(topo.ID())
		if err != nil {
			topo.Close()
			return err
		}
		cm, err := mqttcm.Setup(ctx, mqcfg, sp)
		if err != nil {
			topo.Close()
			return fmt.Errorf("mqtt: %w", err)
		}
		g.Go(func() error { return sp.Run(ctx, cm) })
		g.Go(func() error {
			<-ctx.Done()
			return cm.Disconnect(context.WithoutCancel(ctx))
		})
	}

	if err := topo.Connect(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.InfoContext(ctx, "shutting down")
	if err := topo.Close(); err != nil {
		log.ErrorContext(ctx, "topology close", "err", err)
	}
	bus.Close()
	return g.Wait()
}

func (cmd *WatchCmd) name(topologyID string) string {
	switch {
	case cmd.Name != "":
		return cmd.Name
	case cmd.ReplicaSet != "":
		return cmd.ReplicaSet
	case cmd.SRV != "":
		return cmd.SRV
	}
	return topologyID
}

func (cmd *WatchCmd) mqttConfig(topologyID string) (mqttcm.Config, error) {
	broker, err := url.Parse(cmd.MQTTBroker)
	if err != nil {
		return mqttcm.Config{}, fmt.Errorf("mqtt broker: %w", err)
	}
	cfg := mqttcm.Config{
		Broker:   broker,
		ClientID: "clustermon-" + topologyID,
		Username: cmd.MQTTUser,
		Password: []byte(cmd.MQTTPassword),
	}
	switch broker.Scheme {
	case "mqtts", "ssl", "tls":
		cfg.TLS = &tls.Config{ServerName: broker.Hostname()}
	case "mqtt", "tcp":
	default:
		return cfg, fmt.Errorf("mqtt broker: unsupported scheme %q", broker.Scheme)
	}
	return cfg, nil
}

// logChanges logs every server and topology description change until ctx
// is done or the bus closes.
func logChanges(ctx context.Context, log *slog.Logger, bus *event.Bus) error {
	events, unsubscribe := bus.Subscribe(0, func(e event.Event) bool {
		switch e.(type) {
		case event.ServerDescriptionChanged, event.TopologyDescriptionChanged:
			return true
		}
		return false
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
			switch e := e.(type) {
			case event.ServerDescriptionChanged:
				log.InfoContext(ctx, "server changed", "address", e.Address,
					"from", e.Previous.Kind, "to", e.New.Kind, "err", e.New.Error)
			case event.TopologyDescriptionChanged:
				log.InfoContext(ctx, "topology changed", "topology", e.New.String())
			}
		}
	}
}
