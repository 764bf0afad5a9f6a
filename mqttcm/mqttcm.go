package mqttcm

// "mqtt connection manager"

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"go.ntppool.org/common/logger"

	"go.ntppool.org/clustermon/description"
)

const statusExpiry = 86400

// Config describes the broker connection.
type Config struct {
	Broker   *url.URL
	ClientID string
	Username string
	Password []byte
	TLS      *tls.Config
}

// Publisher is the part of *autopaho.ConnectionManager used to send
// status messages.
type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Source provides the topology snapshots to publish; *topology.Topology
// implements it.
type Source interface {
	Snapshot() description.Topology
	Changes() <-chan struct{}
}

// StatusPublisher publishes the retained topology status message.
type StatusPublisher struct {
	topic string
	src   Source
	log   *slog.Logger
}

func NewStatusPublisher(log *slog.Logger, topic string, src Source) *StatusPublisher {
	return &StatusPublisher{topic: topic, src: src, log: log.With("topic", topic)}
}

// PublishStatus sends the current snapshot as an online status message.
func (sp *StatusPublisher) PublishStatus(ctx context.Context, p Publisher) error {
	return sp.publish(ctx, p, sp.src.Snapshot())
}

func (sp *StatusPublisher) publish(ctx context.Context, p Publisher, topo description.Topology) error {
	msg, err := StatusMessageJSON(true, &topo)
	if err != nil {
		return fmt.Errorf("status message: %w", err)
	}
	sp.log.DebugContext(ctx, "sending mqtt status message", "kind", topo.Kind)
	expireSeconds := uint32(statusExpiry)
	_, err = p.Publish(ctx, &paho.Publish{
		Topic:   sp.topic,
		Payload: msg,
		QoS:     1,
		Retain:  true,
		Properties: &paho.PublishProperties{
			MessageExpiry: &expireSeconds,
			ContentType:   "application/json",
		},
	})
	return err
}

// Run publishes the status whenever the topology description changes, and
// at least once an hour, until ctx is done. Round trip time updates alone
// are only sent with the hourly refresh.
func (sp *StatusPublisher) Run(ctx context.Context, p Publisher) error {
	var last *description.Topology
	for {
		changed := sp.src.Changes()
		topo := sp.src.Snapshot()
		if last == nil || !last.Equal(topo) {
			if err := sp.publish(ctx, p, topo); err != nil {
				sp.log.WarnContext(ctx, "mqtt status publish error", "err", err)
			} else {
				last = &topo
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-time.After(1 * time.Hour):
			last = nil
		}
	}
}

// Setup connects to the broker. When sp is set, the current status is
// published every time the connection comes up and an offline will
// message is registered on its topic.
func Setup(ctx context.Context, cfg Config, sp *StatusPublisher) (*autopaho.ConnectionManager, error) {
	log := logger.FromContext(ctx)

	log.InfoContext(ctx, "mqtt", "clientID", cfg.ClientID, "broker", cfg.Broker.Redacted())

	mqttcfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{cfg.Broker},
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		TlsCfg:                        cfg.TLS,
		KeepAlive:                     120,

		ConnectUsername: cfg.Username,
		ConnectPassword: cfg.Password,

		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			log.Info("mqtt connection up")
			if sp == nil {
				return
			}
			if err := sp.PublishStatus(ctx, cm); err != nil {
				log.Warn("mqtt status publish error", "err", err)
			}
		},
		OnConnectError: func(err error) {
			log.Error("mqtt connect", "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnClientError: func(err error) {
				log.Error("mqtt client error", "err", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					log.Error("mqtt server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					log.Error("mqtt server requested disconnect", "reasonCode", d.ReasonCode)
				}
			},
		},
	}

	if sp != nil {
		offlineMessage, err := StatusMessageJSON(false, nil)
		if err != nil {
			return nil, fmt.Errorf("status message: %w", err)
		}
		mqttcfg.WillMessage = &paho.WillMessage{
			Retain:  true,
			Topic:   sp.topic,
			Payload: offlineMessage,
		}
		mqttcfg.WillProperties = &paho.WillProperties{
			WillDelayInterval: paho.Uint32(30),
			MessageExpiry:     paho.Uint32(statusExpiry),
		}
	}

	errlog := logger.NewStdLog("mqtt error", true, log)
	mqttcfg.Errors = errlog
	mqttcfg.PahoErrors = errlog

	return autopaho.NewConnection(ctx, mqttcfg)
}
