package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/event"
	"go.ntppool.org/clustermon/srv"
	"go.ntppool.org/clustermon/topology"
	"go.ntppool.org/clustermon/wire"
)

// TopologyFlags are the deployment options shared by the commands.
type TopologyFlags struct {
	Seeds      []string `arg:"" optional:"" help:"Seed addresses (host, host:port, [ipv6]:port or socket path)"`
	SRV        string   `name:"srv" help:"Read seeds from the _mongodb._tcp SRV records of this host"`
	ReplicaSet string   `name:"replica-set" help:"Required replica set name"`
	Direct     string   `default:"auto" enum:"auto,true,false" help:"Connect to a single server only (auto, true or false)"`
	Family     string   `default:"any" enum:"any,ipv4,ipv6" help:"Address family used for connections"`
	AppName    string   `name:"app-name" default:"clustermon" help:"Application name sent in the handshake"`

	HeartbeatInterval    time.Duration `default:"10s" help:"Time between server checks"`
	MinHeartbeatInterval time.Duration `default:"500ms" help:"Minimum time between checks of one server"`
	ConnectTimeout       time.Duration `default:"5s" help:"Connect and handshake timeout"`

	lookup srv.LookupFunc
	extra  []topology.Option
}

func (f *TopologyFlags) srvLookup() srv.LookupFunc {
	if f.lookup != nil {
		return f.lookup
	}
	return srv.Lookup
}

// seeds returns the command line seeds, or the SRV targets retried with
// exponential backoff for up to a minute.
func (f *TopologyFlags) seeds(ctx context.Context) ([]address.Address, error) {
	if f.SRV == "" {
		if len(f.Seeds) == 0 {
			return nil, errors.New("seed addresses or --srv required")
		}
		return address.ParseList(f.Seeds)
	}
	if len(f.Seeds) > 0 {
		return nil, errors.New("use either seed addresses or --srv, not both")
	}

	lookup := f.srvLookup()
	expback := backoff.NewExponentialBackOff()
	expback.InitialInterval = 500 * time.Millisecond
	expback.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, func() ([]address.Address, error) {
		addrs, err := lookup(ctx, f.SRV)
		if errors.Is(err, srv.ErrInvalidHost) || errors.Is(err, srv.ErrInvalidTarget) {
			return nil, backoff.Permanent(err)
		}
		return addrs, err
	}, backoff.WithBackOff(expback), backoff.WithMaxElapsedTime(time.Minute))
}

func (f *TopologyFlags) config(seeds []address.Address) (topology.Config, error) {
	cfg := topology.Config{
		Seeds:                seeds,
		ReplicaSetName:       f.ReplicaSet,
		HeartbeatInterval:    f.HeartbeatInterval,
		MinHeartbeatInterval: f.MinHeartbeatInterval,
		ConnectTimeout:       f.ConnectTimeout,
	}
	direct := f.Direct == "true"
	switch f.Direct {
	case "true", "false":
		cfg.Direct = &direct
	case "auto", "":
		if f.SRV != "" {
			cfg.Direct = &direct
		}
	default:
		return cfg, fmt.Errorf("invalid --direct value %q", f.Direct)
	}
	return cfg, cfg.Validate()
}

func (f *TopologyFlags) family() address.Family {
	switch f.Family {
	case "ipv4":
		return address.FamilyIPv4
	case "ipv6":
		return address.FamilyIPv6
	}
	return address.FamilyAny
}

// open builds the topology without connecting it. The watcher is nil
// unless seeds come from SRV records.
func (f *TopologyFlags) open(ctx context.Context, log *slog.Logger, bus *event.Bus, opts ...topology.Option) (*topology.Topology, *srv.Watcher, error) {
	seeds, err := f.seeds(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := f.config(seeds)
	if err != nil {
		return nil, nil, err
	}

	dialer := &wire.Dialer{
		Dialer:  &address.Dialer{Family: f.family()},
		AppName: f.AppName,
		Logger:  log,
	}
	opts = append([]topology.Option{
		topology.WithLogger(log),
		topology.WithEventBus(bus),
		topology.WithHandshaker(dialer.Handshaker),
	}, opts...)
	opts = append(opts, f.extra...)

	topo, err := topology.New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	var watcher *srv.Watcher
	if f.SRV != "" {
		watcher = srv.NewWatcher(f.SRV, topo, seeds,
			srv.WithLookup(f.srvLookup()),
			srv.WithLogger(log),
		)
	}
	return topo, watcher, nil
}
