package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.ntppool.org/common/config/depenv"
	"go.ntppool.org/common/logger"

	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/readpref"
	"go.ntppool.org/clustermon/selector"
)

type SelectCmd struct {
	TopologyFlags `embed:""`

	Mode           readpref.Mode `default:"primary" help:"Read preference mode (primary, primaryPreferred, secondary, secondaryPreferred or nearest)"`
	Tags           []string      `sep:"none" help:"Tag set such as dc:ny,rack:1; repeat for fallbacks, an empty set matches any server"`
	MaxStaleness   time.Duration `name:"max-staleness" help:"Maximum replication lag of a secondary"`
	LocalThreshold time.Duration `default:"15ms" help:"Latency window above the fastest server"`
	Timeout        time.Duration `default:"30s" help:"Server selection timeout"`

	out io.Writer
}

func (cmd *SelectCmd) readPref() (readpref.ReadPref, error) {
	var opts []readpref.Option
	if len(cmd.Tags) > 0 {
		sets := make([]description.TagSet, 0, len(cmd.Tags))
		for _, s := range cmd.Tags {
			ts, err := description.ParseTagSet(s)
			if err != nil {
				return readpref.ReadPref{}, err
			}
			sets = append(sets, ts)
		}
		opts = append(opts, readpref.WithTagSets(sets...))
	}
	if cmd.MaxStaleness > 0 {
		opts = append(opts, readpref.WithMaxStaleness(cmd.MaxStaleness))
	}
	return readpref.New(cmd.Mode, opts...), nil
}

func (cmd *SelectCmd) Run(ctx context.Context, env depenv.DeploymentEnvironment) error {
	log := logger.FromContext(ctx)

	tpShutdown, err := InitTracing(ctx, env)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer tpShutdown(context.WithoutCancel(ctx))

	rp, err := cmd.readPref()
	if err != nil {
		return err
	}

	topo, _, err := cmd.open(ctx, log, nil)
	if err != nil {
		return err
	}
	defer topo.Close()
	if err := topo.Connect(ctx); err != nil {
		return err
	}

	sel := selector.New(
		selector.WithLocalThreshold(cmd.LocalThreshold),
		selector.WithTimeout(cmd.Timeout),
		selector.WithLogger(log),
	)
	s, err := sel.Select(ctx, topo, rp)
	if err != nil {
		return err
	}
	log.DebugContext(ctx, "selected", "address", s.Addr, "type", s.Kind, "rtt", s.AverageRTT)

	out := cmd.out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, s.Addr)
	return nil
}
