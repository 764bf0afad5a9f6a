package selector

import (
	"fmt"
	"time"

	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/readpref"
)

// stalenessSlack is added to twice the heartbeat interval to get the
// smallest satisfiable max staleness.
const stalenessSlack = 100 * time.Millisecond

// validate rejects read preferences that no topology state can satisfy.
func validate(rp readpref.ReadPref, heartbeat time.Duration) error {
	if rp.Mode == readpref.Primary && rp.HasTags() {
		return fmt.Errorf("%w: tag sets are not allowed with mode primary", ErrInvalidServerPreference)
	}
	if rp.Mode == readpref.Primary && rp.MaxStaleness > 0 {
		return fmt.Errorf("%w: max staleness is not allowed with mode primary", ErrInvalidServerPreference)
	}
	if rp.MaxStaleness < 0 {
		return fmt.Errorf("%w: negative max staleness", ErrInvalidServerPreference)
	}
	if minimum := 2*heartbeat + stalenessSlack; rp.MaxStaleness > 0 && rp.MaxStaleness < minimum {
		return fmt.Errorf("%w: max staleness %s is below %s (twice the heartbeat interval plus %s)",
			ErrInvalidServerPreference, rp.MaxStaleness, minimum, stalenessSlack)
	}
	return nil
}

// eligible returns the servers the read preference allows before the
// latency window is applied.
func eligible(topo description.Topology, rp readpref.ReadPref) []description.Server {
	switch topo.Kind {
	case description.TopologyUnknown:
		return nil
	case description.Single:
		for _, s := range topo.Servers {
			if s.Kind != description.Unknown && s.Kind != description.PossiblePrimary {
				return []description.Server{s}
			}
		}
		return nil
	case description.Sharded:
		return topo.ServersOf(description.Mongos)
	}

	primary, hasPrimary := topo.Primary()
	filtered := func(list []description.Server) []description.Server {
		list = filterTags(list, rp.TagSets)
		if rp.MaxStaleness > 0 {
			list = filterStaleness(topo, list, rp.MaxStaleness)
		}
		return list
	}

	switch rp.Mode {
	case readpref.Primary:
		if hasPrimary {
			return []description.Server{primary}
		}
		return nil
	case readpref.PrimaryPreferred:
		if hasPrimary {
			return []description.Server{primary}
		}
		return filtered(topo.ServersOf(description.RSSecondary))
	case readpref.Secondary:
		return filtered(topo.ServersOf(description.RSSecondary))
	case readpref.SecondaryPreferred:
		if list := filtered(topo.ServersOf(description.RSSecondary)); len(list) > 0 {
			return list
		}
		if hasPrimary {
			return []description.Server{primary}
		}
		return nil
	case readpref.Nearest:
		return filtered(topo.ServersOf(description.RSPrimary, description.RSSecondary))
	}
	return nil
}

// filterTags keeps the servers matching the first tag set that matches any
// of them. No tag sets keeps everything.
func filterTags(servers []description.Server, sets []description.TagSet) []description.Server {
	if len(sets) == 0 {
		return servers
	}
	for _, ts := range sets {
		var matched []description.Server
		for _, s := range servers {
			if ts.Matches(s.Tags) {
				matched = append(matched, s)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// filterStaleness drops secondaries whose estimated replication lag
// exceeds limit. Primaries are never stale. Secondaries without a last
// write date cannot be estimated and are dropped.
func filterStaleness(topo description.Topology, servers []description.Server, limit time.Duration) []description.Server {
	var list []description.Server
	for _, s := range servers {
		if s.Kind == description.RSPrimary {
			list = append(list, s)
			continue
		}
		lag, ok := staleness(topo, s)
		if ok && lag <= limit {
			list = append(list, s)
		}
	}
	return list
}

// staleness estimates how far s lags behind. With a primary the estimate
// compares how old each server's last write was when it was last checked;
// without one it compares against the most recent secondary write.
func staleness(topo description.Topology, s description.Server) (time.Duration, bool) {
	if s.LastWriteDate.IsZero() {
		return 0, false
	}
	heartbeat := topo.HeartbeatInterval

	if p, ok := topo.Primary(); ok {
		if p.LastWriteDate.IsZero() {
			return 0, false
		}
		lag := s.LastUpdateTime.Sub(s.LastWriteDate) - p.LastUpdateTime.Sub(p.LastWriteDate) + heartbeat
		return lag, true
	}

	var newest time.Time
	for _, o := range topo.ServersOf(description.RSSecondary) {
		if o.LastWriteDate.After(newest) {
			newest = o.LastWriteDate
		}
	}
	return newest.Sub(s.LastWriteDate) + heartbeat, true
}
