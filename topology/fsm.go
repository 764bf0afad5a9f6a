package topology

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/description"
)

var (
	errStalePrimary   = errors.New("stale primary: election is older than the newest primary seen")
	errDemoted        = errors.New("primary replaced by a newer primary")
	errSetNameInvalid = errors.New("replica set name does not match")
)

// state is the working copy the apply rules mutate. It is only touched
// with the topology lock held.
type state struct {
	kind          description.TopologyKind
	setName       string
	configSetName string
	maxSetVersion uint32
	maxElectionID bson.ObjectID
	servers       map[address.Address]description.Server
}

// outcome lists the side effects of one apply: membership changes and
// servers that should be checked right away.
type outcome struct {
	added   []address.Address
	removed []address.Address
	check   []address.Address
}

func newState(cfg Config) state {
	st := state{
		setName:       cfg.ReplicaSetName,
		configSetName: cfg.ReplicaSetName,
		servers:       map[address.Address]description.Server{},
	}
	switch {
	case cfg.direct():
		st.kind = description.Single
	case cfg.ReplicaSetName != "":
		st.kind = description.ReplicaSetNoPrimary
	default:
		st.kind = description.TopologyUnknown
	}
	for _, a := range cfg.Seeds {
		st.servers[a] = description.NewDefaultServer(a)
	}
	return st
}

// apply folds one server description into the state. Descriptions for
// addresses that are no longer members are ignored.
func (st *state) apply(d description.Server, log *slog.Logger) outcome {
	var out outcome
	if _, ok := st.servers[d.Addr]; !ok {
		return out
	}

	switch {
	case d.Kind == description.Unknown:
		st.servers[d.Addr] = d
	case st.kind == description.Single:
		st.applySingle(d)
	case d.Kind == description.Standalone:
		st.applyStandalone(d, log, &out)
	case d.Kind == description.Mongos:
		st.applyMongos(d, log, &out)
	case d.Kind == description.RSPrimary:
		st.applyPrimary(d, log, &out)
	case d.Kind.IsReplicaSetMember():
		st.applyMember(d, log, &out)
	default:
		st.servers[d.Addr] = d
	}

	st.recompute()
	return out
}

func (st *state) applySingle(d description.Server) {
	if st.configSetName != "" && d.SetName != st.configSetName {
		d = description.NewServerFromError(d.Addr, d.LastUpdateTime, errSetNameInvalid)
	}
	st.servers[d.Addr] = d
}

func (st *state) applyStandalone(d description.Server, log *slog.Logger, out *outcome) {
	if st.kind == description.TopologyUnknown && len(st.servers) == 1 {
		st.servers[d.Addr] = d
		st.kind = description.Single
		return
	}
	log.Warn("removing standalone server from multi-server topology", "address", d.Addr.String(), "kind", st.kind.String())
	st.remove(d.Addr, out)
}

func (st *state) applyMongos(d description.Server, log *slog.Logger, out *outcome) {
	if st.configSetName != "" {
		log.Warn("removing mongos from replica set topology", "address", d.Addr.String(), "set", st.configSetName)
		st.remove(d.Addr, out)
		return
	}

	st.servers[d.Addr] = d
	if st.kind == description.Sharded {
		return
	}

	for _, a := range st.sortedAddrs() {
		s := st.servers[a]
		if s.Kind == description.Standalone || s.Kind.IsReplicaSetMember() {
			log.Warn("mixed topology: removing non-mongos server", "address", a.String(), "type", s.Kind.String(), "mongos", d.Addr.String())
			st.remove(a, out)
		}
	}
	st.kind = description.Sharded
	st.setName = ""
}

// checkSetName adopts the set name of the first replica set member seen
// and removes members of other sets.
func (st *state) checkSetName(d description.Server, log *slog.Logger, out *outcome) bool {
	if st.setName == "" {
		st.setName = d.SetName
		return true
	}
	if st.setName != d.SetName {
		log.Warn("removing member of a different replica set", "address", d.Addr.String(), "set", d.SetName, "expected", st.setName)
		st.remove(d.Addr, out)
		return false
	}
	return true
}

func (st *state) mixedWithSharded(d description.Server, log *slog.Logger, out *outcome) bool {
	if st.kind != description.Sharded {
		return false
	}
	log.Warn("mixed topology: removing replica set member from sharded topology", "address", d.Addr.String(), "type", d.Kind.String())
	st.remove(d.Addr, out)
	return true
}

func (st *state) applyPrimary(d description.Server, log *slog.Logger, out *outcome) {
	if st.mixedWithSharded(d, log, out) || !st.checkSetName(d, log, out) {
		return
	}

	hasElection := d.SetVersion != 0 || !d.ElectionID.IsZero()
	hasMax := st.maxSetVersion != 0 || !st.maxElectionID.IsZero()
	if hasElection && hasMax {
		c := description.CompareElection(d.SetVersion, d.ElectionID, st.maxSetVersion, st.maxElectionID)
		current, havePrimary := st.primary()
		if c < 0 || (c == 0 && havePrimary && current != d.Addr) {
			log.Warn("ignoring stale primary",
				"address", d.Addr.String(),
				"setVersion", d.SetVersion, "electionId", d.ElectionID.Hex(),
				"maxSetVersion", st.maxSetVersion, "maxElectionId", st.maxElectionID.Hex())
			st.servers[d.Addr] = description.NewServerFromError(d.Addr, d.LastUpdateTime, errStalePrimary)
			return
		}
	}
	if hasElection && (!hasMax || description.CompareElection(d.SetVersion, d.ElectionID, st.maxSetVersion, st.maxElectionID) > 0) {
		st.maxSetVersion = d.SetVersion
		st.maxElectionID = d.ElectionID
	}

	for a, s := range st.servers {
		if a == d.Addr {
			continue
		}
		switch s.Kind {
		case description.RSPrimary:
			log.Info("demoting previous primary", "address", a.String(), "primary", d.Addr.String())
			st.servers[a] = description.NewServerFromError(a, s.LastUpdateTime, errDemoted)
			out.check = append(out.check, a)
		case description.PossiblePrimary:
			st.servers[a] = description.NewDefaultServer(a)
		}
	}
	st.servers[d.Addr] = d

	// the primary's view of the membership is authoritative
	for _, h := range d.Hosts {
		st.add(h, out)
	}
	for _, a := range st.sortedAddrs() {
		if !slices.Contains(d.Hosts, a) {
			st.remove(a, out)
		}
	}
}

func (st *state) applyMember(d description.Server, log *slog.Logger, out *outcome) {
	if st.mixedWithSharded(d, log, out) {
		return
	}
	if d.Kind == description.RSGhost {
		st.servers[d.Addr] = d
		return
	}
	if !st.checkSetName(d, log, out) {
		return
	}
	if !d.Me.IsZero() && d.Me != d.Addr {
		log.Warn("removing member reporting a different address", "address", d.Addr.String(), "me", d.Me.String())
		st.remove(d.Addr, out)
		return
	}

	st.servers[d.Addr] = d
	for _, h := range d.Hosts {
		st.add(h, out)
	}

	if _, ok := st.primary(); ok || d.Primary.IsZero() {
		return
	}
	if s, ok := st.servers[d.Primary]; ok && s.Kind == description.Unknown {
		st.servers[d.Primary] = s.WithKind(description.PossiblePrimary, nil)
		out.check = append(out.check, d.Primary)
	}
}

func (st *state) recompute() {
	switch st.kind {
	case description.Single, description.Sharded:
		return
	}

	kind := description.TopologyUnknown
	if st.setName != "" {
		kind = description.ReplicaSetNoPrimary
	}
	for _, s := range st.servers {
		switch {
		case s.Kind == description.Mongos:
			st.kind = description.Sharded
			return
		case s.Kind == description.RSPrimary:
			kind = description.ReplicaSetWithPrimary
		case s.Kind.IsReplicaSetMember() && kind == description.TopologyUnknown:
			kind = description.ReplicaSetNoPrimary
		}
	}
	st.kind = kind
}

func (st *state) primary() (address.Address, bool) {
	for a, s := range st.servers {
		if s.Kind == description.RSPrimary {
			return a, true
		}
	}
	return address.Address{}, false
}

func (st *state) add(a address.Address, out *outcome) bool {
	if _, ok := st.servers[a]; ok {
		return false
	}
	st.servers[a] = description.NewDefaultServer(a)
	out.added = append(out.added, a)
	return true
}

func (st *state) remove(a address.Address, out *outcome) bool {
	if _, ok := st.servers[a]; !ok {
		return false
	}
	delete(st.servers, a)
	out.removed = append(out.removed, a)
	return true
}

func (st *state) sortedAddrs() []address.Address {
	return slices.SortedFunc(maps.Keys(st.servers), address.Address.Compare)
}
