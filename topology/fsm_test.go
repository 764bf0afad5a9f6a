package topology

import (
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/description"
	"go.ntppool.org/clustermon/testutil"
)

var discard = slog.New(slog.DiscardHandler)

func desc(addr string, h *testutil.Hello) description.Server {
	return description.NewServer(address.MustParse(addr), h.Raw(), time.Millisecond, time.Now())
}

func seeds(addrs ...string) []address.Address {
	list, err := address.ParseList(addrs)
	if err != nil {
		panic(err)
	}
	return list
}

func kindOf(st *state, addr string) description.ServerType {
	s, ok := st.servers[address.MustParse(addr)]
	if !ok {
		return description.ServerType(255)
	}
	return s.Kind
}

func countPrimaries(st *state) int {
	n := 0
	for _, s := range st.servers {
		if s.Kind == description.RSPrimary {
			n++
		}
	}
	return n
}

func TestInitialKind(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		cfg  Config
		kind description.TopologyKind
	}{
		{"single seed", Config{Seeds: seeds("a")}, description.Single},
		{"single seed with set", Config{Seeds: seeds("a"), ReplicaSetName: "rs"}, description.ReplicaSetNoPrimary},
		{"explicit direct", Config{Seeds: seeds("a"), ReplicaSetName: "rs", Direct: &yes}, description.Single},
		{"explicit not direct", Config{Seeds: seeds("a"), Direct: &no}, description.TopologyUnknown},
		{"many seeds", Config{Seeds: seeds("a", "b")}, description.TopologyUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newState(tt.cfg)
			assert.Equal(t, tt.kind, st.kind)
			assert.Len(t, st.servers, len(tt.cfg.Seeds))
		})
	}
}

func TestStalePrimary(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})

	st.apply(desc("a", testutil.Primary("rs").Hosts("a", "b").Election(1, 5)), discard)
	require.Equal(t, description.ReplicaSetWithPrimary, st.kind)

	st.apply(desc("b", testutil.Primary("rs").Hosts("a", "b").Election(1, 4)), discard)
	assert.Equal(t, description.RSPrimary, kindOf(&st, "a"), "newer primary stays")
	assert.Equal(t, description.Unknown, kindOf(&st, "b"), "older election is stale")
	assert.ErrorIs(t, st.servers[address.MustParse("b")].Error, errStalePrimary)
	assert.Equal(t, uint32(1), st.maxSetVersion)
	assert.Equal(t, testutil.ElectionID(5), st.maxElectionID)

	// same tuple from the recorded primary is a refresh
	st.apply(desc("a", testutil.Primary("rs").Hosts("a", "b").Election(1, 5)), discard)
	assert.Equal(t, description.RSPrimary, kindOf(&st, "a"))

	// same tuple from another address is stale
	st.apply(desc("b", testutil.Primary("rs").Hosts("a", "b").Election(1, 5)), discard)
	assert.Equal(t, description.Unknown, kindOf(&st, "b"))
	assert.Equal(t, 1, countPrimaries(&st))
}

func TestNewerPrimaryDemotesOld(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})
	st.apply(desc("a", testutil.Primary("rs").Hosts("a", "b").Election(1, 1)), discard)

	out := st.apply(desc("b", testutil.Primary("rs").Hosts("a", "b").Election(2, 0)), discard)
	assert.Equal(t, description.Unknown, kindOf(&st, "a"))
	assert.ErrorIs(t, st.servers[address.MustParse("a")].Error, errDemoted)
	assert.Equal(t, description.RSPrimary, kindOf(&st, "b"))
	assert.Equal(t, []address.Address{address.MustParse("a")}, out.check)
	assert.Equal(t, uint32(2), st.maxSetVersion)
}

func TestPrimaryReconcilesMembership(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})

	out := st.apply(desc("a", testutil.Primary("rs").Hosts("a", "c")), discard)
	assert.Equal(t, seeds("c"), out.added)
	assert.Equal(t, seeds("b"), out.removed)
	assert.Equal(t, seeds("a", "c"), st.sortedAddrs())
	assert.Equal(t, description.Unknown, kindOf(&st, "c"))

	// descriptions for removed members are ignored
	st.apply(desc("b", testutil.Secondary("rs").Hosts("a", "b")), discard)
	assert.NotContains(t, st.servers, address.MustParse("b"))
}

func TestMemberAddsHostsAndAdoptsSetName(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b")})

	out := st.apply(desc("a", testutil.Secondary("rs").Hosts("a", "b", "c")), discard)
	assert.Equal(t, "rs", st.setName)
	assert.Equal(t, description.ReplicaSetNoPrimary, st.kind)
	assert.Equal(t, seeds("c"), out.added)
	assert.Empty(t, out.removed, "secondaries never remove members")
}

func TestSetNameConflict(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})

	out := st.apply(desc("b", testutil.Secondary("other").Hosts("b")), discard)
	assert.Equal(t, seeds("b"), out.removed)
	assert.Equal(t, description.ReplicaSetNoPrimary, st.kind)

	out = st.apply(desc("a", testutil.Primary("other").Hosts("a")), discard)
	assert.Equal(t, seeds("a"), out.removed)
	assert.Equal(t, 0, countPrimaries(&st))
}

func TestMeMismatch(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})
	out := st.apply(desc("b", testutil.Secondary("rs").Hosts("a", "b").Me("c")), discard)
	assert.Equal(t, seeds("b"), out.removed)
}

func TestStandalone(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b")})
	out := st.apply(desc("a", testutil.Standalone()), discard)
	assert.Equal(t, seeds("a"), out.removed)
	assert.Equal(t, description.TopologyUnknown, st.kind)

	no := false
	st = newState(Config{Seeds: seeds("a"), Direct: &no})
	st.apply(desc("a", testutil.Standalone()), discard)
	assert.Equal(t, description.Single, st.kind)
	assert.Equal(t, description.Standalone, kindOf(&st, "a"))

	st = newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})
	out = st.apply(desc("a", testutil.Standalone()), discard)
	assert.Equal(t, seeds("a"), out.removed)
}

func TestSingle(t *testing.T) {
	st := newState(Config{Seeds: seeds("a")})
	st.apply(desc("a", testutil.Secondary("rs").Hosts("a", "b")), discard)
	assert.Equal(t, description.Single, st.kind)
	assert.Len(t, st.servers, 1, "single topologies never discover members")
	assert.Equal(t, description.RSSecondary, kindOf(&st, "a"))

	yes := true
	st = newState(Config{Seeds: seeds("a"), ReplicaSetName: "rs", Direct: &yes})
	st.apply(desc("a", testutil.Primary("other")), discard)
	assert.Equal(t, description.Unknown, kindOf(&st, "a"))
	assert.ErrorIs(t, st.servers[address.MustParse("a")].Error, errSetNameInvalid)
}

func TestMongosWins(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b", "c")})
	st.apply(desc("b", testutil.Secondary("rs").Hosts("b")), discard)
	require.Equal(t, description.ReplicaSetNoPrimary, st.kind)

	out := st.apply(desc("a", testutil.Mongos()), discard)
	assert.Equal(t, description.Sharded, st.kind)
	assert.Equal(t, seeds("b"), out.removed)
	assert.Empty(t, st.setName)

	out = st.apply(desc("c", testutil.Primary("rs").Hosts("c")), discard)
	assert.Equal(t, seeds("c"), out.removed)

	// Sharded is sticky when mongos become unreachable
	st.apply(description.NewServerFromError(address.MustParse("a"), time.Now(), assert.AnError), discard)
	assert.Equal(t, description.Sharded, st.kind)
}

func TestMongosDroppedFromConfiguredReplicaSet(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})
	out := st.apply(desc("a", testutil.Mongos()), discard)
	assert.Equal(t, seeds("a"), out.removed)
	assert.Equal(t, description.ReplicaSetNoPrimary, st.kind)
}

func TestPossiblePrimary(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})

	out := st.apply(desc("a", testutil.Secondary("rs").Hosts("a", "b").PrimaryHint("b")), discard)
	assert.Equal(t, description.PossiblePrimary, kindOf(&st, "b"))
	assert.Equal(t, seeds("b"), out.check)
	assert.Equal(t, description.ReplicaSetNoPrimary, st.kind)

	st.apply(desc("b", testutil.Primary("rs").Hosts("a", "b")), discard)
	assert.Equal(t, description.RSPrimary, kindOf(&st, "b"))
}

func TestUnknownPrimaryFallsBack(t *testing.T) {
	st := newState(Config{Seeds: seeds("a", "b"), ReplicaSetName: "rs"})
	st.apply(desc("a", testutil.Primary("rs").Hosts("a", "b")), discard)
	require.Equal(t, description.ReplicaSetWithPrimary, st.kind)

	st.apply(description.NewServerFromError(address.MustParse("a"), time.Now(), assert.AnError), discard)
	assert.Equal(t, description.ReplicaSetNoPrimary, st.kind)
	assert.Len(t, st.servers, 2, "an unknown server does not change membership")
}

func TestAtMostOnePrimary(t *testing.T) {
	hosts := []string{"a", "b", "c", "d"}
	r := rand.New(rand.NewPCG(42, 7))

	for round := range 200 {
		st := newState(Config{Seeds: seeds(hosts...), ReplicaSetName: "rs"})
		for range 40 {
			addr := hosts[r.IntN(len(hosts))]
			var h *testutil.Hello
			switch r.IntN(5) {
			case 0, 1:
				h = testutil.Primary("rs").Hosts(hosts...).
					Election(int32(r.IntN(3)+1), byte(r.IntN(4)))
			case 2:
				h = testutil.Secondary("rs").Hosts(hosts...).PrimaryHint(hosts[r.IntN(len(hosts))])
			case 3:
				h = testutil.Arbiter("rs").Hosts(hosts...)
			default:
				st.apply(description.NewServerFromError(address.MustParse(addr), time.Now(), assert.AnError), discard)
				continue
			}
			st.apply(desc(addr, h), discard)

			require.LessOrEqual(t, countPrimaries(&st), 1, "round %d", round)
			_, hasPrimary := st.primary()
			assert.Equal(t, hasPrimary, st.kind == description.ReplicaSetWithPrimary, "round %d", round)
		}
	}
}
