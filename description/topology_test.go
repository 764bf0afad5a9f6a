package description

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"go.ntppool.org/clustermon/address"
)

func TestTopologyLookups(t *testing.T) {
	servers := []Server{
		{Addr: address.MustParse("c"), Kind: RSSecondary, MaxWireVersion: 21},
		{Addr: address.MustParse("a"), Kind: RSPrimary, MaxWireVersion: 21},
		{Addr: address.MustParse("b"), Kind: Unknown},
	}
	topo := NewTopology("id", ReplicaSetWithPrimary, "rs", 1, bson.ObjectID{}, servers, 0)

	assert.Equal(t, []address.Address{
		address.MustParse("a"), address.MustParse("b"), address.MustParse("c"),
	}, topo.Addresses())

	s, ok := topo.Server(address.MustParse("c"))
	require.True(t, ok)
	assert.Equal(t, RSSecondary, s.Kind)

	_, ok = topo.Server(address.MustParse("z"))
	assert.False(t, ok)

	p, ok := topo.Primary()
	require.True(t, ok)
	assert.Equal(t, address.MustParse("a"), p.Addr)

	assert.Len(t, topo.ServersOf(RSSecondary, Unknown), 2)
	assert.NoError(t, topo.CompatibilityErr)
	assert.Equal(t, "ReplicaSetWithPrimary set=rs [a:27017:RSPrimary, b:27017:Unknown, c:27017:RSSecondary]", topo.String())
}

func TestTopologyEqual(t *testing.T) {
	servers := func(rtt time.Duration, kind ServerType) []Server {
		return []Server{
			{Addr: address.MustParse("a"), Kind: RSPrimary, AverageRTT: rtt, AverageRTTSet: true},
			{Addr: address.MustParse("b"), Kind: kind, AverageRTT: rtt, AverageRTTSet: true},
		}
	}
	base := NewTopology("id", ReplicaSetWithPrimary, "rs", 1, bson.ObjectID{}, servers(time.Millisecond, RSSecondary), 0)

	tests := []struct {
		name  string
		other Topology
		equal bool
	}{
		{name: "rtt only", other: NewTopology("id", ReplicaSetWithPrimary, "rs", 1, bson.ObjectID{}, servers(9*time.Millisecond, RSSecondary), 0), equal: true},
		{name: "member kind", other: NewTopology("id", ReplicaSetWithPrimary, "rs", 1, bson.ObjectID{}, servers(time.Millisecond, RSArbiter), 0)},
		{name: "topology kind", other: NewTopology("id", ReplicaSetNoPrimary, "rs", 1, bson.ObjectID{}, servers(time.Millisecond, RSSecondary), 0)},
		{name: "set name", other: NewTopology("id", ReplicaSetWithPrimary, "rs1", 1, bson.ObjectID{}, servers(time.Millisecond, RSSecondary), 0)},
		{name: "member removed", other: NewTopology("id", ReplicaSetWithPrimary, "rs", 1, bson.ObjectID{}, servers(time.Millisecond, RSSecondary)[:1], 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, base.Equal(tt.other))
			assert.Equal(t, tt.equal, tt.other.Equal(base))
		})
	}
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name     string
		min, max int32
		ok       bool
	}{
		{"overlap", 0, 21, true},
		{"exact", MinSupportedWireVersion, MaxSupportedWireVersion, true},
		{"too old", 0, MinSupportedWireVersion - 1, false},
		{"too new", MaxSupportedWireVersion + 1, MaxSupportedWireVersion + 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCompatibility([]Server{
				{Addr: address.MustParse("x"), Kind: Unknown},
				{Addr: address.MustParse("a"), Kind: Standalone, MinWireVersion: tt.min, MaxWireVersion: tt.max},
			})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIncompatible))
		})
	}
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "RSPrimary", RSPrimary.String())
	assert.Equal(t, "Unknown", TopologyUnknown.String())
	assert.Equal(t, "ReplicaSetNoPrimary", ReplicaSetNoPrimary.String())

	k, err := TopologyKindString("Sharded")
	require.NoError(t, err)
	assert.Equal(t, Sharded, k)

	assert.True(t, RSGhost.IsReplicaSetMember())
	assert.False(t, Mongos.IsReplicaSetMember())
	assert.True(t, ReplicaSetWithPrimary.IsReplicaSet())
}
