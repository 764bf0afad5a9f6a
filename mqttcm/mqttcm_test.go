package mqttcm

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.ntppool.org/common/config/depenv"
	"go.ntppool.org/common/logger"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/description"
)

func TestTopics(t *testing.T) {
	topics := NewTopics(depenv.DeployDevel)

	assert.Equal(t, "/devel/clustermon/topology/rs0/status", topics.Status("rs0"))
	assert.Equal(t, "/devel/clustermon/topology/+/status", topics.StatusSubscription())

	name, err := topics.ParseStatusTopic(topics.Status("rs0"))
	require.NoError(t, err)
	assert.Equal(t, "rs0", name)

	for _, bad := range []string{
		"/prod/clustermon/topology/rs0/status",
		"/devel/clustermon/topology//status",
		"/devel/clustermon/topology/rs0",
		"/devel/clustermon/servers/rs0/status",
	} {
		_, err := topics.ParseStatusTopic(bad)
		assert.Error(t, err, bad)
	}
}

func testTopology() description.Topology {
	primary := description.NewDefaultServer(address.MustParse("a"))
	primary.Kind = description.RSPrimary
	primary.SetName = "rs"
	primary.AverageRTT = 1500 * time.Microsecond
	primary.AverageRTTSet = true
	down := description.NewServerFromError(address.MustParse("b"), time.Now(), errors.New("connection refused"))
	return description.NewTopology("t1", description.ReplicaSetWithPrimary, "rs", 1, [12]byte{},
		[]description.Server{primary, down}, time.Second)
}

func TestStatusMessageJSON(t *testing.T) {
	topo := testTopology()
	js, err := StatusMessageJSON(true, &topo)
	require.NoError(t, err)

	var sm StatusMessage
	require.NoError(t, json.Unmarshal(js, &sm))
	assert.True(t, sm.Online)
	require.NotNil(t, sm.Topology)
	assert.Equal(t, "ReplicaSetWithPrimary", sm.Topology.Kind)
	assert.Equal(t, "rs", sm.Topology.SetName)
	require.Len(t, sm.Topology.Servers, 2)
	assert.Equal(t, ServerStatus{Address: "a:27017", Type: "RSPrimary", SetName: "rs", RTT: 1.5}, sm.Topology.Servers[0])
	assert.Equal(t, "Unknown", sm.Topology.Servers[1].Type)
	assert.Equal(t, "connection refused", sm.Topology.Servers[1].Error)

	js, err = StatusMessageJSON(false, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(js), "Topology")
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	sent chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, p)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return &paho.PublishResponse{}, nil
}

type fakeSource struct {
	mu      sync.Mutex
	topo    description.Topology
	changed chan struct{}
}

func (f *fakeSource) Snapshot() description.Topology {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topo
}

func (f *fakeSource) Changes() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

func (f *fakeSource) set(topo description.Topology) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topo = topo
	close(f.changed)
	f.changed = make(chan struct{})
}

func TestStatusPublisherRun(t *testing.T) {
	src := &fakeSource{topo: description.Topology{ID: "t1"}, changed: make(chan struct{})}
	pub := &fakePublisher{sent: make(chan struct{}, 4)}
	sp := NewStatusPublisher(logger.Setup(), "/devel/clustermon/topology/t1/status", src)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go sp.Run(ctx, pub)

	<-pub.sent
	src.set(testTopology())
	<-pub.sent

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.msgs, 2)
	for _, m := range pub.msgs {
		assert.True(t, m.Retain)
		assert.Equal(t, byte(1), m.QoS)
		assert.Equal(t, "/devel/clustermon/topology/t1/status", m.Topic)
	}

	var sm StatusMessage
	require.NoError(t, json.Unmarshal(pub.msgs[1].Payload, &sm))
	assert.Equal(t, "ReplicaSetWithPrimary", sm.Topology.Kind)
}

func TestStatusPublisherSkipsRTTOnlyChanges(t *testing.T) {
	src := &fakeSource{topo: testTopology(), changed: make(chan struct{})}
	pub := &fakePublisher{sent: make(chan struct{}, 4)}
	sp := NewStatusPublisher(logger.Setup(), "/devel/clustermon/topology/t1/status", src)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go sp.Run(ctx, pub)
	<-pub.sent

	withRTT := func(rtt time.Duration, kind description.TopologyKind) description.Topology {
		topo := testTopology()
		servers := slices.Clone(topo.Servers)
		servers[0].AverageRTT = rtt
		return description.NewTopology(topo.ID, kind, topo.SetName, topo.MaxSetVersion,
			topo.MaxElectionID, servers, topo.HeartbeatInterval)
	}

	tests := []struct {
		name    string
		topo    description.Topology
		publish bool
	}{
		{name: "rtt only", topo: withRTT(7*time.Millisecond, description.ReplicaSetWithPrimary)},
		{name: "rtt again", topo: withRTT(9*time.Millisecond, description.ReplicaSetWithPrimary)},
		{name: "kind change", topo: withRTT(9*time.Millisecond, description.ReplicaSetNoPrimary), publish: true},
		{name: "unchanged", topo: withRTT(9*time.Millisecond, description.ReplicaSetNoPrimary)},
	}
	for _, tt := range tests {
		src.set(tt.topo)
		if tt.publish {
			select {
			case <-pub.sent:
			case <-time.After(5 * time.Second):
				t.Fatalf("%s: no status message", tt.name)
			}
			continue
		}
		select {
		case <-pub.sent:
			t.Fatalf("%s: unexpected status message", tt.name)
		case <-time.After(50 * time.Millisecond):
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.msgs, 2)
	var sm StatusMessage
	require.NoError(t, json.Unmarshal(pub.msgs[1].Payload, &sm))
	assert.Equal(t, "ReplicaSetNoPrimary", sm.Topology.Kind)
}
