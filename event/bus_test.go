package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/clustermon/address"
)

func TestBusDelivers(t *testing.T) {
	b := NewBus()
	all, cancelAll := b.Subscribe(4, nil)
	defer cancelAll()
	opens, cancelOpens := b.Subscribe(4, func(e Event) bool {
		_, ok := e.(ServerOpening)
		return ok
	})
	defer cancelOpens()

	addr := address.MustParse("a")
	b.Publish(ServerOpening{Address: addr})
	b.Publish(ServerClosed{Address: addr})

	require.Len(t, all, 2)
	assert.Equal(t, ServerOpening{Address: addr}, <-all)
	assert.Equal(t, ServerClosed{Address: addr}, <-all)

	require.Len(t, opens, 1)
	assert.IsType(t, ServerOpening{}, <-opens)
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1, nil)
	defer cancel()

	b.Publish(TopologyOpening{TopologyID: "1"})
	b.Publish(TopologyOpening{TopologyID: "2"})

	assert.Equal(t, TopologyOpening{TopologyID: "1"}, <-ch)
	assert.Empty(t, ch)
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1, nil)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")

	b.Publish(TopologyOpening{})
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1, nil)
	b.Close()
	b.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(1, nil)
	_, ok = <-late
	assert.False(t, ok)
	b.Publish(TopologyClosed{})
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(TopologyOpening{})
	b.Close()
	ch, cancel := b.Subscribe(0, nil)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}
