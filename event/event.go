// Package event defines the monitoring events emitted by monitors and
// topologies, and a small bus to deliver them to subscribers.
package event

import (
	"time"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/description"
)

// Event is implemented by every event type in this package.
type Event interface {
	event()
}

type TopologyOpening struct {
	TopologyID string
}

type TopologyClosed struct {
	TopologyID string
}

// TopologyDescriptionChanged is published when a snapshot differs from the
// previous one in kind or in any server description.
type TopologyDescriptionChanged struct {
	TopologyID string
	Previous   description.Topology
	New        description.Topology
}

type ServerOpening struct {
	TopologyID string
	Address    address.Address
}

type ServerClosed struct {
	TopologyID string
	Address    address.Address
}

type ServerDescriptionChanged struct {
	TopologyID string
	Address    address.Address
	Previous   description.Server
	New        description.Server
}

type ServerHeartbeatStarted struct {
	Address address.Address
}

type ServerHeartbeatSucceeded struct {
	Address  address.Address
	Duration time.Duration
	Reply    description.Server
}

type ServerHeartbeatFailed struct {
	Address  address.Address
	Duration time.Duration
	Err      error
}

func (TopologyOpening) event()            {}
func (TopologyClosed) event()             {}
func (TopologyDescriptionChanged) event() {}
func (ServerOpening) event()              {}
func (ServerClosed) event()               {}
func (ServerDescriptionChanged) event()   {}
func (ServerHeartbeatStarted) event()     {}
func (ServerHeartbeatSucceeded) event()   {}
func (ServerHeartbeatFailed) event()      {}
