package mqttcm

import (
	"encoding/json"
	"time"

	"go.ntppool.org/common/version"

	"go.ntppool.org/clustermon/description"
)

type StatusMessage struct {
	Online    bool
	Version   version.Info
	Topology  *TopologyStatus `json:",omitempty"`
	UpdatedMQ time.Time
}

type TopologyStatus struct {
	ID      string
	Kind    string
	SetName string `json:",omitempty"`
	Servers []ServerStatus
	Error   string `json:",omitempty"`
}

type ServerStatus struct {
	Address string
	Type    string
	SetName string  `json:",omitempty"`
	RTT     float64 `json:",omitempty"` // milliseconds
	Error   string  `json:",omitempty"`
}

func newTopologyStatus(topo description.Topology) *TopologyStatus {
	ts := &TopologyStatus{
		ID:      topo.ID,
		Kind:    topo.Kind.String(),
		SetName: topo.SetName,
		Servers: make([]ServerStatus, 0, len(topo.Servers)),
	}
	if topo.CompatibilityErr != nil {
		ts.Error = topo.CompatibilityErr.Error()
	}
	for _, s := range topo.Servers {
		ss := ServerStatus{
			Address: s.Addr.String(),
			Type:    s.Kind.String(),
			SetName: s.SetName,
		}
		if s.AverageRTTSet {
			ss.RTT = float64(s.AverageRTT) / float64(time.Millisecond)
		}
		if s.Error != nil {
			ss.Error = s.Error.Error()
		}
		ts.Servers = append(ts.Servers, ss)
	}
	return ts
}

// StatusMessageJSON encodes a status message. topo is omitted when nil,
// as in the offline will message.
func StatusMessageJSON(online bool, topo *description.Topology) ([]byte, error) {
	sm := &StatusMessage{
		Online:    online,
		Version:   version.VersionInfo(),
		UpdatedMQ: time.Now().Truncate(time.Second),
	}
	if topo != nil {
		sm.Topology = newTopologyStatus(*topo)
	}
	return json.Marshal(sm)
}
