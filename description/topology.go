package description

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"go.ntppool.org/clustermon/address"
)

// Supported wire protocol range.
const (
	MinSupportedWireVersion int32 = 6
	MaxSupportedWireVersion int32 = 25
)

var ErrIncompatible = errors.New("incompatible server")

// Topology is an immutable view of the whole deployment. Servers are sorted
// by address.
type Topology struct {
	ID      string
	Kind    TopologyKind
	SetName string

	MaxSetVersion uint32
	MaxElectionID bson.ObjectID

	Servers           []Server
	HeartbeatInterval time.Duration

	// CompatibilityErr is set when a known server speaks a wire protocol
	// range that does not overlap the supported one.
	CompatibilityErr error
}

// NewTopology builds a snapshot, sorting the servers and computing the
// compatibility error. The servers slice is owned by the returned value.
func NewTopology(id string, kind TopologyKind, setName string, maxSetVersion uint32,
	maxElectionID bson.ObjectID, servers []Server, heartbeat time.Duration,
) Topology {
	slices.SortFunc(servers, func(a, b Server) int {
		return a.Addr.Compare(b.Addr)
	})
	return Topology{
		ID:                id,
		Kind:              kind,
		SetName:           setName,
		MaxSetVersion:     maxSetVersion,
		MaxElectionID:     maxElectionID,
		Servers:           servers,
		HeartbeatInterval: heartbeat,
		CompatibilityErr:  CheckCompatibility(servers),
	}
}

// Server returns the description for addr.
func (t Topology) Server(addr address.Address) (Server, bool) {
	i, ok := slices.BinarySearchFunc(t.Servers, addr, func(s Server, a address.Address) int {
		return s.Addr.Compare(a)
	})
	if !ok {
		return Server{}, false
	}
	return t.Servers[i], true
}

// Primary returns the replica set primary, if one is known.
func (t Topology) Primary() (Server, bool) {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			return s, true
		}
	}
	return Server{}, false
}

// ServersOf returns the servers with one of the given types.
func (t Topology) ServersOf(kinds ...ServerType) []Server {
	var list []Server
	for _, s := range t.Servers {
		if slices.Contains(kinds, s.Kind) {
			list = append(list, s)
		}
	}
	return list
}

// Addresses lists the member addresses in order.
func (t Topology) Addresses() []address.Address {
	list := make([]address.Address, len(t.Servers))
	for i, s := range t.Servers {
		list[i] = s.Addr
	}
	return list
}

// Equal reports whether two snapshots have the same kind, set name and
// servers, comparing servers with Server.Equal.
func (t Topology) Equal(o Topology) bool {
	if t.Kind != o.Kind || t.SetName != o.SetName {
		return false
	}
	return slices.EqualFunc(t.Servers, o.Servers, Server.Equal)
}

func (t Topology) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", t.Kind)
	if t.SetName != "" {
		fmt.Fprintf(&b, " set=%s", t.SetName)
	}
	b.WriteString(" [")
	for i, s := range t.Servers {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", s.Addr, s.Kind)
	}
	b.WriteString("]")
	return b.String()
}

// CheckCompatibility returns an error wrapping ErrIncompatible for the first
// known server whose wire version range does not overlap the supported one.
func CheckCompatibility(servers []Server) error {
	for _, s := range servers {
		if s.Kind == Unknown {
			continue
		}
		if s.MinWireVersion > MaxSupportedWireVersion {
			return fmt.Errorf("%w: %s requires wire version %d, but this client only supports up to %d",
				ErrIncompatible, s.Addr, s.MinWireVersion, MaxSupportedWireVersion)
		}
		if s.MaxWireVersion < MinSupportedWireVersion {
			return fmt.Errorf("%w: %s reports wire version %d, but this client requires at least %d",
				ErrIncompatible, s.Addr, s.MaxWireVersion, MinSupportedWireVersion)
		}
	}
	return nil
}
