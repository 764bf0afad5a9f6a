package description

//go:generate go tool github.com/dmarkham/enumer -type=ServerType
//go:generate go tool github.com/dmarkham/enumer -type=TopologyKind -trimprefix=Topology

// ServerType is the role a server reported in its last handshake.
type ServerType uint8

const (
	Unknown ServerType = iota
	Standalone
	Mongos
	RSPrimary
	RSSecondary
	RSArbiter
	RSGhost
	RSOther
	PossiblePrimary
)

// IsReplicaSetMember is true for every replica set role, including ghosts
// and the placeholder PossiblePrimary.
func (t ServerType) IsReplicaSetMember() bool {
	switch t {
	case RSPrimary, RSSecondary, RSArbiter, RSGhost, RSOther, PossiblePrimary:
		return true
	}
	return false
}

// IsDataBearing is true for server types that can serve reads.
func (t ServerType) IsDataBearing() bool {
	switch t {
	case Standalone, Mongos, RSPrimary, RSSecondary:
		return true
	}
	return false
}

// TopologyKind is the classified shape of a deployment.
type TopologyKind uint8

const (
	TopologyUnknown TopologyKind = iota
	Single
	ReplicaSetNoPrimary
	ReplicaSetWithPrimary
	Sharded
)

// IsReplicaSet is true for both replica set kinds.
func (k TopologyKind) IsReplicaSet() bool {
	return k == ReplicaSetNoPrimary || k == ReplicaSetWithPrimary
}
