// Package description holds immutable snapshots of what the driver knows
// about individual servers and about the deployment as a whole.
//
// A Server is produced from one handshake reply. Neither Server nor
// Topology values are modified after construction; a new observation
// produces a new value which replaces the old one.
package description

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"go.ntppool.org/clustermon/address"
)

// Server is the state one server reported in its last handshake.
type Server struct {
	Addr address.Address
	Kind ServerType

	SetName    string
	SetVersion uint32        // zero when not reported
	ElectionID bson.ObjectID // zero when not reported

	Tags           TagSet
	MinWireVersion int32
	MaxWireVersion int32

	AverageRTT    time.Duration
	AverageRTTSet bool

	LastWriteDate  time.Time // zero when not reported
	LastUpdateTime time.Time // when the check that produced this value finished

	Hosts   []address.Address // hosts, passives and arbiters
	Primary address.Address   // the primary this member believes in
	Me      address.Address

	Error error
}

// helloReply is the subset of the handshake reply the core decodes.
type helloReply struct {
	OK     float64 `bson:"ok"`
	ErrMsg string  `bson:"errmsg"`

	IsWritablePrimary bool   `bson:"isWritablePrimary"`
	IsMaster          bool   `bson:"ismaster"`
	Secondary         bool   `bson:"secondary"`
	ArbiterOnly       bool   `bson:"arbiterOnly"`
	Hidden            bool   `bson:"hidden"`
	IsReplicaSet      bool   `bson:"isreplicaset"`
	Msg               string `bson:"msg"`

	SetName    string        `bson:"setName"`
	SetVersion int64         `bson:"setVersion"`
	ElectionID bson.ObjectID `bson:"electionId"`

	Hosts    []string `bson:"hosts"`
	Passives []string `bson:"passives"`
	Arbiters []string `bson:"arbiters"`
	Primary  string   `bson:"primary"`
	Me       string   `bson:"me"`

	Tags           map[string]string `bson:"tags"`
	MinWireVersion int32             `bson:"minWireVersion"`
	MaxWireVersion int32             `bson:"maxWireVersion"`

	LastWrite struct {
		LastWriteDate time.Time `bson:"lastWriteDate"`
	} `bson:"lastWrite"`
}

// NewDefaultServer returns the Unknown description every server starts
// with before its first check.
func NewDefaultServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown}
}

// NewServerFromError returns an Unknown description annotated with the
// error of a failed check.
func NewServerFromError(addr address.Address, now time.Time, err error) Server {
	return Server{
		Addr:           addr,
		Kind:           Unknown,
		LastUpdateTime: now,
		Error:          err,
	}
}

// NewServer decodes a handshake reply. Replies that fail to decode or
// report ok: 0 produce an Unknown description carrying the error.
func NewServer(addr address.Address, reply bson.Raw, rtt time.Duration, now time.Time) Server {
	var h helloReply
	if err := bson.Unmarshal(reply, &h); err != nil {
		return NewServerFromError(addr, now, fmt.Errorf("decoding handshake reply: %w", err))
	}
	if h.OK == 0 {
		msg := h.ErrMsg
		if msg == "" {
			msg = "handshake failed"
		}
		return NewServerFromError(addr, now, errors.New(msg))
	}
	if h.SetVersion < 0 || h.SetVersion > math.MaxUint32 {
		return NewServerFromError(addr, now, fmt.Errorf("decoding handshake reply: setVersion %d out of range", h.SetVersion))
	}

	s := Server{
		Addr:           addr,
		SetName:        h.SetName,
		ElectionID:     h.ElectionID,
		MinWireVersion: h.MinWireVersion,
		MaxWireVersion: h.MaxWireVersion,
		AverageRTT:     rtt,
		AverageRTTSet:  true,
		LastWriteDate:  h.LastWrite.LastWriteDate,
		LastUpdateTime: now,
	}
	s.SetVersion = uint32(h.SetVersion)
	if len(h.Tags) > 0 {
		s.Tags = TagSet(maps.Clone(h.Tags))
	}

	for _, list := range [][]string{h.Hosts, h.Passives, h.Arbiters} {
		for _, host := range list {
			a, err := address.Parse(host)
			if err != nil {
				continue
			}
			if !slices.Contains(s.Hosts, a) {
				s.Hosts = append(s.Hosts, a)
			}
		}
	}
	if a, err := address.Parse(h.Primary); err == nil && h.Primary != "" {
		s.Primary = a
	}
	if a, err := address.Parse(h.Me); err == nil && h.Me != "" {
		s.Me = a
	}

	switch {
	case h.IsReplicaSet:
		s.Kind = RSGhost
	case h.Msg == "isdbgrid":
		s.Kind = Mongos
	case h.SetName != "":
		switch {
		case h.IsWritablePrimary || h.IsMaster:
			s.Kind = RSPrimary
		case h.Hidden:
			s.Kind = RSOther
		case h.Secondary:
			s.Kind = RSSecondary
		case h.ArbiterOnly:
			s.Kind = RSArbiter
		default:
			s.Kind = RSOther
		}
	default:
		s.Kind = Standalone
	}

	return s
}

// WithKind returns a copy of s with a different server type. Used when the
// topology downgrades an observation (stale primaries, demoted primaries).
func (s Server) WithKind(kind ServerType, err error) Server {
	if kind == Unknown {
		return NewServerFromError(s.Addr, s.LastUpdateTime, err)
	}
	s.Kind = kind
	s.Error = err
	return s
}

// Equal reports whether two descriptions differ in anything other than
// round trip time and update time. Used to decide if a change is worth
// announcing.
func (s Server) Equal(o Server) bool {
	if s.Addr != o.Addr || s.Kind != o.Kind {
		return false
	}
	if s.SetName != o.SetName || s.SetVersion != o.SetVersion ||
		!bytes.Equal(s.ElectionID[:], o.ElectionID[:]) {
		return false
	}
	if s.MinWireVersion != o.MinWireVersion || s.MaxWireVersion != o.MaxWireVersion {
		return false
	}
	if s.Primary != o.Primary || s.Me != o.Me {
		return false
	}
	if !maps.Equal(s.Tags, o.Tags) || !slices.Equal(s.Hosts, o.Hosts) {
		return false
	}
	if (s.Error == nil) != (o.Error == nil) {
		return false
	}
	if s.Error != nil && s.Error.Error() != o.Error.Error() {
		return false
	}
	return true
}

// CompareElection orders (setVersion, electionId) pairs, set version first.
func CompareElection(aVersion uint32, aID bson.ObjectID, bVersion uint32, bID bson.ObjectID) int {
	switch {
	case aVersion < bVersion:
		return -1
	case aVersion > bVersion:
		return 1
	}
	return bytes.Compare(aID[:], bID[:])
}

func (s Server) String() string {
	str := fmt.Sprintf("%s (%s", s.Addr, s.Kind)
	if s.SetName != "" {
		str += ", set " + s.SetName
	}
	if s.AverageRTTSet {
		str += ", rtt " + s.AverageRTT.String()
	}
	if s.Error != nil {
		str += ", error: " + s.Error.Error()
	}
	return str + ")"
}
