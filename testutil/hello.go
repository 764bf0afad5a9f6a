package testutil

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Hello builds handshake reply documents
type Hello struct {
	doc bson.D
}

func newHello(kv ...bson.E) *Hello {
	h := &Hello{doc: bson.D{
		{Key: "ok", Value: 1.0},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(21)},
	}}
	for _, e := range kv {
		h.set(e.Key, e.Value)
	}
	return h
}

func (h *Hello) set(key string, value any) *Hello {
	for i := range h.doc {
		if h.doc[i].Key == key {
			h.doc[i].Value = value
			return h
		}
	}
	h.doc = append(h.doc, bson.E{Key: key, Value: value})
	return h
}

// Standalone is a reply from a server that is not part of a replica set
func Standalone() *Hello {
	return newHello(bson.E{Key: "isWritablePrimary", Value: true})
}

// Mongos is a reply from a shard router
func Mongos() *Hello {
	return newHello(bson.E{Key: "isWritablePrimary", Value: true}, bson.E{Key: "msg", Value: "isdbgrid"})
}

// Ghost is a reply from a replica set member that has no configuration yet
func Ghost() *Hello {
	return newHello(bson.E{Key: "isreplicaset", Value: true})
}

// Primary is a reply from the primary of setName
func Primary(setName string) *Hello {
	return newHello(bson.E{Key: "setName", Value: setName}, bson.E{Key: "isWritablePrimary", Value: true})
}

// Secondary is a reply from a secondary of setName
func Secondary(setName string) *Hello {
	return newHello(bson.E{Key: "setName", Value: setName}, bson.E{Key: "secondary", Value: true})
}

// Arbiter is a reply from an arbiter of setName
func Arbiter(setName string) *Hello {
	return newHello(bson.E{Key: "setName", Value: setName}, bson.E{Key: "arbiterOnly", Value: true})
}

// Failed is an ok: 0 reply
func Failed(msg string) *Hello {
	return &Hello{doc: bson.D{{Key: "ok", Value: 0.0}, {Key: "errmsg", Value: msg}}}
}

// Hosts sets the member list
func (h *Hello) Hosts(hosts ...string) *Hello {
	a := bson.A{}
	for _, host := range hosts {
		a = append(a, host)
	}
	return h.set("hosts", a)
}

// Me sets the address the server reports for itself
func (h *Hello) Me(addr string) *Hello { return h.set("me", addr) }

// PrimaryHint sets the primary the server believes in
func (h *Hello) PrimaryHint(addr string) *Hello { return h.set("primary", addr) }

// Hidden marks the member hidden
func (h *Hello) Hidden() *Hello { return h.set("hidden", true) }

// Election sets setVersion and an electionId derived from id
func (h *Hello) Election(setVersion int32, id byte) *Hello {
	h.set("setVersion", setVersion)
	return h.set("electionId", ElectionID(id))
}

// Tags sets the member tags from key/value pairs
func (h *Hello) Tags(kv ...string) *Hello {
	d := bson.D{}
	for i := 0; i+1 < len(kv); i += 2 {
		d = append(d, bson.E{Key: kv[i], Value: kv[i+1]})
	}
	return h.set("tags", d)
}

// LastWrite sets lastWrite.lastWriteDate
func (h *Hello) LastWrite(t time.Time) *Hello {
	return h.set("lastWrite", bson.D{{Key: "lastWriteDate", Value: t}})
}

// Wire sets the wire version range
func (h *Hello) Wire(lo, hi int32) *Hello {
	h.set("minWireVersion", lo)
	return h.set("maxWireVersion", hi)
}

// ClusterTime attaches a $clusterTime document
func (h *Hello) ClusterTime(seconds, increment uint32) *Hello {
	return h.set("$clusterTime", bson.D{
		{Key: "clusterTime", Value: bson.Timestamp{T: seconds, I: increment}},
		{Key: "signature", Value: bson.D{{Key: "keyId", Value: int64(0)}}},
	})
}

// Raw encodes the reply
func (h *Hello) Raw() bson.Raw {
	b, err := bson.Marshal(h.doc)
	if err != nil {
		panic(err)
	}
	return b
}

// Step wraps the reply in a successful step
func (h *Hello) Step(rtt time.Duration) Step {
	return Step{Hello: h, RTT: rtt}
}

// ElectionID returns an election id that sorts by id
func ElectionID(id byte) bson.ObjectID {
	var oid bson.ObjectID
	oid[len(oid)-1] = id
	return oid
}
