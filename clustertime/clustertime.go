// Package clustertime tracks the highest logical cluster time seen in
// server replies, for causal consistency gossip.
package clustertime

import (
	"cmp"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Time is a logical timestamp ordered by seconds, then increment.
type Time struct {
	Seconds   uint32
	Increment uint32
}

func (t Time) Compare(o Time) int {
	if c := cmp.Compare(t.Seconds, o.Seconds); c != 0 {
		return c
	}
	return cmp.Compare(t.Increment, o.Increment)
}

func (t Time) Before(o Time) bool { return t.Compare(o) < 0 }
func (t Time) After(o Time) bool  { return t.Compare(o) > 0 }
func (t Time) Equal(o Time) bool  { return t == o }
func (t Time) IsZero() bool       { return t == Time{} }

func (t Time) String() string {
	return fmt.Sprintf("Timestamp(%d, %d)", t.Seconds, t.Increment)
}

// ClusterTime is the $clusterTime document: the timestamp plus the
// opaque signature the server attached to it.
type ClusterTime struct {
	Time      Time
	Signature bson.Raw
}

var ErrNoClusterTime = errors.New("reply has no $clusterTime")

// FromReply extracts $clusterTime from a server reply.
func FromReply(reply bson.Raw) (ClusterTime, error) {
	v, err := reply.LookupErr("$clusterTime")
	if err != nil {
		return ClusterTime{}, ErrNoClusterTime
	}
	doc, ok := v.DocumentOK()
	if !ok {
		return ClusterTime{}, fmt.Errorf("$clusterTime is a %s, not a document", v.Type)
	}
	tv, err := doc.LookupErr("clusterTime")
	if err != nil {
		return ClusterTime{}, fmt.Errorf("$clusterTime.clusterTime: %w", err)
	}
	sec, inc, ok := tv.TimestampOK()
	if !ok {
		return ClusterTime{}, fmt.Errorf("$clusterTime.clusterTime is a %s, not a timestamp", tv.Type)
	}

	ct := ClusterTime{Time: Time{Seconds: sec, Increment: inc}}
	if sv, err := doc.LookupErr("signature"); err == nil {
		if sig, ok := sv.DocumentOK(); ok {
			ct.Signature = append(bson.Raw(nil), sig...)
		}
	}
	return ct, nil
}

// MarshalBSON renders the document sent back to servers as $clusterTime.
func (ct ClusterTime) MarshalBSON() ([]byte, error) {
	d := bson.D{{Key: "clusterTime", Value: bson.Timestamp{T: ct.Time.Seconds, I: ct.Time.Increment}}}
	if len(ct.Signature) > 0 {
		d = append(d, bson.E{Key: "signature", Value: ct.Signature})
	}
	return bson.Marshal(d)
}

// Clock holds the greatest cluster time observed. It never moves backwards.
// The zero value is ready to use.
type Clock struct {
	mu  sync.RWMutex
	cur ClusterTime
	set bool
}

// Advance replaces the current value when ct is strictly greater and
// reports whether it did.
func (c *Clock) Advance(ct ClusterTime) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && !ct.Time.After(c.cur.Time) {
		return false
	}
	c.cur = ct
	c.set = true
	return true
}

// AdvanceFromReply advances the clock with the $clusterTime of a reply,
// if it has one.
func (c *Clock) AdvanceFromReply(reply bson.Raw) bool {
	ct, err := FromReply(reply)
	if err != nil {
		return false
	}
	return c.Advance(ct)
}

// Current returns the greatest cluster time seen; ok is false before the
// first Advance.
func (c *Clock) Current() (ClusterTime, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur, c.set
}
