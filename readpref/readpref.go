// Package readpref describes which servers an operation may be sent to.
package readpref

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.ntppool.org/clustermon/description"
)

type Mode uint8

const (
	Primary Mode = iota
	PrimaryPreferred
	Secondary
	SecondaryPreferred
	Nearest
)

var modeNames = map[Mode]string{
	Primary:            "primary",
	PrimaryPreferred:   "primaryPreferred",
	Secondary:          "secondary",
	SecondaryPreferred: "secondaryPreferred",
	Nearest:            "nearest",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// ModeFromString parses a mode name, ignoring case.
func ModeFromString(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown read preference mode %q", s)
}

// UnmarshalText lets kong and other decoders parse a Mode.
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ModeFromString(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ReadPref is a mode plus optional tag sets and maximum staleness. Tag sets
// are tried in order; the first one matching any eligible server wins.
type ReadPref struct {
	Mode         Mode
	TagSets      []description.TagSet
	MaxStaleness time.Duration // zero means no limit
}

type Option func(*ReadPref)

func WithTagSets(sets ...description.TagSet) Option {
	return func(rp *ReadPref) { rp.TagSets = append(rp.TagSets, sets...) }
}

func WithMaxStaleness(d time.Duration) Option {
	return func(rp *ReadPref) { rp.MaxStaleness = d }
}

// New builds a read preference. Validation against the topology happens at
// selection time.
func New(mode Mode, opts ...Option) ReadPref {
	rp := ReadPref{Mode: mode}
	for _, opt := range opts {
		opt(&rp)
	}
	return rp
}

// PrimaryPref is the default read preference.
func PrimaryPref() ReadPref {
	return ReadPref{Mode: Primary}
}

// HasTags reports whether any tag set is non-empty.
func (rp ReadPref) HasTags() bool {
	return slices.ContainsFunc(rp.TagSets, func(ts description.TagSet) bool {
		return len(ts) > 0
	})
}

func (rp ReadPref) String() string {
	var b strings.Builder
	b.WriteString(rp.Mode.String())
	if len(rp.TagSets) > 0 {
		parts := make([]string, len(rp.TagSets))
		for i, ts := range rp.TagSets {
			parts[i] = "{" + ts.String() + "}"
		}
		b.WriteString(" tags=" + strings.Join(parts, ","))
	}
	if rp.MaxStaleness > 0 {
		b.WriteString(" maxStaleness=" + rp.MaxStaleness.String())
	}
	return b.String()
}
