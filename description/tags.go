package description

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// TagSet is a set of key/value labels. As a read preference filter an
// empty TagSet matches every server.
type TagSet map[string]string

// Matches reports whether every tag in ts is present, with the same value,
// in tags.
func (ts TagSet) Matches(tags TagSet) bool {
	for k, v := range ts {
		got, ok := tags[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// ParseTagSet parses "dc:ny,rack:1". An empty string is the empty set.
func ParseTagSet(s string) (TagSet, error) {
	ts := TagSet{}
	s = strings.TrimSpace(s)
	if s == "" {
		return ts, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key:value", pair)
		}
		ts[k] = strings.TrimSpace(v)
	}
	return ts, nil
}

func (ts TagSet) String() string {
	keys := slices.Sorted(maps.Keys(ts))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+ts[k])
	}
	return strings.Join(parts, ",")
}
