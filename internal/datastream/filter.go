// Package datastream implements the Server role's per-connection streaming
// engine (spec.md section 4.7): cursor resolution against the chain view,
// tier selection by waterline, bitmap-index-driven candidate narrowing,
// transitive join resolution, a bounded look-ahead prefetch pipeline, and
// heartbeat/backpressure/cancellation handling.
package datastream

import (
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/index"
)

// Condition is one scalar-value match against a fragment's bitmap index,
// the chain-agnostic unit spec.md section 4.7 calls "conditions keyed by
// fragment_id + index_id + scalar value".
type Condition struct {
	FragmentTag fragment.Tag
	IndexID     uint8
	Value       index.ScalarValue
}

// FilterGroup is one of up to five top-level filters a client may register.
// A block or entry satisfies the group only if every condition in it
// matches (AND within a group); IncludeJoined names fragment kinds whose
// joined entries should be resolved and attached to anything the group
// matches (spec.md section 4.7 step 3's "include joined data").
type FilterGroup struct {
	ID            uint32
	Conditions    []Condition
	IncludeJoined []fragment.Tag
}

// Filter is a client's full filter set.
type Filter struct {
	Groups              []FilterGroup
	AlwaysIncludeHeader bool
}

// conditionsByTag partitions a group's conditions by the fragment tag they
// apply to, since candidate narrowing intersects bitmaps one fragment kind
// at a time.
func (g FilterGroup) conditionsByTag() map[fragment.Tag][]Condition {
	out := make(map[fragment.Tag][]Condition)
	for _, c := range g.Conditions {
		out[c.FragmentTag] = append(out[c.FragmentTag], c)
	}
	return out
}
