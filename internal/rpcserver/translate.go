package rpcserver

import (
	"time"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/datastream"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/index"
	dna "github.com/apibara/dna/proto/dna"
)

const defaultHeartbeatSeconds = 30

// mergeFilters folds a client's per-group-set filter list (spec.md section
// 4.7 allows registering the filter for more than one "stage" of a stream,
// e.g. a different filter before/after a given cursor) into the single
// Filter the current Stream evaluates against every block. Only the first
// entry is honored; per-cursor filter switching is not yet implemented.
func mergeFilters(in []dna.Filter) datastream.Filter {
	if len(in) == 0 {
		return datastream.Filter{}
	}
	return filterFromWire(in[0])
}

func filterFromWire(f dna.Filter) datastream.Filter {
	groups := make([]datastream.FilterGroup, 0, len(f.Groups))
	for _, g := range f.Groups {
		groups = append(groups, filterGroupFromWire(g))
	}
	return datastream.Filter{Groups: groups, AlwaysIncludeHeader: f.AlwaysIncludeHeader}
}

func filterGroupFromWire(g dna.FilterGroup) datastream.FilterGroup {
	conditions := make([]datastream.Condition, 0, len(g.Conditions))
	for _, c := range g.Conditions {
		conditions = append(conditions, datastream.Condition{
			FragmentTag: fragment.Tag(c.FragmentTag),
			IndexID:     c.IndexID,
			Value:       scalarValueFromWire(c),
		})
	}
	joined := make([]fragment.Tag, 0, len(g.IncludeJoined))
	for _, t := range g.IncludeJoined {
		joined = append(joined, fragment.Tag(t))
	}
	return datastream.FilterGroup{ID: g.ID, Conditions: conditions, IncludeJoined: joined}
}

func scalarValueFromWire(c dna.Condition) index.ScalarValue {
	switch index.ScalarKind(c.Kind) {
	case index.KindBool:
		return index.Bool(c.Bool)
	case index.KindUint32:
		return index.Uint32(uint32(c.Num))
	case index.KindUint64:
		return index.Uint64(c.Num)
	case index.KindB160:
		var b [20]byte
		copy(b[:], c.Bytes)
		return index.B160(b)
	case index.KindB256:
		var b [32]byte
		copy(b[:], c.Bytes)
		return index.B256(b)
	case index.KindB384:
		var b [48]byte
		copy(b[:], c.Bytes)
		return index.B384(b)
	default:
		return index.ScalarValue{}
	}
}

func finalityModeFor(f dna.DataFinality) datastream.FinalityMode {
	switch f {
	case dna.DataFinalityAccepted:
		return datastream.FinalityAccepted
	case dna.DataFinalityPending:
		return datastream.FinalityPending
	default:
		return datastream.FinalityFinalized
	}
}

func cursorFromWire(c *dna.Cursor) cursor.Cursor {
	if c == nil {
		return cursor.Cursor{}
	}
	return cursor.Cursor{Number: c.OrderKey, Hash: c.UniqueKey}
}

func wireCursor(c cursor.Cursor) *dna.Cursor {
	if c.Number == 0 && len(c.Hash) == 0 {
		return nil
	}
	return &dna.Cursor{OrderKey: c.Number, UniqueKey: c.Hash}
}

func heartbeatFor(seconds uint32) time.Duration {
	if seconds == 0 {
		return defaultHeartbeatSeconds * time.Second
	}
	return time.Duration(seconds) * time.Second
}
