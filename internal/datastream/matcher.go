package datastream

import (
	"github.com/apibara/dna/internal/fragment"
)

// EntryMatch is one matched entry within a candidate block's body, tagged
// with the filter group IDs that selected it (spec.md section 4.7 step 3:
// "Tag each emitted entry with the set of matching filter_ids").
type EntryMatch struct {
	FragmentTag fragment.Tag
	EntryIndex  uint32
	FilterIDs   []uint32
	// Joined holds any transitively-included entries this match pulled in
	// via a filter group's IncludeJoined list, keyed by fragment tag.
	Joined map[fragment.Tag][]uint32
}

// EntryMatcher evaluates a filter group's conditions against the decoded
// entries of a candidate block, a chain-specific operation: the byte
// layout of a TagEvent/TagLog/TagTransaction/... body is defined by the
// chain adapter that produced it (spec.md section 1's non-goal: no
// concrete EVM/Starknet/Beacon decoding lives in the core engine). The
// engine only narrows candidate blocks via bitmap indexes (candidate.go)
// and walks joins once entries are identified (resolveJoins below);
// deciding which entries within a block actually satisfy a condition is
// delegated here, mirroring how chainadapter.Adapter is the pluggable
// boundary for fetching chain data.
type EntryMatcher interface {
	Match(block *fragment.Block, group FilterGroup) ([]EntryMatch, error)
}

// resolveJoins expands matches with their transitively joined entries,
// repeating until no new deferred entries remain (spec.md section 4.7 step
// 3). joins is the block's decoded TagJoin fragment.
func resolveJoins(matches []EntryMatch, groupByID map[uint32]FilterGroup, joins fragment.JoinSet) []EntryMatch {
	out := make([]EntryMatch, len(matches))
	copy(out, matches)

	for i := range out {
		group, ok := groupByID[firstFilterID(out[i])]
		if !ok || len(group.IncludeJoined) == 0 {
			continue
		}
		out[i].Joined = walkJoins(out[i].FragmentTag, out[i].EntryIndex, group.IncludeJoined, joins, make(map[fragment.Tag]bool))
	}
	return out
}

func firstFilterID(m EntryMatch) uint32 {
	if len(m.FilterIDs) == 0 {
		return 0
	}
	return m.FilterIDs[0]
}

// walkJoins follows source -> target joins transitively for every target
// tag named in targets, stopping once a target has already been visited
// (join graphs the chain adapter builds are expected to be acyclic, but the
// visited set makes the walk safe regardless).
func walkJoins(source fragment.Tag, sourceIndex uint32, targets []fragment.Tag, joins fragment.JoinSet, visited map[fragment.Tag]bool) map[fragment.Tag][]uint32 {
	result := make(map[fragment.Tag][]uint32)
	if visited[source] {
		return result
	}
	visited[source] = true

	for _, target := range targets {
		payload, ok := joins.Lookup(source, target)
		if !ok {
			continue
		}
		targetIndexes := payload.Resolve(sourceIndex)
		if len(targetIndexes) == 0 {
			continue
		}
		result[target] = append(result[target], targetIndexes...)

		for _, idx := range targetIndexes {
			for deeperTarget, deeperIndexes := range walkJoins(target, idx, targets, joins, visited) {
				result[deeperTarget] = append(result[deeperTarget], deeperIndexes...)
			}
		}
	}
	return result
}
