package datastream

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/apibara/dna/internal/fragment"
)

// CandidateSet narrows a segment or group's range down to the block
// positions worth fetching and evaluating in full. All == true means every
// position in the range is a candidate (no usable index, or the client set
// always_include_header), in which case Positions is nil.
type CandidateSet struct {
	All       bool
	Positions *roaring.Bitmap
}

// Contains reports whether position is a candidate.
func (c CandidateSet) Contains(position uint32) bool {
	if c.All {
		return true
	}
	return c.Positions.Contains(position)
}

// candidatesForFilter computes the set of positions worth evaluating within
// a range whose merged (group-tier) or per-segment index is payload,
// following spec.md section 4.7 step 3: intersect a group's conditions,
// then union across groups. always_include_header forces a full scan.
func candidatesForFilter(payload fragment.IndexGroupPayload, filter Filter) (CandidateSet, error) {
	if filter.AlwaysIncludeHeader || len(filter.Groups) == 0 {
		return CandidateSet{All: true}, nil
	}

	union := roaring.New()
	anyGroupMatched := false

	for _, group := range filter.Groups {
		groupSet, ok, err := intersectGroup(payload, group)
		if err != nil {
			return CandidateSet{}, err
		}
		if !ok {
			continue
		}
		anyGroupMatched = true
		union.Or(groupSet)
	}

	if !anyGroupMatched {
		return CandidateSet{Positions: roaring.New()}, nil
	}
	return CandidateSet{Positions: union}, nil
}

// intersectGroup ANDs together the bitmaps for every condition in group. A
// group with no conditions matches nothing (an empty filter group is a
// client error the caller should have already rejected). ok is false if any
// condition names an index the payload never recorded, meaning the group
// can never match within this range.
func intersectGroup(payload fragment.IndexGroupPayload, group FilterGroup) (*roaring.Bitmap, bool, error) {
	if len(group.Conditions) == 0 {
		return nil, false, nil
	}

	var result *roaring.Bitmap
	for _, cond := range group.Conditions {
		idx, found, err := payload.ByIDAndSource(cond.FragmentTag, cond.IndexID)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		bm, found := idx.Get(cond.Value)
		if !found {
			return nil, false, nil
		}
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
		if result.IsEmpty() {
			return nil, false, nil
		}
	}
	return result, true, nil
}
