package compactor

import (
	"fmt"
	"sort"

	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/index"
)

// perIndexBuilders accumulates per-IndexID bitmap builders for one source
// fragment tag while the Grouper folds a segment's per-block index fragments
// into a single per-segment index, one level down from what
// segment.GroupBuilder does when it folds per-segment indexes into a group.
type perIndexBuilders struct {
	byID map[uint8]*index.Builder
}

func newPerIndexBuilders() *perIndexBuilders {
	return &perIndexBuilders{byID: make(map[uint8]*index.Builder)}
}

// insert records that idx (a single block's index for one IndexID, whose
// own internal positions are always 0 since it covers a range of length 1)
// is present at position within the segment.
func (p *perIndexBuilders) insert(indexID uint8, idx index.Index, position uint32) {
	b, ok := p.byID[indexID]
	if !ok {
		b = index.NewBuilder()
		p.byID[indexID] = b
	}
	for _, key := range idx.Keys() {
		b.Insert(key, position)
	}
}

// buildIndexGroupPayload finalizes the per-source, per-index builders
// accumulated across one segment's blocks into the segment's own
// IndexGroupPayload, with positions relative to the segment's first block.
func buildIndexGroupPayload(builders map[fragment.Tag]*perIndexBuilders, rangeLen uint32) (fragment.IndexGroupPayload, error) {
	tags := make([]fragment.Tag, 0, len(builders))
	for tag := range builders {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	fragments := make([]fragment.IndexFragmentPayload, 0, len(tags))
	for _, tag := range tags {
		byID := builders[tag].byID
		ids := make([]uint8, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		entries := make([]fragment.IndexEntry, 0, len(ids))
		for _, id := range ids {
			data, err := byID[id].Build().Marshal()
			if err != nil {
				return fragment.IndexGroupPayload{}, fmt.Errorf("compactor: marshal segment bitmap: %w", err)
			}
			entries = append(entries, fragment.IndexEntry{IndexID: id, Bitmap: data})
		}
		fragments = append(fragments, fragment.IndexFragmentPayload{
			SourceTag: tag,
			RangeLen:  rangeLen,
			Entries:   entries,
		})
	}
	return fragment.IndexGroupPayload{Fragments: fragments}, nil
}

