package segment

import (
	"fmt"
	"sort"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/fragment"
)

// Builder accumulates S consecutive blocks and splits them column-wise into
// one Segment per fragment tag, following the reference implementation's
// SegmentBuilder (compaction/segment_builder.rs): every block must carry
// the same set of fragment tags, or the adapter that produced it is buggy.
type Builder struct {
	expectedTags []fragment.Tag
	firstBlock   *cursor.Cursor
	byTag        map[fragment.Tag][]BlockData
}

// NewBuilder creates an empty segment builder.
func NewBuilder() *Builder {
	return &Builder{byTag: make(map[fragment.Tag][]BlockData)}
}

// StartSegment records the first block's cursor. Calling it twice without
// an intervening Flush is a programmer error.
func (b *Builder) StartSegment(firstBlock cursor.Cursor) error {
	if b.firstBlock != nil {
		return fmt.Errorf("segment: builder already started a segment")
	}
	b.firstBlock = &firstBlock
	return nil
}

// AddBlock folds one block's fragments into the builder's per-tag columns.
func (b *Builder) AddBlock(block *fragment.Block) error {
	tags := block.Tags()
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	if b.expectedTags == nil {
		b.expectedTags = tags
	} else if !sameTags(b.expectedTags, tags) {
		return fmt.Errorf("segment: block %d has unexpected fragment set %v (expected %v); this is a bug in the chain adapter", block.Number, tags, b.expectedTags)
	}

	c := cursor.New(block.Number, block.Hash)
	for _, f := range block.Fragments {
		b.byTag[f.Tag] = append(b.byTag[f.Tag], BlockData{Cursor: c, Data: f.Data})
	}
	return nil
}

// Flush produces one SerializedSegment per fragment tag accumulated so far
// and resets the builder's per-segment state (expectedTags carries over,
// matching the reference implementation's "leave expected_fragment_count
// as is" note: the tag set must stay consistent across segments).
func (b *Builder) Flush(opts Options) ([]SerializedSegment, error) {
	if b.firstBlock == nil {
		return nil, fmt.Errorf("segment: no segment started")
	}
	first := *b.firstBlock
	b.firstBlock = nil

	byTag := b.byTag
	b.byTag = make(map[fragment.Tag][]BlockData)

	tags := make([]fragment.Tag, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	out := make([]SerializedSegment, 0, len(tags))
	for _, tag := range tags {
		s := Segment{FirstBlock: first, Blocks: byTag[tag]}
		data, err := s.Marshal()
		if err != nil {
			return nil, fmt.Errorf("segment: marshal %s segment: %w", tag, err)
		}
		name := fmt.Sprintf("%s/%s", opts.SegmentName(first.Number), tag.String())
		out = append(out, SerializedSegment{Name: name, Data: data})
	}
	return out, nil
}

func sameTags(a, b []fragment.Tag) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
