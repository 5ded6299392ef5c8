package segment

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/index"
)

const groupMagic = "DNA1GRP0"

// Group is a segment group: the merged bitmap index for G consecutive
// segments, covering the absolute block range
// [FirstBlock, FirstBlock+RangeLen). Per spec.md section 3 a group carries
// no body data, only the union of every segment's per-block indexes with
// positions shifted to be absolute within the range -- the server uses it
// to answer "which blocks in this range match filter F" with one read,
// then fetches only the matching blocks' segments.
type Group struct {
	FirstBlock cursor.Cursor
	RangeLen   uint32
	Index      fragment.IndexGroupPayload
}

// Marshal encodes the group using the same flat, linear-scan-friendly
// layout as Segment.
func (g Group) Marshal() ([]byte, error) {
	indexBytes, err := g.Index.Marshal()
	if err != nil {
		return nil, fmt.Errorf("segment: marshal group index: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(groupMagic)
	writeUint32(&buf, version)
	writeUint64(&buf, g.FirstBlock.Number)
	writeBytes(&buf, g.FirstBlock.Hash)
	writeUint32(&buf, g.RangeLen)
	writeBytes(&buf, indexBytes)
	return buf.Bytes(), nil
}

// UnmarshalGroup decodes a group archive produced by Marshal.
func UnmarshalGroup(data []byte) (Group, error) {
	if len(data) < len(groupMagic) || string(data[:len(groupMagic)]) != groupMagic {
		return Group{}, fmt.Errorf("segment: bad group magic")
	}
	r := &reader{buf: data[len(groupMagic):]}

	if _, err := r.uint32(); err != nil {
		return Group{}, err
	}
	number, err := r.uint64()
	if err != nil {
		return Group{}, err
	}
	hash, err := r.bytes()
	if err != nil {
		return Group{}, err
	}
	rangeLen, err := r.uint32()
	if err != nil {
		return Group{}, err
	}
	indexBytes, err := r.bytes()
	if err != nil {
		return Group{}, err
	}
	if r.err != nil {
		return Group{}, r.err
	}

	idx, err := fragment.UnmarshalIndexGroupPayload(indexBytes)
	if err != nil {
		return Group{}, err
	}

	return Group{
		FirstBlock: cursor.Cursor{Number: number, Hash: hash},
		RangeLen:   rangeLen,
		Index:      idx,
	}, nil
}

// GroupBuilder accumulates G sealed segments' index payloads and folds them
// into one range-wide Group, mirroring SegmentGroupBuilder in the reference
// implementation's compaction/group_builder.rs.
type GroupBuilder struct {
	segmentSize uint64
	firstBlock  *cursor.Cursor
	lastBlock   uint64
	// builders[sourceTag][indexID] accumulates positions across every
	// segment added so far, absolute within the eventual group range.
	builders map[fragment.Tag]map[uint8]*index.Builder
}

// NewGroupBuilder creates an empty builder for groups covering segmentSize
// blocks each.
func NewGroupBuilder(segmentSize uint64) *GroupBuilder {
	return &GroupBuilder{
		segmentSize: segmentSize,
		builders:    make(map[fragment.Tag]map[uint8]*index.Builder),
	}
}

// AddSegment folds one sealed segment's index fragment into the group.
// indexPayload is the decoded TagIndex fragment for that segment, with
// positions relative to the segment's own first_block.
func (b *GroupBuilder) AddSegment(segmentFirstBlock cursor.Cursor, indexPayload fragment.IndexGroupPayload) error {
	if b.firstBlock == nil {
		first := segmentFirstBlock
		b.firstBlock = &first
	}
	segmentEnd := segmentFirstBlock.Number + b.segmentSize - 1
	if segmentEnd > b.lastBlock {
		b.lastBlock = segmentEnd
	}

	shift := uint32(segmentFirstBlock.Number - b.firstBlock.Number)

	for _, f := range indexPayload.Fragments {
		bySource, ok := b.builders[f.SourceTag]
		if !ok {
			bySource = make(map[uint8]*index.Builder)
			b.builders[f.SourceTag] = bySource
		}
		for _, entry := range f.Entries {
			idx, err := entry.Index()
			if err != nil {
				return fmt.Errorf("segment: decode segment index entry: %w", err)
			}
			builder, ok := bySource[entry.IndexID]
			if !ok {
				builder = index.NewBuilder()
				bySource[entry.IndexID] = builder
			}
			for _, key := range idx.Keys() {
				bm, _ := idx.Get(key)
				it := bm.Iterator()
				for it.HasNext() {
					builder.Insert(key, it.Next()+shift)
				}
			}
		}
	}
	return nil
}

// Build finalizes the accumulated segments into a Group.
func (b *GroupBuilder) Build() (Group, error) {
	if b.firstBlock == nil {
		return Group{}, fmt.Errorf("segment: group builder has no segments")
	}

	tags := make([]fragment.Tag, 0, len(b.builders))
	for tag := range b.builders {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	fragments := make([]fragment.IndexFragmentPayload, 0, len(tags))
	rangeLen := uint32(b.lastBlock-b.firstBlock.Number) + 1

	for _, tag := range tags {
		byID := b.builders[tag]
		ids := make([]uint8, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		entries := make([]fragment.IndexEntry, 0, len(ids))
		for _, id := range ids {
			built := byID[id].Build()
			data, err := built.Marshal()
			if err != nil {
				return Group{}, fmt.Errorf("segment: marshal group bitmap: %w", err)
			}
			entries = append(entries, fragment.IndexEntry{IndexID: id, Bitmap: data})
		}
		fragments = append(fragments, fragment.IndexFragmentPayload{
			SourceTag: tag,
			RangeLen:  rangeLen,
			Entries:   entries,
		})
	}

	return Group{
		FirstBlock: *b.firstBlock,
		RangeLen:   rangeLen,
		Index:      fragment.IndexGroupPayload{Fragments: fragments},
	}, nil
}
