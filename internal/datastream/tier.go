package datastream

import (
	"context"
	"fmt"

	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/segment"
)

// tier classifies a candidate block number against the waterlines, per
// spec.md section 4.7 step 2: group tier has the cheapest candidate check
// (one merged bitmap covering many segments), segment tier falls back to a
// single segment's own index, block tier has no index at all.
type tier int

const (
	tierGroup tier = iota
	tierSegment
	tierBlock
)

func selectTier(view *chainview.ChainView, opts segment.Options, number uint64) tier {
	if grouped, ok := view.Get(chainview.Grouped); ok && number <= grouped.Number {
		return tierGroup
	}
	if segmented, ok := view.Get(chainview.Segmented); ok && number <= segmented.Number {
		return tierSegment
	}
	return tierBlock
}

// candidacy decides whether number is worth fully evaluating, consulting
// the cheapest available index for its tier. CandidateSet.All covers block
// tier (no index exists) and always_include_header.
func candidacy(ctx context.Context, reader *cachedReader, opts segment.Options, t tier, number uint64, filter Filter) (bool, error) {
	if filter.AlwaysIncludeHeader || len(filter.Groups) == 0 {
		return true, nil
	}

	switch t {
	case tierGroup:
		groupStart := opts.GroupStart(number)
		group, err := reader.GetGroup(ctx, groupStart)
		if err != nil {
			return false, fmt.Errorf("datastream: read group at %d: %w", groupStart, err)
		}
		set, err := candidatesForFilter(group.Index, filter)
		if err != nil {
			return false, err
		}
		position := uint32(number - group.FirstBlock.Number)
		return set.Contains(position), nil

	case tierSegment:
		segStart := opts.SegmentStart(number)
		indexSeg, err := reader.GetIndexSegment(ctx, segStart)
		if err != nil {
			return false, fmt.Errorf("datastream: read index segment at %d: %w", segStart, err)
		}
		blockData, ok := indexSeg.BlockAt(number)
		if !ok {
			// No index recorded for this block (e.g. the chain adapter
			// emitted no indexable fragments): treat as non-candidate
			// unless always_include_header already short-circuited above.
			return false, nil
		}
		payload, err := fragment.DecodeIndexFragment(blockData.Data)
		if err != nil {
			return false, err
		}
		set, err := candidatesForFilter(payload, filter)
		if err != nil {
			return false, err
		}
		return set.Contains(0), nil

	default: // tierBlock
		return true, nil
	}
}

// loadBlock assembles a fragment.Block for number from whichever tier it
// falls in: the per-block blob directly at block tier, or the covering
// segment's per-tag columns at group/segment tier (a group carries no body
// data, so group-tier candidates still read their body through the
// segment, per spec.md section 3).
func loadBlock(ctx context.Context, reader *cachedReader, opts segment.Options, t tier, number uint64, tags []fragment.Tag) (*fragment.Block, error) {
	if t == tierBlock {
		return reader.GetBlock(ctx, cursor.NewFinalized(number))
	}

	segStart := opts.SegmentStart(number)
	block := &fragment.Block{Number: number}
	for _, tag := range tags {
		seg, err := reader.GetSegment(ctx, segStart, tag.String())
		if err != nil {
			return nil, fmt.Errorf("datastream: read %s segment at %d: %w", tag, segStart, err)
		}
		blockData, ok := seg.BlockAt(number)
		if !ok {
			continue
		}
		if len(block.Hash) == 0 {
			block.Hash = blockData.Cursor.Hash
		}
		block.Fragments = append(block.Fragments, fragment.Fragment{Tag: tag, Name: tag.String(), Data: blockData.Data})
	}
	return block, nil
}
