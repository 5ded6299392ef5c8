package compactor

import (
	"context"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/metrics"
	"github.com/apibara/dna/internal/segment"
)

// Grouper packs runs of G sealed segments into segment groups that hoist
// bitmap indexes into a range-wide structure, per spec.md section 4.4.
type Grouper struct {
	reader blockstore.Reader
	writer blockstore.Writer
	view   *chainview.ChainView
	opts   segment.Options
}

// NewGrouper builds a Grouper.
func NewGrouper(reader blockstore.Reader, writer blockstore.Writer, view *chainview.ChainView, opts segment.Options) *Grouper {
	return &Grouper{reader: reader, writer: writer, view: view, opts: opts}
}

// Run waits for segmented-grouped >= S*G and seals one group at a time
// until ctx is cancelled.
func (g *Grouper) Run(ctx context.Context) error {
	groupBlocks := g.opts.GroupBlocks()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		grouped, haveGrouped := g.view.Get(chainview.Grouped)
		nextFirstBlock := uint64(0)
		if haveGrouped {
			nextFirstBlock = grouped.Number + 1
		}

		segmented, ok := g.view.Get(chainview.Segmented)
		if !ok || segmented.Number+1 < nextFirstBlock+groupBlocks {
			if err := waitForAdvance(ctx, g.view, chainview.Segmented); err != nil {
				return err
			}
			continue
		}

		if err := g.sealOne(ctx, nextFirstBlock); err != nil {
			return err
		}
	}
}

func (g *Grouper) sealOne(ctx context.Context, firstBlock uint64) error {
	builder := segment.NewGroupBuilder(g.opts.SegmentSize)

	for s := uint64(0); s < g.opts.GroupSize; s++ {
		segFirst := firstBlock + s*g.opts.SegmentSize
		indexSegment, err := g.reader.GetIndexSegment(ctx, segFirst)
		if err != nil {
			return dnaerr.Wrapf(dnaerr.Fatal, err, "grouper: missing index segment at %d", segFirst)
		}
		payload, err := decodeSegmentIndex(indexSegment)
		if err != nil {
			return dnaerr.Wrapf(dnaerr.Fatal, err, "grouper: decode index segment at %d", segFirst)
		}
		if err := builder.AddSegment(cursor.NewFinalized(segFirst), payload); err != nil {
			return dnaerr.Wrap(dnaerr.Fatal, err, "grouper: fold segment index")
		}
	}

	group, err := builder.Build()
	if err != nil {
		return dnaerr.Wrap(dnaerr.Fatal, err, "grouper: build group")
	}
	if err := g.writer.PutGroup(ctx, firstBlock, group); err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "grouper: put group")
	}

	newGrouped := firstBlock + g.opts.GroupBlocks() - 1
	if err := g.view.Advance(chainview.Grouped, cursor.NewFinalized(newGrouped)); err != nil {
		return err
	}
	metrics.GroupedBlocks.Add(float64(g.opts.GroupBlocks()))
	log.WithField("first_block", firstBlock).Info("sealed segment group")
	return nil
}

// decodeSegmentIndex merges every block's per-block Index fragment within
// one segment into a single IndexGroupPayload covering that segment's
// range (range_start relative to the segment's own first block), the
// per-segment equivalent of what the group builder later folds across
// segments.
func decodeSegmentIndex(s segment.Segment) (fragment.IndexGroupPayload, error) {
	builders := make(map[fragment.Tag]*perIndexBuilders)

	for i, block := range s.Blocks {
		payload, err := fragment.DecodeIndexFragment(block.Data)
		if err != nil {
			return fragment.IndexGroupPayload{}, err
		}
		for _, f := range payload.Fragments {
			pb, ok := builders[f.SourceTag]
			if !ok {
				pb = newPerIndexBuilders()
				builders[f.SourceTag] = pb
			}
			for _, e := range f.Entries {
				idx, err := e.Index()
				if err != nil {
					return fragment.IndexGroupPayload{}, err
				}
				pb.insert(e.IndexID, idx, uint32(i))
			}
		}
	}

	return buildIndexGroupPayload(builders, uint32(len(s.Blocks)))
}
