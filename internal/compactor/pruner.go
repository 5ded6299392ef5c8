package compactor

import (
	"context"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/metrics"
)

// Pruner deletes per-block blobs once their range is covered by a sealed
// segment group, per spec.md section 4.5: once a block's data lives in a
// group's bitmap index and its body segments, the per-block blob that the
// Ingestor wrote is redundant and can be reclaimed. The pruned waterline
// never crosses grouped, and advances in batches of one segment's worth of
// blocks at a time so a crash mid-run only replays, at most, one segment.
type Pruner struct {
	writer      blockstore.Writer
	view        *chainview.ChainView
	segmentSize uint64
}

// NewPruner builds a Pruner.
func NewPruner(writer blockstore.Writer, view *chainview.ChainView, segmentSize uint64) *Pruner {
	return &Pruner{writer: writer, view: view, segmentSize: segmentSize}
}

// Run repeatedly prunes up to the grouped waterline, then waits for it to
// advance, until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := p.pruneLoop(ctx); err != nil {
			return err
		}

		if err := waitForAdvance(ctx, p.view, chainview.Grouped); err != nil {
			return err
		}
	}
}

func (p *Pruner) pruneLoop(ctx context.Context) error {
	grouped, haveGrouped := p.view.Get(chainview.Grouped)
	if !haveGrouped {
		return nil
	}

	pruned, havePruned := p.view.Get(chainview.Pruned)
	current := uint64(0)
	if havePruned {
		current = pruned.Number + 1
	}

	for current <= grouped.Number {
		batchEnd := current + p.segmentSize - 1
		if batchEnd > grouped.Number {
			batchEnd = grouped.Number
		}

		for n := current; n <= batchEnd; n++ {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if err := p.writer.DeleteBlockWithPrefix(ctx, n); err != nil {
				return dnaerr.Wrapf(dnaerr.Temporary, err, "pruner: delete block %d", n)
			}
		}

		if err := p.view.Advance(chainview.Pruned, cursor.NewFinalized(batchEnd)); err != nil {
			return err
		}
		metrics.PrunedBlocks.Add(float64(batchEnd - current + 1))
		log.WithField("last_pruned", batchEnd).Debug("advanced pruned waterline")

		current = batchEnd + 1
	}
	return nil
}
