// Package compactor implements the Compactor role's three sub-services
// (spec.md sections 4.3-4.5): the Segmenter, the Grouper, and the Pruner,
// coordinated only through the shared chain view's waterlines.
package compactor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/metrics"
	"github.com/apibara/dna/internal/segment"
)

var log = logrus.WithField("prefix", "compactor")

// Segmenter packs runs of S contiguous finalized per-block blobs into
// column segments, per spec.md section 4.3.
type Segmenter struct {
	reader blockstore.Reader
	writer blockstore.Writer
	view   *chainview.ChainView
	opts   segment.Options
}

// NewSegmenter builds a Segmenter.
func NewSegmenter(reader blockstore.Reader, writer blockstore.Writer, view *chainview.ChainView, opts segment.Options) *Segmenter {
	return &Segmenter{reader: reader, writer: writer, view: view, opts: opts}
}

// Run waits for finalized-segmented >= S and seals one segment at a time
// until ctx is cancelled.
func (s *Segmenter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		segmented, haveSegmented := s.view.Get(chainview.Segmented)
		nextFirstBlock := uint64(0)
		if haveSegmented {
			nextFirstBlock = segmented.Number + 1
		}

		finalized, ok := s.view.Get(chainview.Finalized)
		if !ok || finalized.Number+1 < nextFirstBlock+s.opts.SegmentSize {
			if err := waitForAdvance(ctx, s.view, chainview.Finalized); err != nil {
				return err
			}
			continue
		}

		if err := s.sealOne(ctx, nextFirstBlock); err != nil {
			return err
		}
	}
}

func (s *Segmenter) sealOne(ctx context.Context, firstBlock uint64) error {
	builder := segment.NewBuilder()
	startCursor := cursor.NewFinalized(firstBlock)
	if err := builder.StartSegment(startCursor); err != nil {
		return dnaerr.Wrap(dnaerr.Fatal, err, "segmenter: start segment")
	}

	for n := firstBlock; n < firstBlock+s.opts.SegmentSize; n++ {
		block, err := s.reader.GetBlock(ctx, cursor.NewFinalized(n))
		if err != nil {
			return dnaerr.Wrapf(dnaerr.Fatal, err, "segmenter: missing finalized block %d", n)
		}
		if err := builder.AddBlock(block); err != nil {
			return dnaerr.Wrap(dnaerr.Fatal, err, "segmenter: add block")
		}
	}

	serialized, err := builder.Flush(s.opts)
	if err != nil {
		return dnaerr.Wrap(dnaerr.Fatal, err, "segmenter: flush")
	}
	for _, sg := range serialized {
		if err := s.writer.PutSegment(ctx, sg); err != nil {
			return dnaerr.Wrap(dnaerr.Temporary, err, "segmenter: put segment")
		}
	}

	newSegmented := firstBlock + s.opts.SegmentSize - 1
	if err := s.view.Advance(chainview.Segmented, cursor.NewFinalized(newSegmented)); err != nil {
		return err
	}
	metrics.SegmentedBlocks.Add(float64(s.opts.SegmentSize))
	log.WithField("first_block", firstBlock).Info("sealed segment")
	return nil
}

// waitForAdvance blocks until waterline w changes, ctx is cancelled, or 30
// seconds pass.
func waitForAdvance(ctx context.Context, view *chainview.ChainView, w chainview.Waterline) error {
	ch := view.Watch(w)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return nil
	case <-time.After(30 * time.Second):
		return nil
	}
}
