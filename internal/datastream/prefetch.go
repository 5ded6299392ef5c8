package datastream

import (
	"context"

	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/fragment"
)

// candidateItem is one entry in the prefetch queue: either a block that
// passed candidacy and has already been fully loaded (ready for match/send,
// no further I/O needed), or an invalidation the consumer must forward
// immediately.
type candidateItem struct {
	cursor     cursor.Cursor
	block      *fragment.Block
	invalidate bool
	err        error
}

// prefetchDepth bounds how many loaded-but-unsent blocks the background
// fetch loop may accumulate ahead of what the consumer has processed,
// per spec.md section 4.7's bounded-depth look-ahead queue: large enough to
// keep I/O and filter evaluation overlapped, small enough that a slow
// client cannot make the stream buffer unboundedly far ahead.
const prefetchDepth = 4

// runPrefetch walks the chain view forward from start, skipping
// non-candidate blocks without enqueueing them, loading and enqueueing any
// block that passes the cheap index-driven candidacy check, and blocking
// once the chain head is reached until a new block is ingested. It runs
// until ctx is cancelled, at which point it closes out.
func runPrefetch(ctx context.Context, s *Stream, start cursor.Cursor, hasStart bool, out chan<- candidateItem) {
	defer close(out)
	current := start
	hasCurrent := hasStart

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		next := s.view.GetNextCursor(current, hasCurrent)

		switch next.Kind {
		case chainview.AtHead:
			select {
			case <-ctx.Done():
				return
			case <-s.view.Watch(chainview.Ingested):
			}
			continue

		case chainview.Invalidate:
			current = next.Cursor
			hasCurrent = true
			if !sendItem(ctx, out, candidateItem{cursor: next.Cursor, invalidate: true}) {
				return
			}

		case chainview.Continue:
			current = next.Cursor
			hasCurrent = true
			t := selectTier(s.view, s.opts, next.Cursor.Number)
			candidate, err := candidacy(ctx, s.reader, s.opts, t, next.Cursor.Number, s.filter)
			if err != nil {
				sendItem(ctx, out, candidateItem{err: err})
				return
			}
			if !candidate {
				continue
			}
			block, err := loadBlock(ctx, s.reader, s.opts, t, next.Cursor.Number, s.tags)
			if err != nil {
				sendItem(ctx, out, candidateItem{err: err})
				return
			}
			if !sendItem(ctx, out, candidateItem{cursor: next.Cursor, block: block}) {
				return
			}
		}
	}
}

func sendItem(ctx context.Context, out chan<- candidateItem, item candidateItem) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
