// Package ingestor implements the Ingestor role (spec.md section 4.2): the
// single leader that tails the chain, writes one immutable blob per block,
// and maintains the chain view.
package ingestor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainadapter"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/coordination"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/metrics"
	"github.com/apibara/dna/internal/objectstore"
)

var log = logrus.WithField("prefix", "ingestor")

// Options configures an Ingestor run.
type Options struct {
	StartingBlock       uint64
	MaxConcurrentFetches int
	LeaseTTLSeconds      int
}

// DefaultOptions mirrors spec.md section 4.2's defaults.
func DefaultOptions() Options {
	return Options{MaxConcurrentFetches: 100, LeaseTTLSeconds: 10}
}

// Ingestor runs the leader-elected ingestion loop.
type Ingestor struct {
	adapter  chainadapter.Adapter
	writer   blockstore.Writer
	objects  objectstore.Store
	etcd     *coordination.Client
	view     *chainview.ChainView
	opts     Options

	mu         sync.Mutex
	lastErr    error
}

// New builds an Ingestor. view should already be loaded from its
// persisted snapshot (chainview.Load) before being passed in.
func New(adapter chainadapter.Adapter, writer blockstore.Writer, objects objectstore.Store, etcd *coordination.Client, view *chainview.ChainView, opts Options) *Ingestor {
	return &Ingestor{adapter: adapter, writer: writer, objects: objects, etcd: etcd, view: view, opts: opts}
}

// Run acquires the ingestion lock and runs the tail loop until ctx is
// cancelled or the lock is lost. It returns nil on clean cancellation.
func (ing *Ingestor) Run(ctx context.Context) error {
	lock, err := ing.etcd.AcquireLock(ctx, "ingestion", ing.opts.LeaseTTLSeconds)
	if err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "ingestor: acquire lock")
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			log.WithError(err).Warn("failed to release ingestion lock")
		}
	}()

	heads, adapterErrs := ing.adapter.Heads(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lock.Done():
			return dnaerr.New(dnaerr.Temporary, "ingestor: lost ingestion lock")
		case err := <-adapterErrs:
			if err != nil {
				return dnaerr.Wrap(dnaerr.Temporary, err, "ingestor: chain adapter error")
			}
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			if err := ing.handleHead(ctx, head); err != nil {
				ing.setErr(err)
				if dnaerr.IsKind(err, dnaerr.Fatal) {
					return err
				}
				log.WithError(err).Warn("transient error handling head, continuing")
			}
		}
	}
}

func (ing *Ingestor) setErr(err error) {
	ing.mu.Lock()
	ing.lastErr = err
	ing.mu.Unlock()
}

// Status reports the last error encountered, for the health endpoint.
func (ing *Ingestor) Status() error {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.lastErr
}

func (ing *Ingestor) handleHead(ctx context.Context, head chainadapter.HeadEvent) error {
	events, err := ing.view.ApplyHead(ctx, head.Cursor, head.ParentHash, ing.adapter.FetchParent)
	if err != nil {
		return err
	}

	var newBlocks []cursor.Cursor
	for _, event := range events {
		switch event.Kind {
		case chainview.EventNewBlock:
			newBlocks = append(newBlocks, event.Cursor)
		case chainview.EventRollback:
			// Per spec.md section 4.2: do not delete the previously
			// written blob, it may still be referenced as an ancestor of
			// another fork. Rolling the ingested waterline back to the
			// common ancestor is enough; re-ingesting the new branch below
			// will re-advance it.
			metrics.IngestorReorgs.Inc()
			log.WithField("cursor", event.Cursor).Info("rolled back ingested block")
		}
	}

	// Fetch the run of new blocks with up to C fetches in flight, but
	// commit the ingested waterline strictly in order so it stays
	// monotonic even if later fetches finish first (spec.md section 4.2's
	// "in-order commit: results are reordered before advancing ingested").
	if err := ing.fetchAndCommit(ctx, newBlocks); err != nil {
		return err
	}

	finalized, err := ing.adapter.FinalizedCursor(ctx)
	if err == nil {
		if err := ing.view.Advance(chainview.Finalized, finalized); err != nil {
			log.WithError(err).Warn("failed to advance finalized waterline")
		}
	}

	return ing.view.Persist(ctx, ing.objects)
}

// fetchAndCommit fetches every cursor in blocks with up to
// opts.MaxConcurrentFetches fetches in flight, then advances the Ingested
// waterline one block at a time in cursor order so a failure partway
// through never leaves the waterline ahead of what was actually written.
func (ing *Ingestor) fetchAndCommit(ctx context.Context, blocks []cursor.Cursor) error {
	if len(blocks) == 0 {
		return nil
	}

	limit := ing.opts.MaxConcurrentFetches
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	errs := make([]error, len(blocks))

	var wg sync.WaitGroup
	for i, c := range blocks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c cursor.Cursor) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = ing.fetchBlock(ctx, c)
		}(i, c)
	}
	wg.Wait()

	for i, c := range blocks {
		if errs[i] != nil {
			return dnaerr.Wrap(dnaerr.Temporary, errs[i], "ingestor: fetch/put block "+c.String())
		}
		if err := ing.view.Advance(chainview.Ingested, c); err != nil {
			return err
		}
		metrics.IngestedBlocks.Inc()
		metrics.IngestorHead.Set(float64(c.Number))
	}
	return nil
}

func (ing *Ingestor) fetchBlock(ctx context.Context, c cursor.Cursor) error {
	op := func() error {
		fetched, err := ing.adapter.FetchBlock(ctx, c)
		if err != nil {
			return err
		}
		return ing.writer.PutBlock(ctx, fetched)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
