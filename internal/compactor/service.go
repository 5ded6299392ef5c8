package compactor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/coordination"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/objectstore"
	"github.com/apibara/dna/internal/segment"
)

// Options configures a compactor Service run.
type Options struct {
	Segment         segment.Options
	LeaseTTLSeconds int
	RetryDelay      time.Duration
}

// DefaultOptions mirrors the reference implementation's defaults.
func DefaultOptions() Options {
	return Options{Segment: segment.DefaultOptions(), LeaseTTLSeconds: 10, RetryDelay: 10 * time.Second}
}

// Service wires the Segmenter, Grouper, and Pruner sub-services together
// under the single-holder compaction lock, matching
// compaction_service_loop in the reference implementation: acquire the
// lock, compare-and-fail the stored layout options against ours, then run
// the three sub-services as independent tasks coordinated only through the
// shared chain view's waterlines (spec.md section 4.3-4.5). A sub-service
// error unlocks and retries the whole thing after a fixed delay, except a
// Fatal or Configuration error, which ends Run and is returned.
type Service struct {
	store   *blockstore.Store
	objects objectstore.Store
	etcd    *coordination.Client
	view    *chainview.ChainView
	opts    Options
}

// NewService builds a compactor Service.
func NewService(store *blockstore.Store, objects objectstore.Store, etcd *coordination.Client, view *chainview.ChainView, opts Options) *Service {
	return &Service{store: store, objects: objects, etcd: etcd, view: view, opts: opts}
}

// Run holds the compaction lock and drives the three sub-services until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			if dnaerr.IsKind(err, dnaerr.Fatal) || dnaerr.IsKind(err, dnaerr.Configuration) {
				return err
			}
			log.WithError(err).Error("compaction service error, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.RetryDelay):
			}
		}
	}
}

func (s *Service) runOnce(ctx context.Context) error {
	log.Info("acquiring compaction lock")
	lock, err := s.etcd.AcquireLock(ctx, "compaction", s.opts.LeaseTTLSeconds)
	if err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "compactor: acquire lock")
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			log.WithError(err).Warn("failed to release compaction lock")
		}
	}()

	optionsStore := coordination.NewOptionsStore(s.etcd)
	if err := optionsStore.EnsureSegmentSize(ctx, s.opts.Segment.SegmentSize); err != nil {
		return err
	}
	if err := optionsStore.EnsureGroupSize(ctx, s.opts.Segment.GroupSize); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return NewSegmenter(s.store, s.store, s.view, s.opts.Segment).Run(groupCtx)
	})
	group.Go(func() error {
		return NewGrouper(s.store, s.store, s.view, s.opts.Segment).Run(groupCtx)
	})
	group.Go(func() error {
		return NewPruner(s.store, s.view, s.opts.Segment.SegmentSize).Run(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-lock.Done():
			return dnaerr.New(dnaerr.Temporary, "compactor: lost compaction lock")
		case <-groupCtx.Done():
			return nil
		}
	})

	return group.Wait()
}
