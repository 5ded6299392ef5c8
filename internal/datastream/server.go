package datastream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/chainview"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/filecache"
	"github.com/apibara/dna/internal/segment"
)

// Server owns the process-wide resources every client stream shares: the
// chain view, the local file cache, and a semaphore bounding how many
// streams may be active at once (spec.md section 4.7's "total active
// streams limited by a semaphore; each stream acquires an owned permit for
// its lifetime").
type Server struct {
	reader  *cachedReader
	view    *chainview.ChainView
	opts    segment.Options
	matcher EntryMatcher

	permits chan struct{}
	nextID  uint64
}

// NewServer builds a Server. maxActiveStreams bounds concurrent client
// streams; matcher is the chain-adapter-supplied entry-level filter
// evaluator.
func NewServer(reader blockstore.Reader, cache *filecache.Cache, view *chainview.ChainView, opts segment.Options, matcher EntryMatcher, maxActiveStreams int) *Server {
	if maxActiveStreams < 1 {
		maxActiveStreams = 1
	}
	return &Server{
		reader:  newCachedReader(reader, cache, opts),
		view:    view,
		opts:    opts,
		matcher: matcher,
		permits: make(chan struct{}, maxActiveStreams),
	}
}

// StreamData acquires a permit and runs one client connection's Stream to
// completion, blocking until ctx is cancelled (the client disconnects or
// the server shuts down) or the sender errors. Waiting for a permit has no
// timeout of its own; only ctx ends it. It is the method internal/rpcserver's generated-style handler
// calls for the StreamData RPC.
func (s *Server) StreamData(ctx context.Context, filter Filter, finality FinalityMode, startingCursor cursor.Cursor, heartbeatInterval time.Duration, sender Sender) error {
	select {
	case s.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.permits }()

	id := atomic.AddUint64(&s.nextID, 1)
	start := resolveStart(finality, startingCursor, s.view)
	stream := NewStream(id, s.reader, s.view, s.opts, filter, s.matcher, heartbeatInterval, sender, start)
	return stream.Run(ctx)
}

// FinalityMode mirrors the client's requested starting finality, used only
// to resolve an absent starting cursor (spec.md section 4.7's "no starting
// cursor means start from the requested finality's current position").
type FinalityMode int

const (
	FinalityFinalized FinalityMode = iota
	FinalityAccepted
	FinalityPending
)

func resolveStart(finality FinalityMode, startingCursor cursor.Cursor, view *chainview.ChainView) cursor.Cursor {
	if startingCursor.Number != 0 || len(startingCursor.Hash) != 0 {
		return startingCursor
	}
	switch finality {
	case FinalityFinalized:
		if c, ok := view.Get(chainview.Finalized); ok {
			return cursor.NewFinalized(c.Number)
		}
	default:
		if c, ok := view.Head(); ok {
			return c
		}
	}
	return cursor.NewFinalized(0)
}

// Status answers the Status{} RPC with the server's three headline
// cursors.
func (s *Server) Status(ctx context.Context) (lastIngested, lastFinalized, chainTip cursor.Cursor, err error) {
	ingested, ok := s.view.Get(chainview.Ingested)
	if !ok {
		return cursor.Cursor{}, cursor.Cursor{}, cursor.Cursor{}, dnaerr.New(dnaerr.Temporary, "datastream: no data ingested yet")
	}
	finalized, _ := s.view.Get(chainview.Finalized)
	tip, _ := s.view.Head()
	return ingested, finalized, tip, nil
}
