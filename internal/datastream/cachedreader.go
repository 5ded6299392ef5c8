package datastream

import (
	"context"
	"fmt"

	"github.com/apibara/dna/internal/blockstore"
	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/filecache"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/metrics"
	"github.com/apibara/dna/internal/segment"
)

// cachedReader implements blockstore.Reader for segment and group reads
// through the server's local file cache (spec.md section 4.6's FileCache),
// falling back to the underlying store directly for per-block blobs, which
// the reference implementation never routes through its segment cache.
type cachedReader struct {
	reader blockstore.Reader
	cache  *filecache.Cache
	opts   segment.Options
}

func newCachedReader(reader blockstore.Reader, cache *filecache.Cache, opts segment.Options) *cachedReader {
	return &cachedReader{reader: reader, cache: cache, opts: opts}
}

func (r *cachedReader) GetBlock(ctx context.Context, c cursor.Cursor) (*fragment.Block, error) {
	return r.reader.GetBlock(ctx, c)
}

func (r *cachedReader) GetIndexSegment(ctx context.Context, firstBlock uint64) (segment.Segment, error) {
	return r.GetSegment(ctx, firstBlock, fragment.TagIndex.String())
}

func (r *cachedReader) GetSegment(ctx context.Context, firstBlock uint64, fragmentName string) (segment.Segment, error) {
	key := fmt.Sprintf("segment/%s/%s", r.opts.SegmentName(firstBlock), fragmentName)
	entry, hit, err := r.cache.Get(ctx, key)
	recordCacheAccess(hit)
	if err != nil {
		return segment.Segment{}, fmt.Errorf("datastream: fetch segment %s: %w", key, err)
	}
	return segment.UnmarshalSegment(entry.Bytes())
}

func (r *cachedReader) GetGroup(ctx context.Context, firstBlock uint64) (segment.Group, error) {
	key := "group/" + r.opts.GroupName(firstBlock)
	entry, hit, err := r.cache.Get(ctx, key)
	recordCacheAccess(hit)
	if err != nil {
		return segment.Group{}, fmt.Errorf("datastream: fetch group %s: %w", key, err)
	}
	return segment.UnmarshalGroup(entry.Bytes())
}

func recordCacheAccess(hit bool) {
	if hit {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
}

var _ blockstore.Reader = (*cachedReader)(nil)
