// Package blockstore implements the typed key layout over objectstore.Store
// described in spec.md section 4.6: per-block blobs, segments, groups, and
// the chain-view snapshot files, each under their own key prefix.
package blockstore

import (
	"context"
	"fmt"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/objectstore"
	"github.com/apibara/dna/internal/segment"
)

// Reader is the read side of the block store, used by the Compactor (to
// read per-block blobs and sealed segments) and the Server (to read
// segments and groups through the file cache).
type Reader interface {
	GetBlock(ctx context.Context, c cursor.Cursor) (*fragment.Block, error)
	GetIndexSegment(ctx context.Context, firstBlock uint64) (segment.Segment, error)
	GetSegment(ctx context.Context, firstBlock uint64, fragmentName string) (segment.Segment, error)
	GetGroup(ctx context.Context, firstBlock uint64) (segment.Group, error)
}

// Writer is the write side, used by the Ingestor (per-block blobs), the
// Compactor's Segmenter/Grouper (segments/groups), and the Pruner (delete).
type Writer interface {
	PutBlock(ctx context.Context, block *fragment.Block) error
	PutSegment(ctx context.Context, s segment.SerializedSegment) error
	PutGroup(ctx context.Context, firstBlock uint64, g segment.Group) error
	DeleteBlockWithPrefix(ctx context.Context, number uint64) error
}

// Store implements both Reader and Writer over a single objectstore.Store,
// plus a codec for block payloads (msgpack, matching the rest of the
// module's internal wire structures).
type Store struct {
	objects objectstore.Store
	opts    segment.Options
}

// New builds a Store over objects, using opts for segment/group naming.
func New(objects objectstore.Store, opts segment.Options) *Store {
	return &Store{objects: objects, opts: opts}
}

// blockKey returns the per-block blob key: "<first two hex digits of the
// block number, zero padded>/<number>/<hash>".
func blockKey(c cursor.Cursor) string {
	prefix := fmt.Sprintf("%02x", (c.Number>>56)&0xff)
	return fmt.Sprintf("%s/%020d/%x", prefix, c.Number, c.Hash)
}

// blockPrefix returns the prefix under which every blob for a given block
// number lives (blocks can have more than one blob across a reorg, one per
// competing hash, until the covering group is sealed).
func blockPrefix(number uint64) string {
	prefix := fmt.Sprintf("%02x", (number>>56)&0xff)
	return fmt.Sprintf("%s/%020d/", prefix, number)
}

func segmentKey(opts segment.Options, firstBlock uint64, fragmentName string) string {
	return fmt.Sprintf("segment/%s/%s", opts.SegmentName(firstBlock), fragmentName)
}

func groupKey(opts segment.Options, firstBlock uint64) string {
	return fmt.Sprintf("group/%s", opts.GroupName(firstBlock))
}

func (s *Store) PutBlock(ctx context.Context, block *fragment.Block) error {
	data, err := marshalBlock(block)
	if err != nil {
		return err
	}
	c := cursor.New(block.Number, block.Hash)
	_, err = s.objects.Put(ctx, blockKey(c), data, objectstore.PutOptions{Mode: objectstore.Overwrite})
	if err != nil {
		return fmt.Errorf("blockstore: put block %s: %w", c, err)
	}
	return nil
}

func (s *Store) GetBlock(ctx context.Context, c cursor.Cursor) (*fragment.Block, error) {
	data, _, err := s.objects.Get(ctx, blockKey(c), objectstore.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("blockstore: get block %s: %w", c, err)
	}
	return unmarshalBlock(data)
}

func (s *Store) PutSegment(ctx context.Context, serialized segment.SerializedSegment) error {
	key := "segment/" + serialized.Name
	_, err := s.objects.Put(ctx, key, serialized.Data, objectstore.PutOptions{Mode: objectstore.Create})
	if err != nil {
		return fmt.Errorf("blockstore: put segment %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetIndexSegment(ctx context.Context, firstBlock uint64) (segment.Segment, error) {
	return s.GetSegment(ctx, firstBlock, fragment.TagIndex.String())
}

func (s *Store) GetSegment(ctx context.Context, firstBlock uint64, fragmentName string) (segment.Segment, error) {
	data, _, err := s.objects.Get(ctx, segmentKey(s.opts, firstBlock, fragmentName), objectstore.GetOptions{})
	if err != nil {
		return segment.Segment{}, fmt.Errorf("blockstore: get segment: %w", err)
	}
	sg, err := segment.UnmarshalSegment(data)
	if err != nil {
		return segment.Segment{}, dnaerr.Wrap(dnaerr.Fatal, err, "blockstore: corrupt segment archive")
	}
	return sg, nil
}

func (s *Store) PutGroup(ctx context.Context, firstBlock uint64, g segment.Group) error {
	data, err := g.Marshal()
	if err != nil {
		return fmt.Errorf("blockstore: marshal group: %w", err)
	}
	key := groupKey(s.opts, firstBlock)
	_, err = s.objects.Put(ctx, key, data, objectstore.PutOptions{Mode: objectstore.Create})
	if err != nil {
		return fmt.Errorf("blockstore: put group %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, firstBlock uint64) (segment.Group, error) {
	data, _, err := s.objects.Get(ctx, groupKey(s.opts, firstBlock), objectstore.GetOptions{})
	if err != nil {
		return segment.Group{}, fmt.Errorf("blockstore: get group: %w", err)
	}
	g, err := segment.UnmarshalGroup(data)
	if err != nil {
		return segment.Group{}, dnaerr.Wrap(dnaerr.Fatal, err, "blockstore: corrupt group archive")
	}
	return g, nil
}

func (s *Store) DeleteBlockWithPrefix(ctx context.Context, number uint64) error {
	keys, err := s.objects.List(ctx, blockPrefix(number))
	if err != nil {
		return fmt.Errorf("blockstore: list blocks at %d: %w", number, err)
	}
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			return fmt.Errorf("blockstore: delete %s: %w", key, err)
		}
	}
	return nil
}

var (
	_ Reader = (*Store)(nil)
	_ Writer = (*Store)(nil)
)
