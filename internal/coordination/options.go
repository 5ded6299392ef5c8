package coordination

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/apibara/dna/internal/dnaerr"
)

// OptionsStore reads and writes the fixed layout parameters under the
// "options/" prefix (spec.md section 4.8): whichever process starts first
// writes them, every later process must compare-and-fail against what is
// already stored rather than silently adopting different values.
type OptionsStore struct {
	client *Client
}

// NewOptionsStore wraps client for options namespace access.
func NewOptionsStore(client *Client) *OptionsStore {
	return &OptionsStore{client: client}
}

const (
	keyChainSegmentSize = "options/chain_segment_size"
	keySegmentSize      = "options/segment_size"
	keyGroupSize        = "options/group_size"
)

// EnsureUint64 reads the stored value at key; if absent, it writes want. If
// present and different from want, it returns a Configuration error
// describing the mismatch.
func (s *OptionsStore) EnsureUint64(ctx context.Context, key string, want uint64) error {
	existing, ok, err := s.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return s.client.Put(ctx, key, encodeUint64(want))
	}
	got, err := decodeUint64(existing)
	if err != nil {
		return dnaerr.Wrap(dnaerr.Fatal, err, "coordination: decode stored option "+key)
	}
	if got != want {
		return dnaerr.New(dnaerr.Configuration,
			fmt.Sprintf("coordination: option %s changed: stored=%d new=%d", key, got, want))
	}
	return nil
}

// EnsureSegmentSize compares-and-fails the segment size option.
func (s *OptionsStore) EnsureSegmentSize(ctx context.Context, segmentSize uint64) error {
	return s.EnsureUint64(ctx, keySegmentSize, segmentSize)
}

// EnsureGroupSize compares-and-fails the group size option.
func (s *OptionsStore) EnsureGroupSize(ctx context.Context, groupSize uint64) error {
	return s.EnsureUint64(ctx, keyGroupSize, groupSize)
}

// EnsureChainSegmentSize compares-and-fails the recent chain segment size
// (the in-memory/coordination-service reorg window length).
func (s *OptionsStore) EnsureChainSegmentSize(ctx context.Context, size uint64) error {
	return s.EnsureUint64(ctx, keyChainSegmentSize, size)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("coordination: expected 8-byte value, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
