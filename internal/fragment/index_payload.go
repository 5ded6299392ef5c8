package fragment

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/apibara/dna/internal/index"
)

// IndexEntry binds one index kind (identified by IndexID, a chain-adapter
// defined small integer e.g. "by address" or "by topic0") to its bitmap.
type IndexEntry struct {
	IndexID uint8
	Bitmap  []byte // index.Index.Marshal() output
}

// IndexFragmentPayload is the decoded Payload() of a TagIndex fragment: all
// the indexes the chain adapter built for one source fragment kind (e.g.
// TagEvent), over a contiguous run of RangeLen positions starting at
// position 0 of whatever unit this fragment belongs to (a single block when
// written by the Segmenter, or a whole group range once merged).
type IndexFragmentPayload struct {
	SourceTag Tag
	RangeLen  uint32
	Entries   []IndexEntry
}

// IndexGroupPayload collects the index payloads for every source fragment
// kind that carries at least one index. The same shape is written by the
// Segmenter (RangeLen == 1, one position per block) and by the Grouper
// (RangeLen == segment_size, positions relative to the group's first
// block), so group-building code never special-cases "is this a block
// index or a group index" -- it only ever merges IndexGroupPayloads.
type IndexGroupPayload struct {
	Fragments []IndexFragmentPayload
}

// Marshal encodes the payload with msgpack, matching the teacher stack's use
// of a compact binary codec for internal wire/storage structures.
func (p IndexGroupPayload) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("fragment: marshal index group payload: %w", err)
	}
	return b, nil
}

// UnmarshalIndexGroupPayload decodes a payload produced by Marshal.
func UnmarshalIndexGroupPayload(data []byte) (IndexGroupPayload, error) {
	var p IndexGroupPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return IndexGroupPayload{}, fmt.Errorf("fragment: unmarshal index group payload: %w", err)
	}
	return p, nil
}

// Index decodes the roaring bitmap for one entry.
func (e IndexEntry) Index() (index.Index, error) {
	return index.Unmarshal(e.Bitmap)
}

// DecodeIndexFragment snappy-decodes and unmarshals a TagIndex fragment's
// raw Data, the common path both the Grouper (folding per-block columns
// into a segment index) and the Server (reading a segment's Index column
// for one candidate block) use to get from stored bytes to an
// IndexGroupPayload.
func DecodeIndexFragment(data []byte) (IndexGroupPayload, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return IndexGroupPayload{}, fmt.Errorf("fragment: snappy decode index fragment: %w", err)
	}
	return UnmarshalIndexGroupPayload(raw)
}

// ByIDAndSource finds the index payload for a given source fragment tag, and
// within it the bitmap for a given index ID, following the two-level lookup
// the data-stream filter evaluator performs (spec.md section 4.7): pick the
// source fragment's indexes, then pick the index kind the condition names.
func (p IndexGroupPayload) ByIDAndSource(source Tag, indexID uint8) (index.Index, bool, error) {
	for _, f := range p.Fragments {
		if f.SourceTag != source {
			continue
		}
		for _, e := range f.Entries {
			if e.IndexID == indexID {
				idx, err := e.Index()
				if err != nil {
					return index.Index{}, false, err
				}
				return idx, true, nil
			}
		}
	}
	return index.Index{}, false, nil
}
