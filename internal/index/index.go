// Package index implements the bitmap-index primitive described in spec.md
// sections 3, 4.4 and 9 ("indexes as data, not code"): a scalar key maps to
// a roaring bitmap of block positions. New index kinds only need a new
// IndexID; nothing here needs to change to support them.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// ScalarKind tags the shape of a ScalarValue, mirroring the fixed set of key
// shapes the reference implementation supports (bool, fixed-width byte
// arrays for addresses/hashes, and small integers).
type ScalarKind uint8

const (
	KindBool ScalarKind = iota
	KindB160            // 20-byte value, e.g. an EVM address
	KindB256            // 32-byte value, e.g. a topic/hash/felt
	KindB384            // 48-byte value, e.g. a BLS public key
	KindUint32
	KindUint64
)

// ScalarValue is a tagged, comparable key for a bitmap index. It is
// comparable as a Go value (all fields are value types) so it can be used
// directly as a map key.
type ScalarValue struct {
	Kind  ScalarKind
	Bytes [48]byte // used by KindB160/B256/B384, left-aligned
	Num   uint64   // used by KindUint32/KindUint64
	Bool  bool     // used by KindBool
}

func Bool(v bool) ScalarValue { return ScalarValue{Kind: KindBool, Bool: v} }

func B160(v [20]byte) ScalarValue {
	var sv ScalarValue
	sv.Kind = KindB160
	copy(sv.Bytes[:], v[:])
	return sv
}

func B256(v [32]byte) ScalarValue {
	var sv ScalarValue
	sv.Kind = KindB256
	copy(sv.Bytes[:], v[:])
	return sv
}

func B384(v [48]byte) ScalarValue {
	var sv ScalarValue
	sv.Kind = KindB384
	copy(sv.Bytes[:], v[:])
	return sv
}

func Uint32(v uint32) ScalarValue { return ScalarValue{Kind: KindUint32, Num: uint64(v)} }
func Uint64(v uint64) ScalarValue { return ScalarValue{Kind: KindUint64, Num: v} }

// sizeFor returns how many bytes of Bytes are meaningful for the kind.
func sizeFor(k ScalarKind) int {
	switch k {
	case KindB160:
		return 20
	case KindB256:
		return 32
	case KindB384:
		return 48
	default:
		return 0
	}
}

func (s ScalarValue) String() string {
	switch s.Kind {
	case KindBool:
		return fmt.Sprintf("bool(%v)", s.Bool)
	case KindUint32, KindUint64:
		return fmt.Sprintf("uint(%d)", s.Num)
	default:
		n := sizeFor(s.Kind)
		return fmt.Sprintf("bytes(0x%x)", s.Bytes[:n])
	}
}

// encode produces a stable byte encoding used for sorting and serialization.
func (s ScalarValue) encode() []byte {
	n := sizeFor(s.Kind)
	buf := make([]byte, 2+8+n)
	buf[0] = byte(s.Kind)
	if s.Bool {
		buf[1] = 1
	}
	binary.BigEndian.PutUint64(buf[2:10], s.Num)
	copy(buf[10:], s.Bytes[:n])
	return buf
}

func decodeScalarValue(b []byte) (ScalarValue, error) {
	if len(b) < 10 {
		return ScalarValue{}, fmt.Errorf("index: short scalar value buffer")
	}
	sv := ScalarValue{Kind: ScalarKind(b[0]), Bool: b[1] != 0, Num: binary.BigEndian.Uint64(b[2:10])}
	n := sizeFor(sv.Kind)
	if len(b[10:]) < n {
		return ScalarValue{}, fmt.Errorf("index: short scalar value payload")
	}
	copy(sv.Bytes[:], b[10:10+n])
	return sv, nil
}

// Builder accumulates (key -> positions) pairs while a segment or group is
// being built, then produces an immutable, sorted Index.
type Builder struct {
	bitmaps map[ScalarValue]*roaring.Bitmap
}

// NewBuilder creates an empty bitmap index builder.
func NewBuilder() *Builder {
	return &Builder{bitmaps: make(map[ScalarValue]*roaring.Bitmap)}
}

// Insert records that key is present at the given position (a block number
// relative to the segment's first_block, or absolute within a group range).
func (b *Builder) Insert(key ScalarValue, position uint32) {
	bm, ok := b.bitmaps[key]
	if !ok {
		bm = roaring.New()
		b.bitmaps[key] = bm
	}
	bm.Add(position)
}

// Build finalizes the builder into an Index with deterministically sorted
// keys, ready for serialization.
func (b *Builder) Build() Index {
	keys := make([]ScalarValue, 0, len(b.bitmaps))
	for k := range b.bitmaps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].encode(), keys[j].encode()) < 0
	})

	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, entry{key: k, bitmap: b.bitmaps[k]})
	}
	return Index{entries: entries}
}

type entry struct {
	key    ScalarValue
	bitmap *roaring.Bitmap
}

// Index is an immutable, sorted mapping from scalar key to a roaring bitmap
// of positions. Equal keys merge by bitmap union when two indexes are
// combined (Merge), which is how the Grouper folds S per-block indexes and
// G segment indexes into one range-wide index.
type Index struct {
	entries []entry
}

// Get returns the bitmap for key, if present.
func (idx Index) Get(key ScalarValue) (*roaring.Bitmap, bool) {
	for _, e := range idx.entries {
		if e.key == key {
			return e.bitmap, true
		}
	}
	return nil, false
}

// Keys returns the sorted keys present in the index.
func (idx Index) Keys() []ScalarValue {
	keys := make([]ScalarValue, 0, len(idx.entries))
	for _, e := range idx.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// Len reports the number of distinct keys in the index.
func (idx Index) Len() int { return len(idx.entries) }

// Merge combines idx with other into a new Index, unioning bitmaps for
// equal keys. shift is added to every position copied from other -- used
// when merging a segment's relative-to-first_block index into an
// absolute-within-group index.
func Merge(indexes []Index, shifts []uint32) Index {
	builder := NewBuilder()
	for i, idx := range indexes {
		shift := uint32(0)
		if i < len(shifts) {
			shift = shifts[i]
		}
		for _, e := range idx.entries {
			it := e.bitmap.Iterator()
			for it.HasNext() {
				builder.Insert(e.key, it.Next()+shift)
			}
		}
	}
	return builder.Build()
}

// Marshal serializes the index to bytes: entry count, then per-entry
// (encoded key, roaring bitmap bytes).
func (idx Index) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(idx.entries)))
	buf.Write(countBuf[:])

	for _, e := range idx.entries {
		keyBytes := e.key.encode()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(keyBytes)))
		buf.Write(lenBuf[:])
		buf.Write(keyBytes)

		bitmapBytes, err := e.bitmap.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("index: marshal bitmap: %w", err)
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(bitmapBytes)))
		buf.Write(lenBuf[:])
		buf.Write(bitmapBytes)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an Index produced by Marshal.
func Unmarshal(data []byte) (Index, error) {
	if len(data) < 4 {
		return Index{}, fmt.Errorf("index: short buffer")
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	entries := make([]entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return Index{}, fmt.Errorf("index: truncated key length")
		}
		keyLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < keyLen {
			return Index{}, fmt.Errorf("index: truncated key")
		}
		key, err := decodeScalarValue(data[:keyLen])
		if err != nil {
			return Index{}, err
		}
		data = data[keyLen:]

		if len(data) < 4 {
			return Index{}, fmt.Errorf("index: truncated bitmap length")
		}
		bitmapLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < bitmapLen {
			return Index{}, fmt.Errorf("index: truncated bitmap")
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(data[:bitmapLen]); err != nil {
			return Index{}, fmt.Errorf("index: unmarshal bitmap: %w", err)
		}
		data = data[bitmapLen:]

		entries = append(entries, entry{key: key, bitmap: bm})
	}
	return Index{entries: entries}, nil
}
