package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/apibara/dna/internal/cursor"
)

// magic identifies a segment archive file; version allows the on-disk
// layout to change without breaking cursor recovery on old data.
const (
	magic   = "DNA1SEG0"
	version = 1
)

// BlockData is one block's fragment payload inside a Segment, tagged with
// the block's cursor so readers can recover (number, hash) without a
// separate index.
type BlockData struct {
	Cursor cursor.Cursor
	Data   []byte
}

// Segment is the per-fragment-kind column described in spec.md section 3:
// all S blocks' bytes for a single fragment tag, stored as one object named
// "segment/<first_block>/<fragment-name>". Segment is the unit the
// Segmenter writes and the data stream reads back at "segment tier".
type Segment struct {
	FirstBlock cursor.Cursor
	Blocks     []BlockData
}

// SerializedSegment pairs an archive's encoded bytes with the object name
// it should be written under.
type SerializedSegment struct {
	Name string
	Data []byte
}

// Marshal encodes a Segment into the flat archive layout consumed by
// filecache's mmap reader: a fixed header, then one (cursor, length,
// payload) record per block. The format intentionally avoids pointers or
// self-references so a reader only ever needs a byte slice, never a parser
// that walks a graph -- the Go analogue of the zero-copy archive design
// note in spec.md section 9 (Go has no rkyv, so reads still copy each
// fragment's bytes out of the mmap, but the file itself never needs more
// than a linear scan to locate any block).
func (s Segment) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	writeUint32(&buf, version)
	writeUint64(&buf, s.FirstBlock.Number)
	writeBytes(&buf, s.FirstBlock.Hash)
	writeUint32(&buf, uint32(len(s.Blocks)))

	for _, b := range s.Blocks {
		writeUint64(&buf, b.Cursor.Number)
		writeBytes(&buf, b.Cursor.Hash)
		writeBytes(&buf, b.Data)
	}
	return buf.Bytes(), nil
}

// UnmarshalSegment decodes an archive produced by Marshal. data is expected
// to be a memory-mapped file's contents; callers own its lifetime.
func UnmarshalSegment(data []byte) (Segment, error) {
	r := &reader{buf: data}
	if err := r.expectMagic(); err != nil {
		return Segment{}, err
	}
	if _, err := r.uint32(); err != nil { // version, currently unused
		return Segment{}, err
	}

	number, err := r.uint64()
	if err != nil {
		return Segment{}, err
	}
	hash, err := r.bytes()
	if err != nil {
		return Segment{}, err
	}
	first := cursor.Cursor{Number: number, Hash: hash}

	count, err := r.uint32()
	if err != nil {
		return Segment{}, err
	}

	blocks := make([]BlockData, 0, count)
	for i := uint32(0); i < count; i++ {
		num, err := r.uint64()
		if err != nil {
			return Segment{}, err
		}
		h, err := r.bytes()
		if err != nil {
			return Segment{}, err
		}
		data, err := r.bytes()
		if err != nil {
			return Segment{}, err
		}
		blocks = append(blocks, BlockData{Cursor: cursor.Cursor{Number: num, Hash: h}, Data: data})
	}

	if r.err != nil {
		return Segment{}, r.err
	}
	return Segment{FirstBlock: first, Blocks: blocks}, nil
}

// BlockAt returns the block data for the given absolute block number, if
// present in this segment.
func (s Segment) BlockAt(number uint64) (BlockData, bool) {
	for _, b := range s.Blocks {
		if b.Cursor.Number == number {
			return b, true
		}
	}
	return BlockData{}, false
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, v []byte) {
	writeUint32(buf, uint32(len(v)))
	buf.Write(v)
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) expectMagic() error {
	if len(r.buf) < len(magic) {
		return fmt.Errorf("segment: archive too short for magic")
	}
	if string(r.buf[:len(magic)]) != magic {
		return fmt.Errorf("segment: bad magic %q", r.buf[:len(magic)])
	}
	r.buf = r.buf[len(magic):]
	return nil
}

func (r *reader) uint32() (uint32, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(r.buf) < 4 {
		r.err = fmt.Errorf("segment: truncated uint32")
		return 0, r.err
	}
	v := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(r.buf) < 8 {
		r.err = fmt.Errorf("segment: truncated uint64")
		return 0, r.err
	}
	v := binary.BigEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.buf)) < n {
		r.err = fmt.Errorf("segment: truncated byte slice")
		return nil, r.err
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v, nil
}
