// Package cursor defines the chain position primitive shared by every DNA
// component: the (order_key, unique_key) pair described in spec.md section 3.
package cursor

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Cursor identifies a point on a chain: a block height (or Beacon slot) and
// the hash of the block at that height. An empty Hash means "finalized at
// this height, any hash" -- see IsFinalized.
type Cursor struct {
	Number uint64
	Hash   []byte
}

// New creates a hashed cursor.
func New(number uint64, hash []byte) Cursor {
	return Cursor{Number: number, Hash: hash}
}

// NewFinalized creates a cursor with no hash, meaning "finalized at this
// height, any hash". Used by the compactor, which only cares about block
// number once a range is covered by finality.
func NewFinalized(number uint64) Cursor {
	return Cursor{Number: number}
}

// IsFinalized reports whether the cursor carries no hash.
func (c Cursor) IsFinalized() bool {
	return len(c.Hash) == 0
}

// Equal compares cursors by number then hash.
func (c Cursor) Equal(other Cursor) bool {
	return c.Number == other.Number && bytes.Equal(c.Hash, other.Hash)
}

// Compare orders cursors first by Number, then by Hash, matching spec.md's
// "compare first by order, then by hash for identity".
func (c Cursor) Compare(other Cursor) int {
	if c.Number != other.Number {
		if c.Number < other.Number {
			return -1
		}
		return 1
	}
	return bytes.Compare(c.Hash, other.Hash)
}

// Successor returns the cursor one height past c with no known hash. Used
// when walking forward without RPC access to the next header.
func (c Cursor) Successor() Cursor {
	return NewFinalized(c.Number + 1)
}

func (c Cursor) String() string {
	if c.IsFinalized() {
		return fmt.Sprintf("%d/-", c.Number)
	}
	return fmt.Sprintf("%d/0x%s", c.Number, hex.EncodeToString(c.Hash))
}

// Bytes encodes the cursor for storage in the coordination service: an 8
// byte big-endian number followed by the raw hash bytes.
func (c Cursor) Bytes() []byte {
	buf := make([]byte, 8+len(c.Hash))
	binary.BigEndian.PutUint64(buf[:8], c.Number)
	copy(buf[8:], c.Hash)
	return buf
}

// FromBytes decodes a cursor produced by Bytes.
func FromBytes(b []byte) (Cursor, error) {
	if len(b) < 8 {
		return Cursor{}, fmt.Errorf("cursor: short buffer (%d bytes)", len(b))
	}
	number := binary.BigEndian.Uint64(b[:8])
	var hash []byte
	if len(b) > 8 {
		hash = append([]byte(nil), b[8:]...)
	}
	return Cursor{Number: number, Hash: hash}, nil
}

// Segment computes the index of the S-sized segment that Number belongs to,
// i.e. floor(n / segmentSize).
func (c Cursor) Segment(segmentSize uint64) uint64 {
	return c.Number / segmentSize
}
