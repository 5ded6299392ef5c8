// Package fragment defines the tagged, self-describing chunks that make up
// a Block (spec.md section 3): Index, Join, Header, and one or more Body
// fragments. Dispatch across fragment kinds is a switch over a numeric tag,
// following the "tagged-variant polymorphism over inheritance" design note
// in spec.md section 9 -- there are no interfaces with per-fragment
// vtables, just a tag and a byte payload.
package fragment

import "github.com/golang/snappy"

// Tag identifies a fragment kind within a block. Tags are stable across
// segment/group format versions; adding a new body fragment kind means
// allocating a new tag, never reusing one.
type Tag uint8

const (
	TagIndex Tag = iota
	TagJoin
	TagHeader
	TagTransaction
	TagReceipt
	TagEvent
	TagMessage
	TagLog
	TagValidator
	TagBlob
	TagStorageDiff
	TagNonceUpdate
	TagContractChange
)

// Names maps each known tag to its canonical fragment name, used both in
// log output and as the suffix of a segment's object key
// ("segment/<first_block>/<fragment-name>").
var Names = map[Tag]string{
	TagIndex:          "index",
	TagJoin:           "join",
	TagHeader:         "header",
	TagTransaction:    "transaction",
	TagReceipt:        "receipt",
	TagEvent:          "event",
	TagMessage:        "message",
	TagLog:            "log",
	TagValidator:      "validator",
	TagBlob:           "blob",
	TagStorageDiff:    "storage_diff",
	TagNonceUpdate:    "nonce_update",
	TagContractChange: "contract_change",
}

func (t Tag) String() string {
	if name, ok := Names[t]; ok {
		return name
	}
	return "unknown"
}

// Fragment is one typed chunk of a block's data. Data is the fragment's
// serialized payload (snappy-compressed by the chain-specific adapter
// before it reaches the segment builder, mirroring how the teacher's stack
// frames raw adapter bytes with golang/snappy).
type Fragment struct {
	Tag  Tag
	Name string
	Data []byte
}

// NewFragment snappy-encodes payload and wraps it in a Fragment.
func NewFragment(tag Tag, payload []byte) Fragment {
	return Fragment{Tag: tag, Name: tag.String(), Data: snappy.Encode(nil, payload)}
}

// Payload snappy-decodes the fragment's data back to its raw bytes.
func (f Fragment) Payload() ([]byte, error) {
	return snappy.Decode(nil, f.Data)
}

// Block is a collection of typed fragments for one chain position, the unit
// the Ingestor writes and the Segmenter later splits apart. Every block
// produced by a given chain-specific adapter carries the same set of
// fragment tags -- a mismatch is a bug in that adapter (spec.md section
// 4.3), not something the core pipeline tries to paper over.
type Block struct {
	Number    uint64
	Hash      []byte
	Fragments []Fragment
}

// FragmentByTag returns the fragment with the given tag, if present.
func (b *Block) FragmentByTag(tag Tag) (Fragment, bool) {
	for _, f := range b.Fragments {
		if f.Tag == tag {
			return f, true
		}
	}
	return Fragment{}, false
}

// Tags returns the tags of the block's fragments in fragment order,
// unsorted. The segment builder sorts them before checking that every
// block in a segment agrees on the expected fragment set.
func (b *Block) Tags() []Tag {
	tags := make([]Tag, 0, len(b.Fragments))
	for _, f := range b.Fragments {
		tags = append(tags, f.Tag)
	}
	return tags
}
