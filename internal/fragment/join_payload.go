package fragment

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
)

// JoinPayload is the decoded Payload() of a TagJoin fragment: for every
// entry of SourceTag's body list, the list of TargetTag body indexes it
// joins to. This is how the data-stream filter evaluator resolves a
// "transaction -> its receipt" or "event -> its transaction" relationship
// without re-deriving it at query time (spec.md section 4.7, step 3).
type JoinPayload struct {
	SourceTag Tag
	TargetTag Tag
	// Offsets[i] holds the TargetTag body indexes joined from SourceTag
	// body entry i. Most joins are one-to-one or one-to-few, so a plain
	// slice of slices is cheaper to reason about than a bitmap here.
	Offsets [][]uint32
}

// Marshal encodes the payload with msgpack.
func (p JoinPayload) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("fragment: marshal join payload: %w", err)
	}
	return b, nil
}

// UnmarshalJoinPayload decodes a payload produced by Marshal.
func UnmarshalJoinPayload(data []byte) (JoinPayload, error) {
	var p JoinPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return JoinPayload{}, fmt.Errorf("fragment: unmarshal join payload: %w", err)
	}
	return p, nil
}

// Resolve returns the target indexes joined from sourceIndex, or nil if out
// of range or empty.
func (p JoinPayload) Resolve(sourceIndex uint32) []uint32 {
	if int(sourceIndex) >= len(p.Offsets) {
		return nil
	}
	return p.Offsets[sourceIndex]
}

// JoinSet collects every TagJoin fragment's payload for a block or group
// range, keyed by (source, target) so the filter evaluator can look up a
// join path in either direction it might be asked to walk.
type JoinSet struct {
	byPair map[[2]Tag]JoinPayload
}

// NewJoinSet builds a JoinSet from decoded join payloads.
func NewJoinSet(payloads []JoinPayload) JoinSet {
	byPair := make(map[[2]Tag]JoinPayload, len(payloads))
	for _, p := range payloads {
		byPair[[2]Tag{p.SourceTag, p.TargetTag}] = p
	}
	return JoinSet{byPair: byPair}
}

// Lookup returns the join payload from source to target, if one was
// recorded by the chain adapter.
func (s JoinSet) Lookup(source, target Tag) (JoinPayload, bool) {
	p, ok := s.byPair[[2]Tag{source, target}]
	return p, ok
}

// DecodeJoinFragment snappy-decodes and unmarshals a block's TagJoin
// fragment, whose Data is a msgpack-encoded slice of every (source, target)
// JoinPayload the chain adapter built for that block, directly into a
// ready-to-query JoinSet.
func DecodeJoinFragment(data []byte) (JoinSet, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return JoinSet{}, fmt.Errorf("fragment: snappy decode join fragment: %w", err)
	}
	var payloads []JoinPayload
	if err := msgpack.Unmarshal(raw, &payloads); err != nil {
		return JoinSet{}, fmt.Errorf("fragment: unmarshal join fragment: %w", err)
	}
	return NewJoinSet(payloads), nil
}
