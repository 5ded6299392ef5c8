// Package segment implements the segment/segment-group storage layout
// described in spec.md sections 3 and 4.3/4.4: packing S contiguous
// per-block fragments into a column file, and G contiguous segments into a
// group carrying merged bitmap indexes.
package segment

import (
	"fmt"
	"strings"
)

// targetNumDigits is the width of the zero-padded block number embedded in
// segment/group object names, ported from dna/common/src/segment/options.rs.
const targetNumDigits = 9

// Options carries the two fixed layout parameters: how many blocks make up
// one segment, and how many segments make up one group. Both are written
// once to the coordination service's options namespace and must never
// change for the lifetime of a deployment (spec.md section 4.8).
type Options struct {
	SegmentSize uint64
	GroupSize   uint64
}

// DefaultOptions mirrors the reference implementation's defaults.
func DefaultOptions() Options {
	return Options{SegmentSize: 1_000, GroupSize: 100}
}

// GroupBlocks returns the number of blocks covered by one segment group.
func (o Options) GroupBlocks() uint64 {
	return o.SegmentSize * o.GroupSize
}

// SegmentStart returns the first block number of the segment that
// blockNumber belongs to.
func (o Options) SegmentStart(blockNumber uint64) uint64 {
	return blockNumber / o.SegmentSize * o.SegmentSize
}

// GroupStart returns the first block number of the segment group that
// blockNumber belongs to.
func (o Options) GroupStart(blockNumber uint64) uint64 {
	blocksPerGroup := o.GroupBlocks()
	return blockNumber / blocksPerGroup * blocksPerGroup
}

// SegmentName formats the object name for the segment starting at
// blockNumber's segment boundary, e.g. "000_010_000-1000".
func (o Options) SegmentName(blockNumber uint64) string {
	start := o.SegmentStart(blockNumber)
	return fmt.Sprintf("%s-%d", underscoreSeparated(start), o.SegmentSize)
}

// GroupName formats the object name for the segment group covering
// blockNumber: the group's first segment name followed by the group size,
// e.g. "000_000_000-1000-100".
func (o Options) GroupName(blockNumber uint64) string {
	groupStart := o.GroupStart(blockNumber)
	segmentName := o.SegmentName(groupStart)
	return fmt.Sprintf("%s-%d", segmentName, o.GroupSize)
}

func underscoreSeparated(n uint64) string {
	padded := fmt.Sprintf("%0*d", targetNumDigits, n)

	var b strings.Builder
	count := 0
	runes := []rune(padded)
	out := make([]rune, 0, len(runes)+len(runes)/3)
	for i := len(runes) - 1; i >= 0; i-- {
		if count == 3 {
			out = append(out, '_')
			count = 0
		}
		out = append(out, runes[i])
		count++
	}
	for i := len(out) - 1; i >= 0; i-- {
		b.WriteRune(out[i])
	}
	return b.String()
}
