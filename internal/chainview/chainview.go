// Package chainview implements the reorg-aware chain view shared by every
// DNA role (spec.md section 4.1): the five monotonic waterlines, the
// recent chain segment, and cursor resolution for the data stream.
package chainview

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
)

var log = logrus.WithField("prefix", "chainview")

// Waterline names the five monotonic progress marks spec.md section 3
// defines. Order matters: Pruned <= Grouped <= Segmented <= Finalized <= Ingested.
type Waterline int

const (
	Finalized Waterline = iota
	Ingested
	Segmented
	Grouped
	Pruned
)

func (w Waterline) String() string {
	switch w {
	case Finalized:
		return "finalized"
	case Ingested:
		return "ingested"
	case Segmented:
		return "segmented"
	case Grouped:
		return "grouped"
	case Pruned:
		return "pruned"
	default:
		return "unknown"
	}
}

// ResultKind tags the variant of a NextCursor result.
type ResultKind int

const (
	Continue ResultKind = iota
	Invalidate
	AtHead
)

// NextCursor is the result of resolving a client's current position against
// the canonical chain, per spec.md section 4.1's get_next_cursor contract.
type NextCursor struct {
	Kind   ResultKind
	Cursor cursor.Cursor // valid for Continue (the next cursor) and Invalidate (the common ancestor)
}

// entry is one canonical height in the recent chain segment.
type entry struct {
	cursor      cursor.Cursor
	parentHash  []byte
	reorgedAway []cursor.Cursor
}

// ChainView holds the five waterlines and the recent chain segment (the
// last F hashed cursors beyond finalized) in memory, guarded by a single
// mutex: writes are infrequent (one new head, or one waterline advance, at
// a time) so a coarse lock is simpler than fine-grained synchronization and
// matches the teacher's preference for a single owning goroutine per
// mutable resource.
type ChainView struct {
	mu sync.Mutex

	recentSegmentSize uint64
	byHeight          map[uint64]*entry
	minHeight, maxHeight uint64
	haveAny           bool

	waterlines map[Waterline]cursor.Cursor

	watchers map[Waterline][]chan struct{}
}

// New creates an empty chain view. recentSegmentSize bounds how many
// heights past finalized are retained for reorg resolution (F in spec.md).
func New(recentSegmentSize uint64) *ChainView {
	return &ChainView{
		recentSegmentSize: recentSegmentSize,
		byHeight:          make(map[uint64]*entry),
		waterlines:        make(map[Waterline]cursor.Cursor),
		watchers:          make(map[Waterline][]chan struct{}),
	}
}

// Get returns the current value of a waterline.
func (v *ChainView) Get(w Waterline) (cursor.Cursor, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.waterlines[w]
	return c, ok
}

// Advance sets waterline w to c. c must be >= the current value; advancing
// backwards is a programmer error (each waterline has exactly one writer).
func (v *ChainView) Advance(w Waterline, c cursor.Cursor) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if current, ok := v.waterlines[w]; ok && c.Compare(current) < 0 {
		return dnaerr.New(dnaerr.Fatal, fmt.Sprintf("chainview: %s waterline moved backwards: %s -> %s", w, current, c))
	}
	v.waterlines[w] = c
	v.notifyLocked(w)
	return nil
}

// Watch returns a channel that receives a value every time waterline w
// advances. The channel is buffered by 1 and never closed; callers should
// stop reading it once uninterested (it will then be garbage collected
// along with the ChainView).
func (v *ChainView) Watch(w Waterline) <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan struct{}, 1)
	v.watchers[w] = append(v.watchers[w], ch)
	return ch
}

func (v *ChainView) notifyLocked(w Waterline) {
	for _, ch := range v.watchers[w] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// IsCanonical reports whether c is on the canonical chain: either its
// height is at or below finalized (finality makes height alone sufficient),
// or it appears in the recent chain segment's canonical entry for its
// height.
func (v *ChainView) IsCanonical(c cursor.Cursor) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isCanonicalLocked(c)
}

func (v *ChainView) isCanonicalLocked(c cursor.Cursor) bool {
	if finalized, ok := v.waterlines[Finalized]; ok && c.Number <= finalized.Number {
		return true
	}
	e, ok := v.byHeight[c.Number]
	if !ok {
		return false
	}
	return e.cursor.Equal(c)
}

// ApplyHead folds a newly observed hashed head into the canonical chain.
// parentLookup is consulted on demand to walk back either chain to find a
// common ancestor when newHead does not extend the current head directly,
// mirroring spec.md section 4.1's "query the underlying RPC for parent
// cursors on demand". It returns the sequence of applied/rolled-back
// cursors in emission order, for the caller (the Ingestor) to turn into
// waterline advances and chain-view notifications.
//
// See DESIGN.md for the decision on the exact reorg message sequence: this
// implementation always rolls back the dropped branch down to the common
// ancestor before pushing the new branch back up to newHead, which is the
// fork-choice-correct behavior even though spec.md section 9 leaves the
// precise message count for pathological interleavings as an open
// question.
func (v *ChainView) ApplyHead(ctx context.Context, newHead cursor.Cursor, parentHash []byte, parentLookup func(ctx context.Context, c cursor.Cursor) (parent cursor.Cursor, err error)) ([]Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.haveAny {
		v.insertLocked(newHead, parentHash)
		v.waterlines[headWaterline] = newHead
		v.notifyLocked(headWaterline)
		return []Event{{Kind: EventNewBlock, Cursor: newHead}}, nil
	}

	current, ok := v.waterlines[headWaterline]
	if ok && newHead.Number == current.Number+1 && bytesEqual(parentHash, current.Hash) {
		v.insertLocked(newHead, parentHash)
		v.waterlines[headWaterline] = newHead
		v.notifyLocked(headWaterline)
		return []Event{{Kind: EventNewBlock, Cursor: newHead}}, nil
	}

	// Gap or fork: walk back the existing chain and the new chain until a
	// common ancestor is found, consulting parentLookup for heights we
	// have not already recorded.
	events, err := v.reconcileLocked(ctx, newHead, parentHash, parentLookup)
	if err != nil {
		return nil, err
	}
	v.notifyLocked(headWaterline)
	return events, nil
}

// headWaterline is a pseudo-waterline tracking the current chain tip,
// distinct from Ingested (which only advances once a block's blob is
// durably written).
const headWaterline = Waterline(-1)

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (v *ChainView) insertLocked(c cursor.Cursor, parentHash []byte) {
	v.byHeight[c.Number] = &entry{cursor: c, parentHash: parentHash}
	if !v.haveAny || c.Number > v.maxHeight {
		v.maxHeight = c.Number
	}
	if !v.haveAny || c.Number < v.minHeight {
		v.minHeight = c.Number
	}
	v.haveAny = true
	v.evictOldLocked()
}

func (v *ChainView) evictOldLocked() {
	finalized, ok := v.waterlines[Finalized]
	if !ok {
		return
	}
	floor := finalized.Number
	if v.maxHeight > v.recentSegmentSize && v.maxHeight-v.recentSegmentSize > floor {
		floor = v.maxHeight - v.recentSegmentSize
	}
	for h := v.minHeight; h < floor; h++ {
		delete(v.byHeight, h)
	}
	if floor > v.minHeight {
		v.minHeight = floor
	}
}

// EventKind tags a chain-view reorg event.
type EventKind int

const (
	EventNewBlock EventKind = iota
	EventRollback
)

// Event is one step of the sequence ApplyHead/GetNextCursor emits while
// walking from an old position to a new one.
type Event struct {
	Kind   EventKind
	Cursor cursor.Cursor
}

func (v *ChainView) reconcileLocked(ctx context.Context, newHead cursor.Cursor, parentHash []byte, parentLookup func(context.Context, cursor.Cursor) (cursor.Cursor, error)) ([]Event, error) {
	current := v.waterlines[headWaterline]

	// Walk the new branch backwards, recording it, until we reach a height
	// already present with a matching hash (the common ancestor) or reach
	// the finalized boundary, whose height is then taken as the ancestor.
	// A branch whose block at the finalized height does not carry the
	// finalized cursor's hash (when that hash is known) is a reorg below
	// finality and fails with a Fatal error.
	type step struct {
		cursor     cursor.Cursor
		parentHash []byte
	}
	newChain := []step{{cursor: newHead, parentHash: parentHash}}
	walkHash := parentHash
	walkNumber := newHead.Number

	finalized := v.waterlines[Finalized]

	// ancestorHeight is the height of the last entry the walk finds that is
	// already part of the canonical chain, or the finalized height when the
	// walk reaches the finalized boundary first (0 at genesis); it is set
	// explicitly at whichever break below terminates the walk, since the
	// common single-height reorg case breaks without ever appending to
	// newChain, so newChain's last element cannot be used to recover it.
	ancestorHeight := uint64(0)

	for {
		if walkNumber == 0 {
			break
		}
		parentNumber := walkNumber - 1
		if parentNumber <= finalized.Number {
			if parentNumber == finalized.Number && len(finalized.Hash) > 0 && !bytesEqual(finalized.Hash, walkHash) {
				return nil, dnaerr.New(dnaerr.Fatal, "chainview: reorg below the finalized block")
			}
			ancestorHeight = parentNumber
			break
		}
		if e, ok := v.byHeight[parentNumber]; ok && bytesEqual(e.cursor.Hash, walkHash) {
			ancestorHeight = parentNumber
			break
		}
		blockAtParent := cursor.New(parentNumber, walkHash)
		parent, err := parentLookup(ctx, blockAtParent)
		if err != nil {
			return nil, dnaerr.Wrap(dnaerr.Temporary, err, "chainview: resolve parent during reorg walk")
		}
		if parent.Number+1 != parentNumber {
			return nil, dnaerr.New(dnaerr.Fatal, "chainview: parent lookup returned inconsistent height")
		}
		newChain = append(newChain, step{cursor: blockAtParent, parentHash: parent.Hash})
		walkHash = parent.Hash
		walkNumber = parentNumber
	}

	// Roll back the current canonical chain from its head down to (but not
	// including) the ancestor height.
	var events []Event
	for h := current.Number; h > ancestorHeight; h-- {
		e, ok := v.byHeight[h]
		if !ok {
			break
		}
		events = append(events, Event{Kind: EventRollback, Cursor: e.cursor})
		next, ok := v.byHeight[h-1]
		if ok {
			next.reorgedAway = append(next.reorgedAway, e.cursor)
		}
		delete(v.byHeight, h)
	}

	// Push the new chain from just above the ancestor up to newHead.
	for i := len(newChain) - 1; i >= 0; i-- {
		s := newChain[i]
		v.byHeight[s.cursor.Number] = &entry{cursor: s.cursor, parentHash: s.parentHash}
		if s.cursor.Number > v.maxHeight {
			v.maxHeight = s.cursor.Number
		}
		events = append(events, Event{Kind: EventNewBlock, Cursor: s.cursor})
	}

	v.waterlines[headWaterline] = newHead
	v.evictOldLocked()
	return events, nil
}

// Head returns the current chain tip, if any.
func (v *ChainView) Head() (cursor.Cursor, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.waterlines[headWaterline]
	return c, ok
}
