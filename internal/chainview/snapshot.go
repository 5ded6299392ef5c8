package chainview

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/apibara/dna/internal/cursor"
	"github.com/apibara/dna/internal/dnaerr"
	"github.com/apibara/dna/internal/objectstore"
)

// snapshotKey and archiveKeyPrefix implement the "canon/recent" and
// "canon/z-<zero-padded first_block>" key layout from spec.md section 4.6:
// "recent" is the live, frequently rewritten recent chain segment; "z-*"
// keys are periodic archival checkpoints kept for crash recovery without
// replaying the whole recent window.
const snapshotKey = "canon/recent"

func archiveKey(firstBlock uint64) string {
	return fmt.Sprintf("canon/z-%020d", firstBlock)
}

type wireEntry struct {
	Number      uint64
	Hash        []byte
	ParentHash  []byte
	ReorgedAway [][]byte
}

type wireSnapshot struct {
	Waterlines map[int]wireCursor
	Entries    []wireEntry
}

type wireCursor struct {
	Number uint64
	Hash   []byte
}

// Persist serializes the chain view's current state (waterlines + recent
// chain segment) and writes it unconditionally to canon/recent. Called
// after every ingested block, per spec.md section 4.1.
func (v *ChainView) Persist(ctx context.Context, store objectstore.Store) error {
	v.mu.Lock()
	snap := v.snapshotLocked()
	v.mu.Unlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return dnaerr.Wrap(dnaerr.Fatal, err, "chainview: marshal snapshot")
	}
	if _, err := store.Put(ctx, snapshotKey, data, objectstore.PutOptions{Mode: objectstore.Overwrite}); err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "chainview: persist snapshot")
	}
	return nil
}

// Archive writes an immutable checkpoint of the current state named by
// firstBlock, used so a restart can recover from the nearest checkpoint
// rather than always replaying from genesis if canon/recent is itself lost.
func (v *ChainView) Archive(ctx context.Context, store objectstore.Store, firstBlock uint64) error {
	v.mu.Lock()
	snap := v.snapshotLocked()
	v.mu.Unlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return dnaerr.Wrap(dnaerr.Fatal, err, "chainview: marshal archive snapshot")
	}
	if _, err := store.Put(ctx, archiveKey(firstBlock), data, objectstore.PutOptions{Mode: objectstore.Create}); err != nil {
		return dnaerr.Wrap(dnaerr.Temporary, err, "chainview: write archive snapshot")
	}
	return nil
}

func (v *ChainView) snapshotLocked() wireSnapshot {
	snap := wireSnapshot{Waterlines: make(map[int]wireCursor)}
	for w, c := range v.waterlines {
		snap.Waterlines[int(w)] = wireCursor{Number: c.Number, Hash: c.Hash}
	}

	heights := make([]uint64, 0, len(v.byHeight))
	for h := range v.byHeight {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	for _, h := range heights {
		e := v.byHeight[h]
		we := wireEntry{Number: e.cursor.Number, Hash: e.cursor.Hash, ParentHash: e.parentHash}
		for _, r := range e.reorgedAway {
			we.ReorgedAway = append(we.ReorgedAway, r.Hash)
		}
		snap.Entries = append(snap.Entries, we)
	}
	return snap
}

// Load reconstructs a ChainView from a previously persisted snapshot,
// falling back to an empty view if canon/recent does not exist yet (first
// startup).
func Load(ctx context.Context, store objectstore.Store, recentSegmentSize uint64) (*ChainView, error) {
	data, _, err := store.Get(ctx, snapshotKey, objectstore.GetOptions{})
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return New(recentSegmentSize), nil
		}
		return nil, dnaerr.Wrap(dnaerr.Temporary, err, "chainview: load snapshot")
	}

	var snap wireSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, dnaerr.Wrap(dnaerr.Fatal, err, "chainview: unmarshal snapshot")
	}

	v := New(recentSegmentSize)
	for w, c := range snap.Waterlines {
		v.waterlines[Waterline(w)] = cursor.Cursor{Number: c.Number, Hash: c.Hash}
	}
	for _, we := range snap.Entries {
		e := &entry{cursor: cursor.Cursor{Number: we.Number, Hash: we.Hash}, parentHash: we.ParentHash}
		for _, h := range we.ReorgedAway {
			e.reorgedAway = append(e.reorgedAway, cursor.Cursor{Number: we.Number, Hash: h})
		}
		v.byHeight[we.Number] = e
		if !v.haveAny || we.Number > v.maxHeight {
			v.maxHeight = we.Number
		}
		if !v.haveAny || we.Number < v.minHeight {
			v.minHeight = we.Number
		}
		v.haveAny = true
	}
	return v, nil
}
