package chainview

import "github.com/apibara/dna/internal/cursor"

// GetNextCursor implements spec.md section 4.1's get_next_cursor: given the
// client's current position (the zero value means "start of chain"), it
// reports what to do next without ever needing an RPC call.
func (v *ChainView) GetNextCursor(current cursor.Cursor, hasCurrent bool) NextCursor {
	v.mu.Lock()
	defer v.mu.Unlock()

	head, haveHead := v.waterlines[headWaterline]
	if !hasCurrent {
		first, ok := v.firstKnownLocked()
		if !ok {
			return NextCursor{Kind: AtHead}
		}
		return NextCursor{Kind: Continue, Cursor: first}
	}

	if !v.isCanonicalLocked(current) {
		ancestor := v.findAncestorLocked(current)
		return NextCursor{Kind: Invalidate, Cursor: ancestor}
	}

	if haveHead && current.Number >= head.Number {
		return NextCursor{Kind: AtHead}
	}

	next, ok := v.byHeight[current.Number+1]
	if !ok {
		if finalized, ok := v.waterlines[Finalized]; ok && current.Number+1 <= finalized.Number {
			return NextCursor{Kind: Continue, Cursor: cursor.NewFinalized(current.Number + 1)}
		}
		return NextCursor{Kind: AtHead}
	}
	return NextCursor{Kind: Continue, Cursor: next.cursor}
}

func (v *ChainView) firstKnownLocked() (cursor.Cursor, bool) {
	if finalized, ok := v.waterlines[Finalized]; ok {
		return cursor.NewFinalized(finalized.Number), true
	}
	if e, ok := v.byHeight[v.minHeight]; ok {
		return e.cursor, true
	}
	return cursor.Cursor{}, false
}

// findAncestorLocked scans the recent chain segment backwards from the
// height below current until a canonical hashed cursor is found, per
// spec.md section 4.1's reorg-handling algorithm. current itself is never
// canonical here (the caller only reaches this after isCanonicalLocked
// failed), so the scan must start strictly below current.Number: starting
// at current.Number would find whatever fork winner just replaced current
// and return it as its own ancestor.
func (v *ChainView) findAncestorLocked(current cursor.Cursor) cursor.Cursor {
	if current.Number > v.minHeight {
		for h := current.Number - 1; ; h-- {
			if e, ok := v.byHeight[h]; ok {
				return e.cursor
			}
			if h == v.minHeight {
				break
			}
		}
	}
	if finalized, ok := v.waterlines[Finalized]; ok {
		return finalized
	}
	return cursor.NewFinalized(v.minHeight)
}
