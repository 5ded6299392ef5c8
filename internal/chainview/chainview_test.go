package chainview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apibara/dna/internal/cursor"
)

func c(number uint64, hash string) cursor.Cursor {
	return cursor.New(number, []byte(hash))
}

func noParentLookup(context.Context, cursor.Cursor) (cursor.Cursor, error) {
	return cursor.Cursor{}, nil
}

func TestApplyHeadLinearExtension(t *testing.T) {
	v := New(10)

	events, err := v.ApplyHead(context.Background(), c(1, "a1"), nil, noParentLookup)
	require.NoError(t, err)
	require.Equal(t, []Event{{Kind: EventNewBlock, Cursor: c(1, "a1")}}, events)

	events, err = v.ApplyHead(context.Background(), c(2, "a2"), []byte("a1"), noParentLookup)
	require.NoError(t, err)
	require.Equal(t, []Event{{Kind: EventNewBlock, Cursor: c(2, "a2")}}, events)

	require.True(t, v.IsCanonical(c(2, "a2")))
	require.False(t, v.IsCanonical(c(2, "b2")))
}

func TestGetNextCursorNoCurrentStartsFromGenesis(t *testing.T) {
	v := New(10)
	require.NoError(t, v.Advance(Finalized, cursor.NewFinalized(0)))

	next := v.GetNextCursor(cursor.Cursor{}, false)
	require.Equal(t, Continue, next.Kind)
}

func TestGetNextCursorContinuesAlongCanonicalChain(t *testing.T) {
	v := New(10)
	_, err := v.ApplyHead(context.Background(), c(1, "a1"), nil, noParentLookup)
	require.NoError(t, err)
	_, err = v.ApplyHead(context.Background(), c(2, "a2"), []byte("a1"), noParentLookup)
	require.NoError(t, err)

	next := v.GetNextCursor(c(1, "a1"), true)
	require.Equal(t, Continue, next.Kind)
	require.Equal(t, c(2, "a2"), next.Cursor)
}

func TestGetNextCursorAtHead(t *testing.T) {
	v := New(10)
	_, err := v.ApplyHead(context.Background(), c(1, "a1"), nil, noParentLookup)
	require.NoError(t, err)

	next := v.GetNextCursor(c(1, "a1"), true)
	require.Equal(t, AtHead, next.Kind)
}

func TestGetNextCursorInvalidatesReorgedCursor(t *testing.T) {
	v := New(10)
	require.NoError(t, v.Advance(Finalized, cursor.NewFinalized(0)))
	_, err := v.ApplyHead(context.Background(), c(1, "a1"), nil, noParentLookup)
	require.NoError(t, err)

	// A reorg at height 1 replaces a1 with b1, so resolving a client's
	// stale position against a1 should report Invalidate back to the
	// common ancestor (finalized at 0).
	parentLookup := func(ctx context.Context, cur cursor.Cursor) (cursor.Cursor, error) {
		return cursor.NewFinalized(0), nil
	}
	_, err = v.ApplyHead(context.Background(), c(1, "b1"), []byte("genesis"), parentLookup)
	require.NoError(t, err)

	next := v.GetNextCursor(c(1, "a1"), true)
	require.Equal(t, Invalidate, next.Kind)
}

func TestGetNextCursorInvalidatesSameHeightReorgToTrueAncestor(t *testing.T) {
	v := New(10)
	_, err := v.ApplyHead(context.Background(), c(1, "a1"), nil, noParentLookup)
	require.NoError(t, err)
	_, err = v.ApplyHead(context.Background(), c(2, "a2"), []byte("a1"), noParentLookup)
	require.NoError(t, err)

	// b2 is a's sibling at height 2, also parented on a1: a single-height
	// reorg whose common ancestor (a1) is already canonical, so the reorg
	// walk never appends to newChain for it.
	_, err = v.ApplyHead(context.Background(), c(2, "b2"), []byte("a1"), noParentLookup)
	require.NoError(t, err)

	require.True(t, v.IsCanonical(c(2, "b2")))
	require.False(t, v.IsCanonical(c(2, "a2")))

	next := v.GetNextCursor(c(2, "a2"), true)
	require.Equal(t, Invalidate, next.Kind)
	require.Equal(t, c(1, "a1"), next.Cursor)
}

func TestAdvanceRejectsBackwardsMove(t *testing.T) {
	v := New(10)
	require.NoError(t, v.Advance(Finalized, cursor.NewFinalized(5)))
	err := v.Advance(Finalized, cursor.NewFinalized(4))
	require.Error(t, err)
}

func TestWatchNotifiesOnAdvance(t *testing.T) {
	v := New(10)
	ch := v.Watch(Finalized)

	require.NoError(t, v.Advance(Finalized, cursor.NewFinalized(1)))

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification after Advance")
	}
}
