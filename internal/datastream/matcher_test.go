package datastream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apibara/dna/internal/fragment"
)

func TestResolveJoinsAttachesDirectJoin(t *testing.T) {
	joins := fragment.NewJoinSet([]fragment.JoinPayload{
		{SourceTag: fragment.TagTransaction, TargetTag: fragment.TagReceipt, Offsets: [][]uint32{{0}}},
	})

	group := FilterGroup{ID: 1, IncludeJoined: []fragment.Tag{fragment.TagReceipt}}
	groupByID := map[uint32]FilterGroup{1: group}

	matches := []EntryMatch{
		{FragmentTag: fragment.TagTransaction, EntryIndex: 0, FilterIDs: []uint32{1}},
	}

	out := resolveJoins(matches, groupByID, joins)
	require.Len(t, out, 1)
	require.Equal(t, []uint32{0}, out[0].Joined[fragment.TagReceipt])
}

func TestResolveJoinsSkipsGroupsWithoutIncludeJoined(t *testing.T) {
	joins := fragment.NewJoinSet(nil)
	group := FilterGroup{ID: 1}
	groupByID := map[uint32]FilterGroup{1: group}

	matches := []EntryMatch{{FragmentTag: fragment.TagTransaction, EntryIndex: 0, FilterIDs: []uint32{1}}}
	out := resolveJoins(matches, groupByID, joins)
	require.Len(t, out, 1)
	require.Nil(t, out[0].Joined)
}

func TestWalkJoinsFollowsTransitively(t *testing.T) {
	joins := fragment.NewJoinSet([]fragment.JoinPayload{
		{SourceTag: fragment.TagEvent, TargetTag: fragment.TagTransaction, Offsets: [][]uint32{{2}}},
		{SourceTag: fragment.TagTransaction, TargetTag: fragment.TagReceipt, Offsets: [][]uint32{{0}, {0}, {9}}},
	})

	targets := []fragment.Tag{fragment.TagTransaction, fragment.TagReceipt}
	result := walkJoins(fragment.TagEvent, 0, targets, joins, make(map[fragment.Tag]bool))

	require.Equal(t, []uint32{2}, result[fragment.TagTransaction])
	require.Equal(t, []uint32{9}, result[fragment.TagReceipt])
}

func TestWalkJoinsNoMatchReturnsEmpty(t *testing.T) {
	joins := fragment.NewJoinSet(nil)
	result := walkJoins(fragment.TagEvent, 0, []fragment.Tag{fragment.TagTransaction}, joins, make(map[fragment.Tag]bool))
	require.Empty(t, result)
}
