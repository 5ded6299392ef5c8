package datastream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apibara/dna/internal/fragment"
	"github.com/apibara/dna/internal/index"
)

func buildIndexPayload(t *testing.T, source fragment.Tag, indexID uint8, positions ...uint32) fragment.IndexGroupPayload {
	t.Helper()
	b := index.NewBuilder()
	key := index.Bool(true)
	for _, p := range positions {
		b.Insert(key, p)
	}
	idx := b.Build()
	marshaled, err := idx.Marshal()
	require.NoError(t, err)
	return fragment.IndexGroupPayload{
		Fragments: []fragment.IndexFragmentPayload{
			{SourceTag: source, RangeLen: 1, Entries: []fragment.IndexEntry{{IndexID: indexID, Bitmap: marshaled}}},
		},
	}
}

func TestCandidatesForFilterAlwaysIncludeHeader(t *testing.T) {
	payload := buildIndexPayload(t, fragment.TagEvent, 1, 3)
	set, err := candidatesForFilter(payload, Filter{AlwaysIncludeHeader: true})
	require.NoError(t, err)
	require.True(t, set.All)
	require.True(t, set.Contains(999))
}

func TestCandidatesForFilterIntersectsConditionsWithinGroup(t *testing.T) {
	payload := buildIndexPayload(t, fragment.TagEvent, 1, 3, 5)

	filter := Filter{Groups: []FilterGroup{
		{ID: 1, Conditions: []Condition{{FragmentTag: fragment.TagEvent, IndexID: 1, Value: index.Bool(true)}}},
	}}

	set, err := candidatesForFilter(payload, filter)
	require.NoError(t, err)
	require.False(t, set.All)
	require.True(t, set.Contains(3))
	require.True(t, set.Contains(5))
	require.False(t, set.Contains(4))
}

func TestCandidatesForFilterUnknownIndexNeverMatches(t *testing.T) {
	payload := buildIndexPayload(t, fragment.TagEvent, 1, 3)

	filter := Filter{Groups: []FilterGroup{
		{ID: 1, Conditions: []Condition{{FragmentTag: fragment.TagEvent, IndexID: 99, Value: index.Bool(true)}}},
	}}

	set, err := candidatesForFilter(payload, filter)
	require.NoError(t, err)
	require.False(t, set.All)
	require.False(t, set.Contains(3))
}

func TestCandidatesForFilterUnionsAcrossGroups(t *testing.T) {
	payload := buildIndexPayload(t, fragment.TagEvent, 1, 3, 5)

	filter := Filter{Groups: []FilterGroup{
		{ID: 1, Conditions: []Condition{{FragmentTag: fragment.TagEvent, IndexID: 1, Value: index.Bool(true)}}},
		{ID: 2, Conditions: []Condition{{FragmentTag: fragment.TagEvent, IndexID: 99, Value: index.Bool(true)}}},
	}}

	set, err := candidatesForFilter(payload, filter)
	require.NoError(t, err)
	require.True(t, set.Contains(3))
	require.True(t, set.Contains(5))
}
