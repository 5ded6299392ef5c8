package fragment

import (
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestJoinPayloadResolve(t *testing.T) {
	p := JoinPayload{
		SourceTag: TagTransaction,
		TargetTag: TagReceipt,
		Offsets:   [][]uint32{{0}, {1, 2}},
	}

	require.Equal(t, []uint32{0}, p.Resolve(0))
	require.Equal(t, []uint32{1, 2}, p.Resolve(1))
	require.Nil(t, p.Resolve(5))
}

func TestJoinPayloadMarshalRoundTrip(t *testing.T) {
	p := JoinPayload{SourceTag: TagEvent, TargetTag: TagTransaction, Offsets: [][]uint32{{3}}}

	data, err := p.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJoinPayload(data)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestJoinSetLookup(t *testing.T) {
	set := NewJoinSet([]JoinPayload{
		{SourceTag: TagTransaction, TargetTag: TagReceipt, Offsets: [][]uint32{{7}}},
	})

	payload, ok := set.Lookup(TagTransaction, TagReceipt)
	require.True(t, ok)
	require.Equal(t, []uint32{7}, payload.Resolve(0))

	_, ok = set.Lookup(TagReceipt, TagTransaction)
	require.False(t, ok)
}

func TestDecodeJoinFragment(t *testing.T) {
	payloads := []JoinPayload{
		{SourceTag: TagTransaction, TargetTag: TagReceipt, Offsets: [][]uint32{{0}, {1}}},
		{SourceTag: TagEvent, TargetTag: TagTransaction, Offsets: [][]uint32{{0}}},
	}
	raw, err := msgpack.Marshal(payloads)
	require.NoError(t, err)
	compressed := snappy.Encode(nil, raw)

	set, err := DecodeJoinFragment(compressed)
	require.NoError(t, err)

	p, ok := set.Lookup(TagTransaction, TagReceipt)
	require.True(t, ok)
	require.Equal(t, []uint32{1}, p.Resolve(1))

	p, ok = set.Lookup(TagEvent, TagTransaction)
	require.True(t, ok)
	require.Equal(t, []uint32{0}, p.Resolve(0))
}

func TestDecodeJoinFragmentInvalidSnappy(t *testing.T) {
	_, err := DecodeJoinFragment([]byte("not a valid snappy frame"))
	require.Error(t, err)
}
