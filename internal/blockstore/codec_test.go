package blockstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/apibara/dna/internal/fragment"
)

func TestMarshalBlockRoundTripsThroughCompression(t *testing.T) {
	block := &fragment.Block{
		Number: 42,
		Hash:   []byte{0xde, 0xad},
		Fragments: []fragment.Fragment{
			{Tag: fragment.TagHeader, Name: "header", Data: []byte("header-bytes")},
			{Tag: fragment.TagTransaction, Name: "transaction", Data: []byte("tx-bytes")},
		},
	}

	data, err := marshalBlock(block)
	require.NoError(t, err)

	// the compressed envelope must not simply be the msgpack bytes verbatim
	w := wireBlock{Number: block.Number, Hash: block.Hash}
	for _, f := range block.Fragments {
		w.Fragments = append(w.Fragments, wireFragment{Tag: f.Tag, Name: f.Name, Data: f.Data})
	}
	raw, err := msgpack.Marshal(w)
	require.NoError(t, err)
	require.NotEqual(t, raw, data)

	got, err := unmarshalBlock(data)
	require.NoError(t, err)
	require.Equal(t, block.Number, got.Number)
	require.Equal(t, block.Hash, got.Hash)
	require.Equal(t, block.Fragments, got.Fragments)
}

func TestUnmarshalBlockRejectsCorruptData(t *testing.T) {
	_, err := unmarshalBlock([]byte("not a zstd frame"))
	require.Error(t, err)
}
