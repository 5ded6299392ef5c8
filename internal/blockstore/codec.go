package blockstore

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/apibara/dna/internal/fragment"
)

// blobCodec lazily builds the zstd encoder/decoder pair used to compress
// the msgpack envelope a per-block blob is stored under. Per-block blobs
// repeat every fragment's tag and name on every block, so zstd recovers
// more of that redundancy than the snappy already applied fragment-by-
// fragment in package fragment; segments and groups skip this layer
// because the server's file cache mmaps them directly.
var (
	blobCodecOnce sync.Once
	blobEncoder   *zstd.Encoder
	blobDecoder   *zstd.Decoder
	blobCodecErr  error
)

func blobCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	blobCodecOnce.Do(func() {
		blobEncoder, blobCodecErr = zstd.NewWriter(nil)
		if blobCodecErr != nil {
			return
		}
		blobDecoder, blobCodecErr = zstd.NewReader(nil)
	})
	return blobEncoder, blobDecoder, blobCodecErr
}

// wireBlock is the on-the-wire shape of a fragment.Block; kept separate so
// fragment.Block's exported fields stay free to evolve without touching
// the storage codec.
type wireBlock struct {
	Number    uint64
	Hash      []byte
	Fragments []wireFragment
}

type wireFragment struct {
	Tag  fragment.Tag
	Name string
	Data []byte
}

func marshalBlock(b *fragment.Block) ([]byte, error) {
	w := wireBlock{Number: b.Number, Hash: b.Hash}
	for _, f := range b.Fragments {
		w.Fragments = append(w.Fragments, wireFragment{Tag: f.Tag, Name: f.Name, Data: f.Data})
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("blockstore: marshal block: %w", err)
	}
	enc, _, err := blobCodec()
	if err != nil {
		return nil, fmt.Errorf("blockstore: init blob codec: %w", err)
	}
	return enc.EncodeAll(data, nil), nil
}

func unmarshalBlock(compressed []byte) (*fragment.Block, error) {
	_, dec, err := blobCodec()
	if err != nil {
		return nil, fmt.Errorf("blockstore: init blob codec: %w", err)
	}
	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: decompress block: %w", err)
	}
	var w wireBlock
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("blockstore: unmarshal block: %w", err)
	}
	b := &fragment.Block{Number: w.Number, Hash: w.Hash}
	for _, f := range w.Fragments {
		b.Fragments = append(b.Fragments, fragment.Fragment{Tag: f.Tag, Name: f.Name, Data: f.Data})
	}
	return b, nil
}
