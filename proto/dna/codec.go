package dna

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package so a grpc.Server set
// up with grpc.CallContentSubtype(codecName) or a client dialing with the
// matching content-subtype exchanges these structs directly, without a
// protoc-generated marshaler. This is the wire format's escape hatch for not
// running a .proto toolchain in this environment -- everywhere else in the
// module already chose msgpack for internal wire structures (see
// internal/fragment, internal/blockstore), so the streaming RPC reuses the
// same codec instead of introducing a second serialization story.
const codecName = "dna-msgpack"

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dna: marshal %T: %w", v, err)
	}
	return b, nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("dna: unmarshal %T: %w", v, err)
	}
	return nil
}

func (msgpackCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// CodecName is the content-subtype grpc client/server options should use to
// select this codec.
func CodecName() string { return codecName }

// Codec returns the grpc encoding.Codec instance backing CodecName, for
// servers that want to force it via grpc.ForceServerCodec instead of
// relying on a client negotiating the content-subtype.
func Codec() encoding.Codec { return msgpackCodec{} }
