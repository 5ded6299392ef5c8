package dna

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apibara/dna/internal/cursor"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec()
	require.Equal(t, codecName, codec.Name())
	require.Equal(t, codecName, CodecName())

	req := StreamDataRequest{
		Finality:          DataFinalityAccepted,
		HeartbeatInterval: 15,
	}

	data, err := codec.Marshal(&req)
	require.NoError(t, err)

	var got StreamDataRequest
	require.NoError(t, codec.Unmarshal(data, &got))
	require.Equal(t, req, got)
}

func TestDataResponseHelpers(t *testing.T) {
	resp := NewHeartbeatResponse()
	require.Equal(t, MessageHeartbeat, resp.Kind)
	require.NotNil(t, resp.Heartbeat)

	invalidate := NewInvalidateResponse(cursor.New(5, []byte("h5")))
	require.Equal(t, MessageInvalidate, invalidate.Kind)
	require.Equal(t, uint64(5), invalidate.Invalidate.Cursor.OrderKey)
}
