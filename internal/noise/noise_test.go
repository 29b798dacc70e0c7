package noise

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeFrame(body []byte) []byte {
	h := make([]byte, 2)
	binary.BigEndian.PutUint16(h, uint16(len(body)))
	return append(h, body...)
}

func TestDecodeFrame(t *testing.T) {
	raw := encodeFrame([]byte("handshake-bytes"))
	f, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("handshake-bytes"), f.Body)
}

func TestDecodeSizeMatchesWholeFrame(t *testing.T) {
	raw := encodeFrame([]byte("e"))
	h, l, ok := DecodeSize(raw)
	require.True(t, ok)
	require.Equal(t, len(raw), h+l)
}

func TestStateAdvancesToTransport(t *testing.T) {
	var s State
	require.Equal(t, StageHandshake2, s.Advance())
	require.Equal(t, StageHandshake3, s.Advance())
	require.Equal(t, StageTransport, s.Advance())
	require.True(t, s.InTransport())
	require.Equal(t, StageTransport, s.Advance())
}

func TestDecodeShortBodyErrors(t *testing.T) {
	raw := encodeFrame([]byte("abcdef"))
	_, err := Decode(raw[:len(raw)-2])
	require.Error(t, err)
}
