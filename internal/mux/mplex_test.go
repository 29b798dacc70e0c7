package mux

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeMplexFrame(streamID uint64, tag MplexTag, body []byte) []byte {
	header := make([]byte, binary.MaxVarintLen64)
	hn := binary.PutUvarint(header, streamID<<3|uint64(tag))
	length := make([]byte, binary.MaxVarintLen64)
	ln := binary.PutUvarint(length, uint64(len(body)))
	out := append([]byte{}, header[:hn]...)
	out = append(out, length[:ln]...)
	out = append(out, body...)
	return out
}

func TestMplexDecodeFrame(t *testing.T) {
	raw := encodeMplexFrame(7, MplexMessageInitiator, []byte("payload"))
	f, err := DecodeMplexFrame(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(7), f.StreamID)
	require.Equal(t, MplexMessageInitiator, f.Tag)
	require.Equal(t, []byte("payload"), f.Body)
}

func TestMplexDecodeSizeMatchesWholeFrame(t *testing.T) {
	raw := encodeMplexFrame(1, MplexNewStream, []byte("name"))
	h, l, ok := MplexDecodeSize(raw)
	require.True(t, ok)
	require.Equal(t, len(raw), h+l)
}

func TestMplexCanonicalStreamInitiatorOnOutgoing(t *testing.T) {
	raw := encodeMplexFrame(3, MplexNewStream, nil)
	f, err := DecodeMplexFrame(raw)
	require.NoError(t, err)

	key, forward := CanonicalStream(f, true)
	require.True(t, key.Initiator)
	require.True(t, forward)
}

func TestMplexCanonicalStreamReceiverReply(t *testing.T) {
	raw := encodeMplexFrame(3, MplexMessageReceiver, []byte("ack"))
	f, err := DecodeMplexFrame(raw)
	require.NoError(t, err)

	// A *Receiver frame observed on the incoming direction means the local
	// outgoing side is the initiator.
	key, forward := CanonicalStream(f, false)
	require.True(t, key.Initiator)
	require.False(t, forward)
}

func TestMplexDecodeFrameShortBody(t *testing.T) {
	raw := encodeMplexFrame(1, MplexMessageInitiator, []byte("abcdef"))
	_, err := DecodeMplexFrame(raw[:len(raw)-3])
	require.Error(t, err)
}
