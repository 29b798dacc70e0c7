package mux

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeYamuxFrame(typ YamuxType, flags YamuxFlags, streamID uint32, body []byte) []byte {
	h := make([]byte, yamuxHeaderSize)
	h[0] = 0
	h[1] = byte(typ)
	binary.BigEndian.PutUint16(h[2:4], uint16(flags))
	binary.BigEndian.PutUint32(h[4:8], streamID)
	if typ == YamuxData {
		binary.BigEndian.PutUint32(h[8:12], uint32(len(body)))
		return append(h, body...)
	}
	binary.BigEndian.PutUint32(h[8:12], 0)
	return h
}

func TestYamuxDecodeDataFrame(t *testing.T) {
	raw := encodeYamuxFrame(YamuxData, YamuxFlagSYN, 1, []byte("hello"))
	f, err := DecodeYamuxFrame(raw)
	require.NoError(t, err)
	require.Equal(t, YamuxData, f.Type)
	require.Equal(t, YamuxFlagSYN, f.Flags)
	require.Equal(t, uint32(1), f.StreamID)
	require.Equal(t, []byte("hello"), f.Body)
}

func TestYamuxDecodeSizeNonDataFrameHasNoBody(t *testing.T) {
	raw := encodeYamuxFrame(YamuxWindowUpdate, YamuxFlagACK, 3, nil)
	h, l, ok := YamuxDecodeSize(raw)
	require.True(t, ok)
	require.Equal(t, yamuxHeaderSize, h)
	require.Equal(t, 0, l)
}

func TestYamuxDecodeSizeDataFrameNeedsBody(t *testing.T) {
	raw := encodeYamuxFrame(YamuxData, 0, 5, []byte("12345"))
	h, l, ok := YamuxDecodeSize(raw[:yamuxHeaderSize])
	require.True(t, ok)
	require.Equal(t, yamuxHeaderSize, h)
	require.Equal(t, 5, l)
	require.Equal(t, len(raw), h+l)
}

func TestYamuxStreamOpenedByOutgoingClientInitiator(t *testing.T) {
	// We are the connection initiator (client); stream 1 is odd => client
	// opened it => it's ours when observed outgoing.
	require.True(t, YamuxStreamOpenedByOutgoing(1, true, true))
	require.False(t, YamuxStreamOpenedByOutgoing(1, false, true))
}

func TestYamuxStreamOpenedByOutgoingServerSide(t *testing.T) {
	// We are the server (not initiator); even stream ids are ours to open.
	require.True(t, YamuxStreamOpenedByOutgoing(2, true, false))
}

func TestYamuxDecodeShortHeaderErrors(t *testing.T) {
	_, err := DecodeYamuxFrame([]byte{0, 0, 0})
	require.Error(t, err)
}
