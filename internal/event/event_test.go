package event

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	e := Event{FD: 9, PID: 1234, Ts0: 10, Ts1: 20, Tag: TagRead, Size: 42}
	b := e.ToBytes()
	assert.Len(t, b, RecordSize)

	got, err := FromBytes(b[:])
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestFromBytesTooShort(t *testing.T) {
	_, err := FromBytes(make([]byte, RecordSize-1))
	assert.ErrorIs(t, err, ErrSliceTooShort)
}

func TestFromRBSliceError(t *testing.T) {
	e := Event{FD: 1, PID: 2, Tag: TagRead, Size: -90}
	b := e.ToBytes()
	se, err := FromRBSlice(b[:])
	require.NoError(t, err)
	require.NotNil(t, se)
	errVariant, ok := se.Variant.(Error)
	require.True(t, ok)
	assert.Equal(t, int32(-90), errVariant.Code)
}

func TestFromRBSlicePayloadTooShort(t *testing.T) {
	e := Event{Tag: TagRead, Size: 10}
	b := e.ToBytes()
	_, err := FromRBSlice(b[:])
	assert.ErrorIs(t, err, ErrPayloadTooShort)
}

func TestFromRBSliceFiltersWellKnownPort(t *testing.T) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], 2)
	binary.BigEndian.PutUint16(payload[2:4], 443)
	e := Event{Tag: TagConnect, Size: int32(len(payload))}
	b := e.ToBytes()
	full := append(b[:], payload...)

	se, err := FromRBSlice(full)
	require.NoError(t, err)
	assert.Nil(t, se)
}

func TestFromRBSlicePlaceholderAddress(t *testing.T) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], 2)
	binary.BigEndian.PutUint16(payload[2:4], 8302)
	e := Event{Tag: TagAccept, Size: int32(len(payload))}
	b := e.ToBytes()
	full := append(b[:], payload...)

	se, err := FromRBSlice(full)
	require.NoError(t, err)
	require.NotNil(t, se)
	in, ok := se.Variant.(IncomingConnection)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:8302", in.Addr.String())
}
