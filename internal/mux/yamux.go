package mux

import (
	"encoding/binary"
	"fmt"
)

// yamuxHeaderSize is the fixed yamux frame header length (version, type,
// flags, stream id, length).
const yamuxHeaderSize = 12

// YamuxType is the yamux frame type byte.
type YamuxType uint8

const (
	YamuxData         YamuxType = 0
	YamuxWindowUpdate YamuxType = 1
	YamuxPing         YamuxType = 2
	YamuxGoAway       YamuxType = 3
)

func (t YamuxType) String() string {
	switch t {
	case YamuxData:
		return "data"
	case YamuxWindowUpdate:
		return "window_update"
	case YamuxPing:
		return "ping"
	case YamuxGoAway:
		return "go_away"
	default:
		return "unknown"
	}
}

// YamuxFlags are the bit flags carried in a yamux header.
type YamuxFlags uint16

const (
	YamuxFlagSYN YamuxFlags = 1 << 0
	YamuxFlagACK YamuxFlags = 1 << 1
	YamuxFlagFIN YamuxFlags = 1 << 2
	YamuxFlagRST YamuxFlags = 1 << 3
)

// YamuxFrame is one decoded yamux frame, header plus (for Data frames) body.
type YamuxFrame struct {
	Type     YamuxType
	Flags    YamuxFlags
	StreamID uint32
	Length   uint32
	Body     []byte
}

// YamuxDecodeSize is an Accumulator DecodeSize for yamux: a fixed 12-byte
// header, plus a body only for Data frames (Length is a window size delta
// for WindowUpdate, and unused for Ping/GoAway).
func YamuxDecodeSize(b []byte) (int, int, bool) {
	if len(b) < yamuxHeaderSize {
		return 0, 0, false
	}
	if b[1] != byte(YamuxData) {
		return yamuxHeaderSize, 0, true
	}
	length := binary.BigEndian.Uint32(b[8:12])
	return yamuxHeaderSize, int(length), true
}

// DecodeYamuxFrame parses one complete yamux frame.
func DecodeYamuxFrame(b []byte) (YamuxFrame, error) {
	if len(b) < yamuxHeaderSize {
		return YamuxFrame{}, fmt.Errorf("yamux: short header: %d bytes", len(b))
	}
	f := YamuxFrame{
		Type:     YamuxType(b[1]),
		Flags:    YamuxFlags(binary.BigEndian.Uint16(b[2:4])),
		StreamID: binary.BigEndian.Uint32(b[4:8]),
		Length:   binary.BigEndian.Uint32(b[8:12]),
	}
	if f.Type == YamuxData {
		body := b[yamuxHeaderSize:]
		if uint32(len(body)) < f.Length {
			return YamuxFrame{}, fmt.Errorf("yamux: short body: want %d got %d", f.Length, len(body))
		}
		f.Body = body[:f.Length]
	}
	return f, nil
}

// YamuxStreamOpenedByOutgoing reports whether the stream was opened by the
// side that sent the SYN, given which physical direction we observed it on.
// Per the yamux convention the client (connection initiator) uses odd stream
// ids and the server uses even ones; stream id 0 is session-level
// (ping/go-away) and never a real stream (§4.5 "stream 0 = Handshake").
func YamuxStreamOpenedByOutgoing(streamID uint32, observedOutgoing bool, weAreInitiator bool) bool {
	clientOpened := streamID%2 == 1
	if weAreInitiator {
		return clientOpened == observedOutgoing
	}
	return clientOpened != observedOutgoing
}
