package mux

import (
	"encoding/binary"
	"fmt"
)

// MplexTag is the low 3 bits of an mplex frame header (stream_id<<3 | tag).
type MplexTag uint8

const (
	MplexNewStream       MplexTag = 0
	MplexMessageReceiver  MplexTag = 1
	MplexMessageInitiator MplexTag = 2
	MplexCloseReceiver    MplexTag = 3
	MplexCloseInitiator   MplexTag = 4
	MplexResetReceiver    MplexTag = 5
	MplexResetInitiator   MplexTag = 6
)

func (t MplexTag) String() string {
	switch t {
	case MplexNewStream:
		return "new_stream"
	case MplexMessageReceiver:
		return "message_receiver"
	case MplexMessageInitiator:
		return "message_initiator"
	case MplexCloseReceiver:
		return "close_receiver"
	case MplexCloseInitiator:
		return "close_initiator"
	case MplexResetReceiver:
		return "reset_receiver"
	case MplexResetInitiator:
		return "reset_initiator"
	default:
		return "unknown"
	}
}

// isInitiatorTag reports whether tag was emitted by the stream's initiator
// (the side that sent NewStream).
func (t MplexTag) isInitiatorTag() bool {
	switch t {
	case MplexMessageInitiator, MplexCloseInitiator, MplexResetInitiator, MplexNewStream:
		return true
	default:
		return false
	}
}

// MplexFrame is one decoded mplex frame.
type MplexFrame struct {
	StreamID uint64
	Tag      MplexTag
	Body     []byte
}

// MplexDecodeSize is an Accumulator DecodeSize for mplex: varint header,
// varint length, then that many body bytes.
func MplexDecodeSize(b []byte) (int, int, bool) {
	header, hn := binary.Uvarint(b)
	if hn <= 0 {
		return 0, 0, false
	}
	length, ln := binary.Uvarint(b[hn:])
	if ln <= 0 {
		return 0, 0, false
	}
	_ = header
	return hn + ln, int(length), true
}

// DecodeMplexFrame parses one complete mplex frame (as already isolated by
// the Accumulator).
func DecodeMplexFrame(b []byte) (MplexFrame, error) {
	header, hn := binary.Uvarint(b)
	if hn <= 0 {
		return MplexFrame{}, fmt.Errorf("mplex: bad header varint")
	}
	length, ln := binary.Uvarint(b[hn:])
	if ln <= 0 {
		return MplexFrame{}, fmt.Errorf("mplex: bad length varint")
	}
	body := b[hn+ln:]
	if uint64(len(body)) < length {
		return MplexFrame{}, fmt.Errorf("mplex: short body: want %d got %d", length, len(body))
	}
	return MplexFrame{
		StreamID: header >> 3,
		Tag:      MplexTag(header & 0x7),
		Body:     body[:length],
	}, nil
}

// MplexStreamKey canonicalizes an mplex stream id into the shared Forward
// (initiator->receiver) / Backward (receiver->initiator) direction model: the
// numeric id alone is ambiguous between the two peers of a connection, so the
// canonical key combines it with which side opened the stream.
type MplexStreamKey struct {
	StreamID  uint64
	Initiator bool // true: this connection's "outgoing" side opened the stream
}

// CanonicalStream resolves which logical stream a frame belongs to and
// whether the frame is flowing Forward (initiator -> receiver) or Backward,
// given whether the frame was observed on the connection's outgoing side.
func CanonicalStream(f MplexFrame, observedOutgoing bool) (key MplexStreamKey, forward bool) {
	// A frame tagged *Initiator was emitted by the stream's initiator; a
	// frame tagged *Receiver was emitted by the stream's receiver. Which
	// physical direction (outgoing/incoming) that corresponds to tells us
	// which side of the connection opened the stream.
	initiatorIsOutgoing := f.Tag.isInitiatorTag() == observedOutgoing
	return MplexStreamKey{StreamID: f.StreamID, Initiator: initiatorIsOutgoing}, f.Tag.isInitiatorTag()
}
