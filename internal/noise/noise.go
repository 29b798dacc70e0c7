// Package noise parses the Noise handshake frames exchanged after
// multistream-select negotiates "/noise" (§4.5). The debugger is a passive
// observer with no key material, so the Noise payload past the handshake is
// opaque ciphertext: this package recognizes handshake message boundaries
// and counts handshake frames, without extracting peer identity and without
// attempting to decrypt the transport phase.
package noise

import (
	"encoding/binary"
	"fmt"
)

// Stage is where a one-directional Noise exchange is in its XX handshake.
type Stage int

const (
	StageHandshake1 Stage = iota // -> e
	StageHandshake2               // <- e, ee, s, es
	StageHandshake3               // -> s, se
	StageTransport
)

// Frame is one length-prefixed Noise wire message: a 2-byte big-endian
// length followed by that many bytes (the libp2p noise transport framing).
type Frame struct {
	Body []byte
}

// DecodeSize is an Accumulator DecodeSize for Noise framing: 2-byte length
// prefix, then that many bytes.
func DecodeSize(b []byte) (int, int, bool) {
	if len(b) < 2 {
		return 0, 0, false
	}
	length := binary.BigEndian.Uint16(b[:2])
	return 2, int(length), true
}

// Decode parses one complete Noise frame.
func Decode(b []byte) (Frame, error) {
	if len(b) < 2 {
		return Frame{}, fmt.Errorf("noise: short header")
	}
	length := binary.BigEndian.Uint16(b[:2])
	body := b[2:]
	if uint16(len(body)) < length {
		return Frame{}, fmt.Errorf("noise: short body: want %d got %d", length, len(body))
	}
	return Frame{Body: body[:length]}, nil
}

// State tracks handshake progress for one connection direction pair so the
// caller can tell when the transport phase begins and plaintext framing
// parsing should stop.
type State struct {
	Stage Stage
}

// Advance records that one more Noise frame was observed and returns the
// updated stage. After the third handshake message, every further frame is
// opaque transport ciphertext.
func (s *State) Advance() Stage {
	switch s.Stage {
	case StageHandshake1:
		s.Stage = StageHandshake2
	case StageHandshake2:
		s.Stage = StageHandshake3
	default:
		s.Stage = StageTransport
	}
	return s.Stage
}

// InTransport reports whether the handshake has completed and subsequent
// frames should be treated as opaque.
func (s State) InTransport() bool {
	return s.Stage == StageTransport
}
