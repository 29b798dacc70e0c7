// Package ipc implements the schema-framed side-channel reader (C8): each
// daemon<->helper message on stdin/stdout is a segment-table-framed binary
// message (segment count, segment lengths, segment data). The reader
// maintains one byte accumulator per (pid, direction) and blacklists a pair
// permanently on the first unparseable message, since this path is
// best-effort and must never block the network path (§4.8).
package ipc

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the small fixed set of recognised IPC message kinds (§4.8).
type Opcode uint8

const (
	OpAddPeer Opcode = iota
	OpPublish
	OpOpenStream
	OpSendStream
	OpPeerConnected
	OpPeerDisconnected
	OpIncomingStream
	OpStreamMessageReceived
	OpGossipReceived
	OpListen
)

func (o Opcode) String() string {
	names := [...]string{
		"add_peer", "publish", "open_stream", "send_stream",
		"peer_connected", "peer_disconnected", "incoming_stream",
		"stream_message_received", "gossip_received", "listen",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// ErrShortBuffer signals "not enough bytes yet", distinct from a genuine
// parse failure: the caller should wait for more data rather than
// blacklisting.
type ErrShortBuffer struct{}

func (ErrShortBuffer) Error() string { return "ipc: buffer too short" }

// Message is one decoded IPC message: its opcode and the raw segment
// payloads that followed the segment table, left undecoded (message-payload
// decoding beyond framing is OUT OF SCOPE per spec.md §1).
type Message struct {
	Opcode   Opcode
	Segments [][]byte
}

// decodeSegmentTable parses: u32 segment_count, segment_count * u32 lengths,
// then the concatenated segment bytes. The opcode is the first byte of the
// first segment.
func decodeSegmentTable(b []byte) (consumed int, msg Message, err error) {
	if len(b) < 4 {
		return 0, Message{}, ErrShortBuffer{}
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	if count == 0 || count > 1<<16 {
		return 0, Message{}, fmt.Errorf("ipc: implausible segment count %d", count)
	}
	headerLen := 4 + int(count)*4
	if len(b) < headerLen {
		return 0, Message{}, ErrShortBuffer{}
	}

	lengths := make([]int, count)
	total := 0
	for i := 0; i < int(count); i++ {
		l := binary.LittleEndian.Uint32(b[4+i*4 : 8+i*4])
		lengths[i] = int(l)
		total += int(l)
	}

	if len(b) < headerLen+total {
		return 0, Message{}, ErrShortBuffer{}
	}

	segments := make([][]byte, count)
	off := headerLen
	for i, l := range lengths {
		segments[i] = b[off : off+l]
		off += l
	}

	if len(segments[0]) == 0 {
		return 0, Message{}, fmt.Errorf("ipc: empty first segment, no opcode")
	}
	opcode := Opcode(segments[0][0])
	if opcode > OpListen {
		return 0, Message{}, fmt.Errorf("ipc: unrecognised opcode %d", segments[0][0])
	}

	return off, Message{Opcode: opcode, Segments: segments}, nil
}

// Reader accumulates bytes for one (pid, direction) pair and yields parsed
// Messages, matching the accumulator contract of §4.5 applied to the IPC
// framing of §4.8.
type Reader struct {
	buf        []byte
	blacklisted bool
}

// Feed offers newly observed bytes. It returns every complete message it
// could extract, in order. If a parse error (other than "need more data")
// occurs, Feed blacklists the reader permanently: every subsequent call
// returns (nil, true) without attempting to parse.
func (r *Reader) Feed(b []byte) (msgs []Message, blacklisted bool) {
	if r.blacklisted {
		return nil, true
	}
	r.buf = append(r.buf, b...)

	for {
		consumed, msg, err := decodeSegmentTable(r.buf)
		if err == nil {
			msgs = append(msgs, msg)
			r.buf = r.buf[consumed:]
			continue
		}
		if _, short := err.(ErrShortBuffer); short {
			return msgs, false
		}
		r.blacklisted = true
		r.buf = nil
		return msgs, true
	}
}

// Blacklisted reports whether this reader has given up after a parse error.
func (r *Reader) Blacklisted() bool { return r.blacklisted }
