// Package event defines the 32-byte ring-buffer record (§3, §6 of the
// capture specification) and the typed SnifferEvent produced from it (C3).
package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Tag is the closed enum recorded in every ring record's tag field.
type Tag uint32

const (
	TagDebug Tag = iota
	TagClose
	TagConnect
	TagBind
	TagListen
	TagAccept
	TagAlias
	TagWrite
	TagRead
	TagGetSockOpt
	TagRandom
)

func (t Tag) String() string {
	switch t {
	case TagDebug:
		return "debug"
	case TagClose:
		return "close"
	case TagConnect:
		return "connect"
	case TagBind:
		return "bind"
	case TagListen:
		return "listen"
	case TagAccept:
		return "accept"
	case TagAlias:
		return "alias"
	case TagWrite:
		return "write"
	case TagRead:
		return "read"
	case TagGetSockOpt:
		return "getsockopt"
	case TagRandom:
		return "random"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

// RecordSize is the fixed packed size of an Event header, per §3/§9: 32
// bytes, little-endian, no implicit padding.
const RecordSize = 32

// ErrSliceTooShort is returned by FromBytes when fewer than RecordSize bytes are
// available.
var ErrSliceTooShort = errors.New("event: ring slice shorter than header")

// Event is the fixed 32-byte packed record produced by the kernel probe:
// fd: u32, pid: u32, ts0: u64, ts1: u64, tag: u32, size: i32.
//
// Negative Size encodes the kernel error code; non-negative Size is the
// payload length that follows the header in the ring.
type Event struct {
	FD   uint32
	PID  uint32
	Ts0  uint64
	Ts1  uint64
	Tag  Tag
	Size int32
}

// ToBytes packs e into exactly RecordSize little-endian bytes. Implementations
// MUST NOT use reflection-based serialisation (§9): every field is written
// at an explicit offset.
func (e Event) ToBytes() [RecordSize]byte {
	var b [RecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], e.FD)
	binary.LittleEndian.PutUint32(b[4:8], e.PID)
	binary.LittleEndian.PutUint64(b[8:16], e.Ts0)
	binary.LittleEndian.PutUint64(b[16:24], e.Ts1)
	binary.LittleEndian.PutUint32(b[24:28], uint32(e.Tag))
	binary.LittleEndian.PutUint32(b[28:32], uint32(e.Size))
	return b
}

// FromBytes unpacks exactly RecordSize bytes into an Event. Round-trips with
// ToBytes for any Event (§8 universal invariant).
func FromBytes(b []byte) (Event, error) {
	if len(b) < RecordSize {
		return Event{}, ErrSliceTooShort
	}
	return Event{
		FD:   binary.LittleEndian.Uint32(b[0:4]),
		PID:  binary.LittleEndian.Uint32(b[4:8]),
		Ts0:  binary.LittleEndian.Uint64(b[8:16]),
		Ts1:  binary.LittleEndian.Uint64(b[16:24]),
		Tag:  Tag(binary.LittleEndian.Uint32(b[24:28])),
		Size: int32(binary.LittleEndian.Uint32(b[28:32])),
	}, nil
}

// IsError reports whether Size encodes a negative kernel error code.
func (e Event) IsError() bool { return e.Size < 0 }

// PayloadLen is the non-negative payload length following the header, or 0
// for error records.
func (e Event) PayloadLen() int {
	if e.Size < 0 {
		return 0
	}
	return int(e.Size)
}

// Variant is the sum type carried by a SnifferEvent, one constructor per
// ring tag after address-family/port filtering (C3).
type Variant interface {
	isVariant()
}

type NewApp struct{ Alias string }
type Bind struct{ Addr net.Addr }
type IncomingConnection struct{ Addr net.Addr }
type OutgoingConnection struct{ Addr net.Addr }
type GetSockOpt struct{ Value []byte }
type Disconnected struct{}
type IncomingData struct{ Bytes []byte }
type OutgoingData struct{ Bytes []byte }
type Random struct{ Bytes []byte }
type Error struct {
	DataTag Tag
	Code    int32
}

func (NewApp) isVariant()             {}
func (Bind) isVariant()               {}
func (IncomingConnection) isVariant() {}
func (OutgoingConnection) isVariant() {}
func (GetSockOpt) isVariant()         {}
func (Disconnected) isVariant()       {}
func (IncomingData) isVariant()       {}
func (OutgoingData) isVariant()       {}
func (Random) isVariant()             {}
func (Error) isVariant()              {}

// SnifferEvent is the typed event C3 produces from a raw ring Event.
type SnifferEvent struct {
	PID     uint32
	FD      uint32
	TID     uint32
	Ts0     uint64
	Ts1     uint64
	Variant Variant
}
