package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrPayloadTooShort is returned when a non-error record declares a payload
// longer than the bytes actually available after the header.
var ErrPayloadTooShort = errors.New("event: payload shorter than declared size")

var filteredPorts = map[uint16]struct{}{
	0:     {},
	53:    {},
	80:    {},
	443:   {},
	65535: {},
}

// sockaddr decodes the family/port prefix of a raw sockaddr and synthesises
// the placeholder address contract of §9: every accepted/connected address
// is reported as 127.0.0.1:port, because the real IP is never copied out of
// kernel memory. This is a deliberate, documented placeholder, not a bug.
func sockaddr(b []byte) (net.Addr, bool) {
	if len(b) < 4 {
		return nil, false
	}
	family := binary.LittleEndian.Uint16(b[0:2])
	if family != unix.AF_INET && family != unix.AF_INET6 {
		return nil, false
	}
	port := binary.BigEndian.Uint16(b[2:4])
	if _, filtered := filteredPorts[port]; filtered {
		return nil, false
	}
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)}, true
}

// FromRBSlice parses one ring-buffer record (header + optional payload) into
// a SnifferEvent. It returns (nil, nil) for a record that is valid but
// uninteresting — a filtered address family/port or an unrecognised tag —
// matching the `from_rb_slice` contract of the reference ring-buffer reader.
//
// The wire record carries no explicit thread id (§3); the kernel probe
// already resolves entry/exit pairs per thread before submission, so TID is
// set equal to PID here, consistent with the single main thread the traced
// helper process runs on.
func FromRBSlice(b []byte) (*SnifferEvent, error) {
	ev, err := FromBytes(b)
	if err != nil {
		return nil, err
	}
	payload := b[RecordSize:]

	if ev.IsError() {
		return &SnifferEvent{
			PID: ev.PID, FD: ev.FD, TID: ev.PID, Ts0: ev.Ts0, Ts1: ev.Ts1,
			Variant: Error{DataTag: ev.Tag, Code: ev.Size},
		}, nil
	}

	if len(payload) < ev.PayloadLen() {
		return nil, fmt.Errorf("%w: have %d want %d", ErrPayloadTooShort, len(payload), ev.PayloadLen())
	}
	payload = payload[:ev.PayloadLen()]

	base := SnifferEvent{PID: ev.PID, FD: ev.FD, TID: ev.PID, Ts0: ev.Ts0, Ts1: ev.Ts1}

	switch ev.Tag {
	case TagAlias:
		base.Variant = NewApp{Alias: string(payload)}
	case TagBind:
		addr, ok := sockaddr(payload)
		if !ok {
			return nil, nil
		}
		base.Variant = Bind{Addr: addr}
	case TagAccept:
		addr, ok := sockaddr(payload)
		if !ok {
			return nil, nil
		}
		base.Variant = IncomingConnection{Addr: addr}
	case TagConnect:
		addr, ok := sockaddr(payload)
		if !ok {
			return nil, nil
		}
		base.Variant = OutgoingConnection{Addr: addr}
	case TagGetSockOpt:
		base.Variant = GetSockOpt{Value: payload}
	case TagClose:
		base.Variant = Disconnected{}
	case TagRead:
		base.Variant = IncomingData{Bytes: payload}
	case TagWrite:
		base.Variant = OutgoingData{Bytes: payload}
	case TagRandom:
		base.Variant = Random{Bytes: payload}
	case TagListen, TagDebug:
		return nil, nil
	default:
		return nil, nil
	}

	return &base, nil
}
