package protocol

import (
	"encoding/binary"
	"fmt"
)

// rpcKind is the wire discriminator byte distinguishing a request (which
// carries its own tag/version) from a bare response (which carries only the
// id it answers).
type rpcKind uint8

const (
	rpcKindRequest  rpcKind = 0
	rpcKindResponse rpcKind = 1
)

// RPCRequest is one outgoing/incoming RPC call frame: tag name, protocol
// version, and the integer id the response will be paired against.
type RPCRequest struct {
	Tag     string
	Version uint16
	ID      uint64
	Body    []byte
}

// RPCResponse is a resolved response: a bare (id, body) wire response whose
// tag and version the dispatcher filled in from the pending request with the
// same id. Tag and Version stay empty when no such request was pending.
type RPCResponse struct {
	Tag     string
	Version uint16
	ID      uint64
	Body    []byte
}

// RPCDecodeSize is the Accumulator DecodeSize for the RPC sub-framing layer:
// a varint length prefix, then that many bytes (§4.6: "runs a secondary
// length-prefix accumulator over the binary RPC framing").
func RPCDecodeSize(b []byte) (int, int, bool) {
	length, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, false
	}
	return n, int(length), true
}

func decodeRPCRequest(body []byte) (RPCRequest, error) {
	tagLen, n := binary.Uvarint(body)
	if n <= 0 {
		return RPCRequest{}, fmt.Errorf("protocol: rpc request: bad tag length")
	}
	body = body[n:]
	if tagLen > uint64(len(body)) || uint64(len(body))-tagLen < 2+8 {
		return RPCRequest{}, fmt.Errorf("protocol: rpc request: short frame")
	}
	tag := string(body[:tagLen])
	body = body[tagLen:]
	version := binary.BigEndian.Uint16(body[:2])
	id := binary.BigEndian.Uint64(body[2:10])
	return RPCRequest{Tag: tag, Version: version, ID: id, Body: body[10:]}, nil
}

func decodeBareResponse(body []byte) (id uint64, rest []byte, err error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("protocol: rpc response: short frame")
	}
	return binary.BigEndian.Uint64(body[:8]), body[8:], nil
}

// DecodeRPCFrame parses one complete RPC sub-frame, dispatching on its kind
// byte. Requests populate the pending table; bare responses are rewritten
// into the full (tag, version, id) form by looking up the id (§4.6).
func (d *Dispatcher) DecodeRPCFrame(streamKey string, frame []byte) (*RPCRequest, *RPCResponse, error) {
	if len(frame) < 1 {
		return nil, nil, fmt.Errorf("protocol: empty rpc frame")
	}
	switch rpcKind(frame[0]) {
	case rpcKindRequest:
		req, err := decodeRPCRequest(frame[1:])
		if err != nil {
			return nil, nil, err
		}
		d.pendingMu.Lock()
		d.pending[rpcPendingKey{streamKey, req.ID}] = rpcPending{Tag: req.Tag, Version: req.Version}
		d.pendingMu.Unlock()
		return &req, nil, nil

	case rpcKindResponse:
		id, body, err := decodeBareResponse(frame[1:])
		if err != nil {
			return nil, nil, err
		}
		key := rpcPendingKey{streamKey, id}
		d.pendingMu.Lock()
		p, ok := d.pending[key]
		if ok {
			delete(d.pending, key)
		}
		d.pendingMu.Unlock()
		resp := RPCResponse{ID: id, Body: body}
		if ok {
			resp.Tag = p.Tag
			resp.Version = p.Version
		}
		return nil, &resp, nil

	default:
		return nil, nil, fmt.Errorf("protocol: unknown rpc frame kind %d", frame[0])
	}
}

type rpcPendingKey struct {
	stream string
	id     uint64
}

type rpcPending struct {
	Tag     string
	Version uint16
}
