// Package protocol implements the per-protocol dispatcher (C9 §4.6): once a
// complete frame emerges from the mux layer, it is routed by the stream's
// negotiated protocol name to RPC request/response pairing, the meshsub
// gossip path feeding the latency aggregator, or a generic persist-only
// path for everything else. Message-payload decoding beyond framing is an
// external contract (spec.md §1 OUT OF SCOPE) — this package calls out to a
// PayloadDecoder rather than parsing gossipsub/RPC payloads itself.
package protocol

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ocx/mina-debugger/internal/aggregator"
)

// Name is one of the small fixed set of protocol names negotiated over
// multistream-select (§4.6).
type Name string

const (
	NameRPC          Name = "rpc"
	NameMeshsub      Name = "meshsub"
	NameKad          Name = "kad"
	NameIdentify     Name = "identify"
	NameIdentifyPush Name = "identify-push"
	NamePeerExchange Name = "peer-exchange"
	NameNodeStatus   Name = "node-status"
	NameYamux        Name = "yamux"
	NameMplex        Name = "mplex"
	NameHandshake    Name = "handshake"
)

// Store is the byte-addressable put/get contract (spec.md §1 OUT OF SCOPE):
// the dispatcher only ever writes through it.
type Store interface {
	Put(key string, value []byte) error
}

// NewStateBlock is the decoded "new consensus state" payload carried inside
// a meshsub frame, when present.
type NewStateBlock struct {
	Height     uint64
	ProducerID string
}

// MeshsubEnvelope is the structured result of decoding one meshsub frame's
// outer envelope (§4.6, §4.7): a topic, its content hash, an optional new
// block, and any IHAVE hashes mentioned alongside it.
type MeshsubEnvelope struct {
	Topic    string
	Hash     aggregator.Hash
	NewState *NewStateBlock
	IHave    []aggregator.Hash
}

// PayloadDecoder performs the message-payload decoding spec.md places OUT OF
// SCOPE: "given a framed message and its protocol name, return a structured
// value." Production wiring supplies a real gossipsub/capnp decoder; tests
// supply a fake.
type PayloadDecoder interface {
	DecodeMeshsub(frame []byte) (MeshsubEnvelope, error)
}

// Dispatcher routes framed bytes by protocol name (C9's §4.6 step).
type Dispatcher struct {
	store   Store
	agg     *aggregator.Aggregator
	decoder PayloadDecoder
	log     *slog.Logger

	pendingMu sync.Mutex
	pending   map[rpcPendingKey]rpcPending
}

// New constructs a Dispatcher. decoder may be nil, in which case meshsub
// frames are persisted without latency aggregation.
func New(store Store, agg *aggregator.Aggregator, decoder PayloadDecoder, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		agg:     agg,
		decoder: decoder,
		log:     log,
		pending: make(map[rpcPendingKey]rpcPending),
	}
}

// Dispatch handles one complete frame already demultiplexed to a single
// stream (streamKey uniquely identifies that stream within its connection,
// e.g. "<conn id>:fwd:3" as built by the pipeline).
func (d *Dispatcher) Dispatch(name Name, streamKey string, frame []byte, at time.Time, sender, receiver net.Addr, incoming bool) {
	switch name {
	case NameRPC:
		d.dispatchRPC(streamKey, frame)
	case NameMeshsub:
		d.dispatchMeshsub(streamKey, frame, at, sender, receiver, incoming)
	default:
		d.persist(streamKey, frame)
	}
}

func (d *Dispatcher) dispatchRPC(streamKey string, frame []byte) {
	req, resp, err := d.DecodeRPCFrame(streamKey, frame)
	if err != nil {
		d.log.Warn("rpc frame parse error", "stream", streamKey, "err", err)
		return
	}
	if req != nil {
		d.persist(streamKey, frame)
	}
	if resp != nil {
		// Rewritten (tag, version, id) + body form, per §4.6.
		rewritten := encodeResolvedResponse(*resp)
		d.persist(streamKey, rewritten)
	}
}

func (d *Dispatcher) dispatchMeshsub(streamKey string, frame []byte, at time.Time, sender, receiver net.Addr, incoming bool) {
	d.persist(streamKey, frame)

	if d.decoder == nil || d.agg == nil {
		return
	}
	env, err := d.decoder.DecodeMeshsub(frame)
	if err != nil {
		d.log.Warn("meshsub decode error", "stream", streamKey, "err", err)
		return
	}

	if env.NewState != nil {
		d.agg.Observe(env.Hash, at, env.NewState.ProducerID, env.NewState.Height)
		d.agg.Flush(env.NewState.Height)
	}

	for _, h := range env.IHave {
		lat, ok := d.agg.Mention(h, at, sender, receiver, incoming)
		if !ok {
			continue
		}
		d.log.Info("block latency",
			"height", lat.Height, "producer", lat.ProducerID,
			"latency", lat.Latency, "sender", lat.Sender, "receiver", lat.Receiver)
	}
}

// persist writes one frame under a fresh key per call: a stream's frames
// are an append-only recording, not a last-write-wins cell, so each gets
// its own xid suffix and the HTTP range query (prefix = streamKey) recovers
// every frame seen on that stream, in arrival order.
func (d *Dispatcher) persist(streamKey string, frame []byte) {
	if d.store == nil {
		return
	}
	key := streamKey + ":" + xid.New().String()
	if err := d.store.Put(key, frame); err != nil {
		d.log.Warn("store put failed", "stream", streamKey, "err", err)
	}
}

func encodeResolvedResponse(r RPCResponse) []byte {
	tagLen := len(r.Tag)
	out := make([]byte, 0, 1+1+tagLen+2+8+len(r.Body))
	out = append(out, byte(rpcKindResponse))
	out = append(out, byte(tagLen))
	out = append(out, r.Tag...)
	out = append(out, byte(r.Version>>8), byte(r.Version))
	for i := 7; i >= 0; i-- {
		out = append(out, byte(r.ID>>(8*i)))
	}
	out = append(out, r.Body...)
	return out
}
