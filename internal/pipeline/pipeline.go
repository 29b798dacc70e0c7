// Package pipeline composes the per-connection decryption/framing stages
// (§4.5: PNet -> MultistreamSelect -> Noise -> MultistreamSelect ->
// Mux(Mplex|Yamux) -> MultistreamSelect -> Protocol) into the single
// registry.Pipeline a live connection owns. State is strictly per-direction
// except at the Mux layer, which runs one state machine for both directions
// with two accumulators, exactly as §4.5 specifies.
package pipeline

import (
	"log/slog"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/ocx/mina-debugger/internal/mux"
	"github.com/ocx/mina-debugger/internal/multistream"
	"github.com/ocx/mina-debugger/internal/noise"
	"github.com/ocx/mina-debugger/internal/pnet"
	"github.com/ocx/mina-debugger/internal/protocol"
)

// muxKind is which multiplexer was negotiated for this connection.
type muxKind int

const (
	muxNone muxKind = iota
	muxMplex
	muxYamux
)

// stage is where one direction's bytes currently sit in the layered
// pipeline.
type stage int

const (
	stagePNet stage = iota
	stageOuterMultistream
	stageNoise
	stageInnerMultistream
	stageMux
	stageOpaque // Noise failed to yield session keys; bytes are persisted raw
)

// Store is the subset of store.KV the pipeline writes chunks through.
type Store interface {
	Put(key string, value []byte) error
}

// Pipeline is one connection's C5-C7 state machine. It implements
// registry.Pipeline.
type Pipeline struct {
	id   string // stable key used to namespace stream keys and store rows
	addr net.Addr

	store      Store
	dispatcher *protocol.Dispatcher
	log        *slog.Logger

	pnet *pnet.State

	dirs [2]direction // index 0 = outgoing, 1 = incoming

	muxKind muxKind
	mplex   muxMplexState
	yamux   muxYamuxState

	// streamProto maps a canonical stream key to its negotiated protocol
	// name, learned from that stream's own multistream-select exchange.
	streamProto map[string]protocol.Name
	streamAcc   map[string]*mux.Accumulator

	// bypassPNet is set by ForceMuxStage: a replay harness feeds already
	// plaintext mux frames directly, so the PNet nonce-absorption/keystream
	// step must not run at all, let alone be mistaken for a malformed nonce.
	bypassPNet bool

	closed bool
}

type direction struct {
	stage   stage
	msAcc   mux.Accumulator
	noise   noise.State
	muxAcc  mux.Accumulator
}

type muxMplexState struct{}
type muxYamuxState struct {
	weAreInitiator bool
}

// New constructs a fresh per-connection Pipeline, keying its PNet layer off
// networkID.
func New(id string, addr net.Addr, incoming bool, networkID pnet.NetworkID, store Store, dispatcher *protocol.Dispatcher, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := pnet.New(networkID)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		id:          id,
		addr:        addr,
		store:       store,
		dispatcher:  dispatcher,
		log:         log,
		pnet:        st,
		streamProto: make(map[string]protocol.Name),
		streamAcc:   make(map[string]*mux.Accumulator),
		yamux:       muxYamuxState{weAreInitiator: !incoming},
	}, nil
}

func dirIndex(incoming bool) int {
	if incoming {
		return 1
	}
	return 0
}

// OnData feeds newly observed plaintext-at-the-socket bytes for one
// direction through the layered pipeline.
func (p *Pipeline) OnData(incoming bool, b []byte) {
	if p.closed || len(b) == 0 {
		return
	}
	d := &p.dirs[dirIndex(incoming)]

	out := b
	if !p.bypassPNet {
		decrypted, haveNonce, ok := p.pnet.Decrypt(incoming, b)
		if !ok {
			p.log.Warn("pnet: marking connection skip", "conn", p.id, "incoming", incoming)
			p.closed = true
			return
		}
		if haveNonce {
			return
		}
		out = decrypted
	}
	p.persistChunk(incoming, out)
	p.advance(d, incoming, out)
}

// persistChunk writes one decrypted chunk under a fresh key per call: chunks
// are an append-only recording, not a last-write-wins cell, so each gets its
// own xid suffix and the HTTP range query (prefix = connID + ":" + dir)
// recovers the whole recorded stream for a direction.
func (p *Pipeline) persistChunk(incoming bool, b []byte) {
	if p.store == nil {
		return
	}
	key := chunkKey(p.id, incoming, xid.New().String())
	_ = p.store.Put(key, b)
}

func chunkKey(id string, incoming bool, chunkID string) string {
	dir := "out"
	if incoming {
		dir = "in"
	}
	return id + ":" + dir + ":" + chunkID
}

func (p *Pipeline) advance(d *direction, incoming bool, b []byte) {
	for len(b) > 0 {
		switch d.stage {
		case stagePNet, stageOuterMultistream:
			d.stage = stageOuterMultistream
			rest, advanced := p.feedMultistream(d, b, stageNoise)
			if !advanced {
				return
			}
			b = rest

		case stageNoise:
			rest, done := p.feedNoise(d, b)
			b = rest
			if !done {
				return
			}

		case stageInnerMultistream:
			rest, advanced := p.feedMultistream(d, b, stageMux)
			if !advanced {
				return
			}
			b = rest

		case stageMux:
			p.feedMux(incoming, b)
			return

		case stageOpaque:
			return
		}
	}
}

// feedMultistream runs one direction's bytes through the accumulator
// contract (§4.5) against the multistream-select framing, returning
// leftover bytes once a non-handshake line has been consumed (indicating
// the next layer should take over) and whether it made progress. When the
// chunk that carried the final negotiation line also carried the start of
// the next layer's bytes, those are drained from the accumulator and
// returned as rest rather than left stranded in an accumulator the next
// layer never reads from again.
func (p *Pipeline) feedMultistream(d *direction, b []byte, next stage) ([]byte, bool) {
	needsBuffer := d.msAcc.Extend(multistream.DecodeSize, b)
	if !needsBuffer {
		msg, err := multistream.Decode(b)
		if err != nil {
			return nil, false
		}
		if multistream.IsHandshake(msg.Line) {
			return nil, false
		}
		// Fast path only fires when b is exactly one message, so there is
		// nothing left over to drain.
		d.stage = next
		return nil, true
	}

	msg := d.msAcc.Next(multistream.DecodeSize)
	if msg == nil {
		return nil, false
	}
	decoded, err := multistream.Decode(msg)
	if err != nil {
		return nil, false
	}
	if multistream.IsHandshake(decoded.Line) {
		return nil, false
	}
	d.stage = next
	return d.msAcc.Drain(), true
}

// feedNoise advances the Noise handshake tracker frame-by-frame until the
// transport phase begins; per §4.5 this implementation has no key material,
// so once transport starts the connection is marked opaque and every
// further byte is persisted raw without further parsing.
func (p *Pipeline) feedNoise(d *direction, b []byte) ([]byte, bool) {
	needsBuffer := d.muxAcc.Extend(noise.DecodeSize, b)
	var frame []byte
	if !needsBuffer {
		frame = b
	} else {
		frame = d.muxAcc.Next(noise.DecodeSize)
		if frame == nil {
			return nil, false
		}
	}

	if _, err := noise.Decode(frame); err != nil {
		p.log.Warn("noise: parse error, marking opaque", "conn", p.id)
		d.stage = stageOpaque
		return nil, true
	}

	st := d.noise.Advance()
	if st == noise.StageTransport {
		p.log.Info("noise: no session keys available, connection marked opaque", "conn", p.id)
		d.stage = stageOpaque
	}
	return nil, true
}

func (p *Pipeline) feedMux(incoming bool, b []byte) {
	switch p.muxKind {
	case muxMplex:
		p.feedMplex(incoming, b)
	case muxYamux:
		p.feedYamux(incoming, b)
	default:
		// Mux type is learned from the inner multistream-select negotiation
		// in a full implementation; tests and the replay path set it via
		// SetMuxKind before data flows.
	}
}

// SetMuxKind lets a caller that already knows the negotiated muxer (e.g. a
// replay harness fed a pre-negotiated session per §8 scenario 1) short-
// circuit straight to Mux framing.
func (p *Pipeline) SetMuxKind(mplex bool) {
	if mplex {
		p.muxKind = muxMplex
	} else {
		p.muxKind = muxYamux
	}
}

// ForceMuxStage lets a caller (tests, replay) skip directly to the Mux
// stage for one direction, bypassing PNet/MultistreamSelect/Noise — used to
// exercise the Mux/Protocol layers against pre-decrypted fixtures. This
// also disables PNet's own nonce-absorption step in OnData: fixture bytes
// are already plaintext mux frames, not a 24-byte nonce prefix followed by
// ciphertext, and must never be run through the cipher.
func (p *Pipeline) ForceMuxStage() {
	p.dirs[0].stage = stageMux
	p.dirs[1].stage = stageMux
	p.bypassPNet = true
}

func (p *Pipeline) feedMplex(incoming bool, b []byte) {
	d := &p.dirs[dirIndex(incoming)]
	needsBuffer := d.muxAcc.Extend(mux.MplexDecodeSize, b)
	var raw []byte
	if !needsBuffer {
		raw = b
	} else {
		raw = d.muxAcc.Next(mux.MplexDecodeSize)
		if raw == nil {
			return
		}
	}

	frame, err := mux.DecodeMplexFrame(raw)
	if err != nil {
		p.log.Warn("mplex: frame parse error", "conn", p.id, "err", err)
		return
	}
	key, _ := mux.CanonicalStream(frame, !incoming)
	streamKey := streamKeyString(p.id, key.StreamID, key.Initiator)
	p.feedStream(streamKey, incoming, frame.Body)
}

func (p *Pipeline) feedYamux(incoming bool, b []byte) {
	d := &p.dirs[dirIndex(incoming)]
	needsBuffer := d.muxAcc.Extend(mux.YamuxDecodeSize, b)
	var raw []byte
	if !needsBuffer {
		raw = b
	} else {
		raw = d.muxAcc.Next(mux.YamuxDecodeSize)
		if raw == nil {
			return
		}
	}

	frame, err := mux.DecodeYamuxFrame(raw)
	if err != nil {
		p.log.Warn("yamux: frame parse error", "conn", p.id, "err", err)
		return
	}
	if frame.Type != mux.YamuxData || frame.StreamID == 0 {
		return
	}
	openedByUs := mux.YamuxStreamOpenedByOutgoing(frame.StreamID, !incoming, p.yamux.weAreInitiator)
	streamKey := streamKeyString(p.id, uint64(frame.StreamID), openedByUs)
	p.feedStream(streamKey, incoming, frame.Body)
}

func streamKeyString(connID string, streamID uint64, initiator bool) string {
	dir := "fwd"
	if !initiator {
		dir = "bwd"
	}
	return connID + ":" + dir + ":" + itoa(streamID)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// feedStream runs one stream's bytes through its own multistream-select
// negotiation (the third one in §4.5's chain) before protocol dispatch. If
// the chunk carrying the negotiation line also carries the start of that
// stream's first protocol frame, the remainder is drained from the
// accumulator and re-fed now that the protocol name is known, rather than
// left stranded in an accumulator this stream never reads from again.
func (p *Pipeline) feedStream(streamKey string, incoming bool, body []byte) {
	if len(body) == 0 {
		return
	}
	name, known := p.streamProto[streamKey]
	if !known {
		acc, ok := p.streamAcc[streamKey]
		if !ok {
			acc = &mux.Accumulator{}
			p.streamAcc[streamKey] = acc
		}
		needsBuffer := acc.Extend(multistream.DecodeSize, body)
		var raw []byte
		if !needsBuffer {
			raw = body
		} else {
			raw = acc.Next(multistream.DecodeSize)
			if raw == nil {
				return
			}
		}
		msg, err := multistream.Decode(raw)
		if err != nil {
			return
		}
		if multistream.IsHandshake(msg.Line) {
			return
		}
		p.streamProto[streamKey] = protocol.Name(msg.Line)

		var rest []byte
		if needsBuffer {
			rest = acc.Drain()
		}
		if len(rest) > 0 {
			p.feedStream(streamKey, incoming, rest)
		}
		return
	}

	if p.dispatcher != nil {
		p.dispatcher.Dispatch(name, streamKey, body, time.Now(), p.addr, p.addr, incoming)
	}
}

// Close tears down the pipeline. There is no per-connection resource to
// release beyond in-memory state, but Close exists to satisfy
// registry.Pipeline and to mark the pipeline inert.
func (p *Pipeline) Close() {
	p.closed = true
}
