package pipeline

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/mina-debugger/internal/protocol"
	"github.com/ocx/mina-debugger/internal/pnet"
)

type fakeStore struct {
	puts map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{puts: make(map[string][]byte)} }

func (s *fakeStore) Put(key string, value []byte) error {
	s.puts[key] = append([]byte(nil), value...)
	return nil
}

func addr(port int) net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port} }

func TestPNetNonceThenDataIsDecryptedAndPersisted(t *testing.T) {
	store := newFakeStore()
	p, err := New("conn1", addr(1), false, pnet.Mainnet, store, nil, nil)
	require.NoError(t, err)

	// Drive the real PNet contract: first 24 bytes of a direction are the
	// nonce (absorbed, no output), matching the sender's.
	nonce := make([]byte, 24)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	p.OnData(true, nonce)

	// Encrypt a plaintext the same way the peer would, using an
	// independent State sharing the nonce, so we can assert the pipeline
	// decrypts it back.
	sender, err := pnet.New(pnet.Mainnet)
	require.NoError(t, err)
	_, _, _ = sender.Decrypt(true, append([]byte(nil), nonce...))
	plaintext := []byte("some connection bytes that are not valid noise frames")
	ciphertext := append([]byte(nil), plaintext...)
	_, _, ok := sender.Decrypt(true, ciphertext)
	require.True(t, ok)

	p.OnData(true, ciphertext)

	var found []byte
	for k, v := range store.puts {
		if len(k) > len("conn1:in:") && k[:len("conn1:in:")] == "conn1:in:" {
			found = v
		}
	}
	require.Equal(t, plaintext, found)
}

func encodeMplexFrame(streamID uint64, tag uint8, body []byte) []byte {
	header := make([]byte, binary.MaxVarintLen64)
	hn := binary.PutUvarint(header, streamID<<3|uint64(tag))
	length := make([]byte, binary.MaxVarintLen64)
	ln := binary.PutUvarint(length, uint64(len(body)))
	out := append([]byte{}, header[:hn]...)
	out = append(out, length[:ln]...)
	return append(out, body...)
}

func encodeMultistreamLine(line string) []byte {
	payload := line + "\n"
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(payload)))
	return append(lenBuf[:n], payload...)
}

type fakeStoreDispatch struct{ puts map[string][]byte }

func (s *fakeStoreDispatch) Put(key string, value []byte) error {
	if s.puts == nil {
		s.puts = make(map[string][]byte)
	}
	s.puts[key] = append([]byte(nil), value...)
	return nil
}

func TestForcedMuxStageDispatchesMplexStreamToProtocol(t *testing.T) {
	store := &fakeStoreDispatch{}
	dispatcher := protocol.New(store, nil, nil, nil)

	p, err := New("conn2", addr(2), true, pnet.Mainnet, nil, dispatcher, nil)
	require.NoError(t, err)
	p.SetMuxKind(true)
	p.ForceMuxStage()

	// Stream 1, tag=0 (New), negotiating "/coda/node-status/1.0.0" via the
	// per-stream multistream-select, then one data frame.
	const mplexTagNew = 0
	const mplexTagMsgInitiator = 2

	p.OnData(true, encodeMplexFrame(1, mplexTagNew, encodeMultistreamLine("/coda/node-status/1.0.0")))
	p.OnData(true, encodeMplexFrame(1, mplexTagMsgInitiator, []byte("status-payload")))

	found := false
	for k, v := range store.puts {
		if string(v) == "status-payload" {
			found = true
			_ = k
		}
	}
	require.True(t, found, "expected the stream's data frame to reach the dispatcher and be persisted")
}

func TestFeedStreamDispatchesBytesTrailingNegotiationInSameMessage(t *testing.T) {
	store := &fakeStoreDispatch{}
	dispatcher := protocol.New(store, nil, nil, nil)

	p, err := New("conn3", addr(3), true, pnet.Mainnet, nil, dispatcher, nil)
	require.NoError(t, err)

	// A single demuxed message carries both the stream's negotiation line
	// and the start of its first protocol frame, the way a fast sender's
	// write can combine them. The leftover bytes past the negotiation line
	// must be drained from the accumulator and dispatched, not stranded in
	// an accumulator nothing reads from again.
	body := append(encodeMultistreamLine("/coda/node-status/1.0.0"), []byte("status-payload")...)
	p.feedStream("conn3:fwd:1", true, body)

	found := false
	for _, v := range store.puts {
		if string(v) == "status-payload" {
			found = true
		}
	}
	require.True(t, found, "expected bytes trailing the negotiation line in the same message to reach the dispatcher")
}

func TestFeedMultistreamDrainsLeftoverBytesOnStageTransition(t *testing.T) {
	p, err := New("conn4", addr(4), true, pnet.Mainnet, nil, nil, nil)
	require.NoError(t, err)

	d := &direction{}
	// The negotiation line arrives buffered (split across Extend calls), and
	// the same underlying read also carried the start of the next layer's
	// bytes appended right after it.
	line := encodeMultistreamLine("/some/protocol/1.0.0")
	next := []byte("next-layer-bytes")

	rest, advanced := p.feedMultistream(d, line[:1], stageMux)
	require.False(t, advanced)

	rest, advanced = p.feedMultistream(d, append(line[1:], next...), stageMux)
	require.True(t, advanced)
	require.Equal(t, stageMux, d.stage)
	require.Equal(t, next, rest, "leftover bytes past the negotiation line must be returned, not dropped")
}
