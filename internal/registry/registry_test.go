package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/mina-debugger/internal/event"
)

type fakePipeline struct {
	closed  bool
	data    [][]byte
	incoming []bool
}

func (p *fakePipeline) OnData(incoming bool, b []byte) {
	p.data = append(p.data, append([]byte(nil), b...))
	p.incoming = append(p.incoming, incoming)
}
func (p *fakePipeline) Close() { p.closed = true }

func newTestRegistry() (*Registry, map[ConnectionID]*fakePipeline) {
	pipelines := make(map[ConnectionID]*fakePipeline)
	factory := func(id ConnectionID, addr net.Addr, incoming bool) Pipeline {
		p := &fakePipeline{}
		pipelines[id] = p
		return p
	}
	return New(time.Unix(1000, 0), factory, nil), pipelines
}

func addr(port int) net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestAliasRecordedFromNewApp(t *testing.T) {
	r, _ := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 7, Variant: event.NewApp{Alias: "mainnet-abc"}})
	a, ok := r.Alias(7)
	require.True(t, ok)
	require.Equal(t, "mainnet-abc", a)
}

func TestAcceptEstablishesConnection(t *testing.T) {
	r, pipelines := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 7, FD: 9, Variant: event.IncomingConnection{Addr: addr(1111)}})

	c, ok := r.Connection(7, 9)
	require.True(t, ok)
	require.True(t, c.Incoming)
	require.Contains(t, pipelines, ConnectionID{7, 9})
}

func TestConnectWithEinprogressPromotesOnZeroGetSockOpt(t *testing.T) {
	r, _ := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 1, FD: 3, Variant: event.OutgoingConnection{Addr: addr(2222)}})
	_, ok := r.Connection(1, 3)
	require.False(t, ok, "connection must not exist before getsockopt confirms it")

	r.Apply(&event.SnifferEvent{PID: 1, FD: 3, Variant: event.GetSockOpt{Value: []byte{0, 0, 0, 0}}})
	c, ok := r.Connection(1, 3)
	require.True(t, ok)
	require.False(t, c.Incoming)
}

func TestConnectGetSockOptNonZeroDiscardsPending(t *testing.T) {
	r, _ := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 1, FD: 3, Variant: event.OutgoingConnection{Addr: addr(2222)}})
	r.Apply(&event.SnifferEvent{PID: 1, FD: 3, Variant: event.GetSockOpt{Value: []byte{0, 1, 0, 0}}})

	_, ok := r.Connection(1, 3)
	require.False(t, ok)
}

func TestFdReuseClosesOldConnectionFirst(t *testing.T) {
	r, pipelines := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 7, FD: 9, Variant: event.IncomingConnection{Addr: addr(1111)}})
	first := pipelines[ConnectionID{7, 9}]

	r.Apply(&event.SnifferEvent{PID: 7, FD: 9, Variant: event.IncomingData{Bytes: []byte("x")}})
	require.Len(t, first.data, 1)

	r.Apply(&event.SnifferEvent{PID: 7, FD: 9, Variant: event.Disconnected{}})
	r.Apply(&event.SnifferEvent{PID: 7, FD: 9, Variant: event.OutgoingConnection{Addr: addr(3333)}})
	r.Apply(&event.SnifferEvent{PID: 7, FD: 9, Variant: event.GetSockOpt{Value: []byte{0, 0, 0, 0}}})

	require.True(t, first.closed)
	c, ok := r.Connection(7, 9)
	require.True(t, ok)
	require.False(t, c.Incoming)
}

func TestDataForUnknownConnectionIsDropped(t *testing.T) {
	r, _ := newTestRegistry()
	require.NotPanics(t, func() {
		r.Apply(&event.SnifferEvent{PID: 99, FD: 5, Variant: event.IncomingData{Bytes: []byte("x")}})
	})
}

func TestDataRoutesToPipelineWithDirection(t *testing.T) {
	r, pipelines := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 1, FD: 4, Variant: event.IncomingConnection{Addr: addr(1)}})
	r.Apply(&event.SnifferEvent{PID: 1, FD: 4, Variant: event.IncomingData{Bytes: []byte("in")}})
	r.Apply(&event.SnifferEvent{PID: 1, FD: 4, Variant: event.OutgoingData{Bytes: []byte("out")}})

	p := pipelines[ConnectionID{1, 4}]
	require.Equal(t, [][]byte{[]byte("in"), []byte("out")}, p.data)
	require.Equal(t, []bool{true, false}, p.incoming)
}

func TestOutOfOrderTimestampsTrackedNotReordered(t *testing.T) {
	r, _ := newTestRegistry()
	tss := []uint64{100, 200, 150, 300}
	for _, ts := range tss {
		r.Apply(&event.SnifferEvent{PID: 1, TID: 42, Ts1: ts, Variant: event.Disconnected{}})
	}
	require.Equal(t, uint64(50), r.MaxUnordered(42))
}

func TestErrorOnReadWriteSynthesizesDisconnect(t *testing.T) {
	r, pipelines := newTestRegistry()
	r.Apply(&event.SnifferEvent{PID: 2, FD: 6, Variant: event.IncomingConnection{Addr: addr(1)}})
	r.Apply(&event.SnifferEvent{PID: 2, FD: 6, Variant: event.Error{DataTag: event.TagRead, Code: -5}})

	_, ok := r.Connection(2, 6)
	require.False(t, ok)
	require.True(t, pipelines[ConnectionID{2, 6}].closed)
}

func TestWallTimeUsesOrigin(t *testing.T) {
	r, _ := newTestRegistry()
	got := r.WallTime(uint64(5 * time.Second))
	require.Equal(t, time.Unix(1005, 0), got)
}
