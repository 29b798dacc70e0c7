package aggregator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addr(port int) net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port} }

func TestMentionAfterObserveProducesLatency(t *testing.T) {
	a := New(nil)
	var h Hash
	h[0] = 1
	t0 := time.Unix(1000, 0)
	a.Observe(h, t0, "producer-a", 42)

	lat, ok := a.Mention(h, t0.Add(3*time.Second), addr(1), addr(2), true)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, lat.Latency)
	require.Equal(t, uint64(42), lat.Height)
	require.Equal(t, "producer-a", lat.ProducerID)
}

func TestMentionWithoutObserveIsNoOp(t *testing.T) {
	a := New(nil)
	var h Hash
	_, ok := a.Mention(h, time.Now(), nil, nil, false)
	require.False(t, ok)
}

func TestObserveIgnoresRepeat(t *testing.T) {
	a := New(nil)
	var h Hash
	h[0] = 9
	t0 := time.Unix(2000, 0)
	a.Observe(h, t0, "first", 10)
	a.Observe(h, t0.Add(time.Minute), "second", 10)

	lat, ok := a.Mention(h, t0.Add(2*time.Minute), nil, nil, false)
	require.True(t, ok)
	require.Equal(t, "first", lat.ProducerID)
}

func TestFlushDropsOlderHeightsOnGap(t *testing.T) {
	flushed := 0
	a := New(func(Hash) { flushed++ })

	var h1, h2 Hash
	h1[0], h2[0] = 1, 2
	a.Observe(h1, time.Now(), "p1", 100)
	a.Observe(h2, time.Now(), "p2", 101)

	a.Flush(102) // consecutive, no flush
	require.Equal(t, 2, a.Len())

	a.Flush(105) // gap: drops everything at or below currentHeight (102)
	require.Equal(t, 0, a.Len())
	require.Equal(t, 2, flushed)
}

func TestFlushNoGapKeepsState(t *testing.T) {
	a := New(nil)
	var h Hash
	a.Observe(h, time.Now(), "p", 5)
	a.Flush(6)
	require.Equal(t, 1, a.Len())
}
