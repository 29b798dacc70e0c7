// Package aggregator computes per-(height, peer) gossip-block latency
// statistics (§4.7): first sight of a block hash starts a timer, later
// IHAVE mentions of the same hash close it into a Latency record. State for
// heights left behind by a height gap is flushed to bound memory.
package aggregator

import (
	"net"
	"time"
)

// Hash is the 32-byte blake2b MAC keyed by topic name that identifies one
// gossiped block payload (§4.7 step 1).
type Hash [32]byte

type firstSight struct {
	Time       time.Time
	ProducerID string
	Height     uint64
}

// Latency is emitted once a hash already seen is mentioned again, typically
// via an IHAVE control frame from a different peer.
type Latency struct {
	Height     uint64
	ProducerID string
	Hash       Hash
	Latency    time.Duration
	Sender     net.Addr
	Receiver   net.Addr
	Incoming   bool
}

// Aggregator tracks in-flight block hashes. It is not safe for concurrent
// use; like the registry, it is driven single-threaded from the reader loop.
type Aggregator struct {
	seen          map[Hash]firstSight
	currentHeight uint64
	onFlush       func(Hash)
}

// New constructs an empty Aggregator. onFlush, if non-nil, is called once
// per hash dropped by Flush (for logging/metrics); it may be nil.
func New(onFlush func(Hash)) *Aggregator {
	return &Aggregator{seen: make(map[Hash]firstSight), onFlush: onFlush}
}

// Observe records a new-state gossip payload's first sighting at the given
// height, unless that hash is already known (§4.7 step 2).
func (a *Aggregator) Observe(h Hash, at time.Time, producerID string, height uint64) {
	if _, ok := a.seen[h]; ok {
		return
	}
	a.seen[h] = firstSight{Time: at, ProducerID: producerID, Height: height}
	if height > a.currentHeight {
		a.currentHeight = height
	}
}

// Mention records an IHAVE (or any repeat) sighting of h and, if h was
// previously observed, returns the resulting Latency record (§4.7 step 3-4).
func (a *Aggregator) Mention(h Hash, at time.Time, sender, receiver net.Addr, incoming bool) (Latency, bool) {
	fs, ok := a.seen[h]
	if !ok {
		return Latency{}, false
	}
	return Latency{
		Height:     fs.Height,
		ProducerID: fs.ProducerID,
		Hash:       h,
		Latency:    at.Sub(fs.Time),
		Sender:     sender,
		Receiver:   receiver,
		Incoming:   incoming,
	}, true
}

// Flush drops every tracked hash whose height is at or below the current
// height (the highest height passed to Observe or Flush so far) whenever a
// new height leaves more than a one-block gap
// behind it, preventing unbounded growth (§4.7 "State for obsolete heights
// is flushed when a new height > current + 1 is observed").
func (a *Aggregator) Flush(newHeight uint64) {
	if newHeight <= a.currentHeight+1 {
		if newHeight > a.currentHeight {
			a.currentHeight = newHeight
		}
		return
	}
	for h, fs := range a.seen {
		if fs.Height <= a.currentHeight {
			delete(a.seen, h)
			if a.onFlush != nil {
				a.onFlush(h)
			}
		}
	}
	a.currentHeight = newHeight
}

// Len reports how many hashes are currently tracked, for tests and metrics.
func (a *Aggregator) Len() int { return len(a.seen) }
