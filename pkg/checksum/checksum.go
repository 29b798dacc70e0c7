// Package checksum implements the per-direction rolling checksum used to
// confirm two independent observers saw the same bytes (§3): a ring of the
// last N CRC64 values, plus byte and chunk counts. Two checksums match if
// any of the N values on one side equals any on the other.
package checksum

import "hash/crc64"

// ringSize is N from §3: tolerate small truncations at connection endpoints.
const ringSize = 4

var table = crc64.MakeTable(crc64.ISO)

// Checksum is a rolling window of the last ringSize CRC64 values computed
// over successive byte slices, plus running totals.
type Checksum struct {
	pos   int
	ring  [ringSize]uint64
	Bytes uint64
	Count uint64

	dump   bool
	dumped []byte
}

// EnableDump turns on raw-byte accumulation for debugging checksum
// mismatches. It is opt-in per Checksum; no environment variable turns it on.
func (c *Checksum) EnableDump() { c.dump = true }

// Dump returns the raw bytes accumulated so far, or nil if EnableDump was
// never called.
func (c *Checksum) Dump() []byte { return c.dumped }

// Add folds data into the rolling window: a new CRC64 is computed seeded
// from the previous ring slot, replacing the oldest entry.
func (c *Checksum) Add(data []byte) {
	next := (c.pos + 1) % ringSize
	c.ring[next] = crc64.Update(c.ring[c.pos], table, data)
	c.pos = next
	c.Bytes += uint64(len(data))
	c.Count++
	if c.dump {
		c.dumped = append(c.dumped, data...)
	}
}

// Matches reports whether any of the ring values Add has written on c
// equals any written on other — the equality predicate for "did both
// observers see the same bytes" (§3, §8). Slots not yet written are
// ignored, so it is symmetric, and reflexive for any checksum that has seen
// at least one Add; a checksum with no data matches nothing.
func (c Checksum) Matches(other Checksum) bool {
	for _, l := range c.filled() {
		for _, r := range other.filled() {
			if l == r {
				return true
			}
		}
	}
	return false
}

// filled returns the ring slots Add has written. Add writes slot 1 first, so
// slot 0 holds only the zero initial value until the ring wraps.
func (c Checksum) filled() []uint64 {
	if c.Count >= ringSize {
		return c.ring[:]
	}
	return c.ring[1 : c.Count+1]
}

// Pair is the (incoming, outgoing) checksum pair for one connection
// direction, as recorded by two independent observers.
type Pair struct {
	Incoming Checksum
	Outgoing Checksum
}

// Matches reports whether the two pairs are consistent when compared
// cross-wise: this side's incoming against the other's outgoing and vice
// versa (a producer's "outgoing" is a consumer's "incoming").
func (p Pair) Matches(other Pair) bool {
	return p.Incoming.Matches(other.Outgoing) && p.Outgoing.Matches(other.Incoming)
}

// BytesTotal is the sum of bytes seen in both directions.
func (p Pair) BytesTotal() uint64 {
	return p.Incoming.Bytes + p.Outgoing.Bytes
}
