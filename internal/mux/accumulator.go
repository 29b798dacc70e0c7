// Package mux implements the shared byte-accumulator contract used by every
// framer in the system (§4.5 "Accumulator contract"), plus the mplex and
// yamux stream multiplexers built on top of it (C6/C7).
package mux

// DecodeSize attempts to decode the size of one complete message from the
// front of bytes. It returns (headerLen, bodyLen) — the size of the length
// prefix itself and the size of the body that follows it — or ok=false if
// bytes does not yet contain enough information to know the size.
type DecodeSize func(bytes []byte) (headerLen, bodyLen int, ok bool)

// Accumulator implements the fast-path-or-buffer contract shared by every
// framer: whole-message arrivals bypass the internal buffer entirely.
type Accumulator struct {
	pos int
	acc []byte
}

// Extend offers bytes to the accumulator. It returns false when bytes
// contains, by itself, exactly one complete message (the fast path — the
// caller should use bytes directly and the accumulator stays empty). It
// returns true when the bytes were appended to the internal buffer and the
// caller must drain messages via Next.
func (a *Accumulator) Extend(decodeSize DecodeSize, bytes []byte) bool {
	if len(a.acc) == 0 {
		if h, l, ok := decodeSize(bytes); ok && h+l == len(bytes) {
			return false
		}
	}
	a.acc = append(a.acc, bytes...)
	return true
}

func (a *Accumulator) dropBuffer() {
	a.acc = append([]byte(nil), a.acc[a.pos:]...)
	a.pos = 0
}

// Next returns the next complete message buffered, advancing the internal
// cursor, or nil if no complete message is available yet (compacting the
// buffer in that case).
func (a *Accumulator) Next(decodeSize DecodeSize) []byte {
	if len(a.acc) == 0 || len(a.acc) == a.pos {
		a.dropBuffer()
		return nil
	}

	bytes := a.acc[a.pos:]
	h, l, ok := decodeSize(bytes)
	if !ok {
		a.dropBuffer()
		return nil
	}

	if l >= 0 && l <= len(bytes)-h {
		newPos := len(a.acc) - len(bytes) + h + l
		if a.pos == newPos {
			a.dropBuffer()
			return nil
		}
		s := a.acc[a.pos:newPos]
		a.pos = newPos
		return s
	}

	a.dropBuffer()
	return nil
}

// Pos reports the current read cursor, exposed for tests only.
func (a *Accumulator) Pos() int { return a.pos }

// Drain returns any buffered bytes past the last message Next returned, and
// resets the accumulator to empty. Callers that are about to stop reading
// from this accumulator (e.g. a layer transition) must use this rather than
// discarding the accumulator outright, or trailing bytes belonging to the
// next layer are silently lost.
func (a *Accumulator) Drain() []byte {
	rest := append([]byte(nil), a.acc[a.pos:]...)
	a.acc = nil
	a.pos = 0
	if len(rest) == 0 {
		return nil
	}
	return rest
}
