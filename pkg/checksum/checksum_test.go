package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesReflexive(t *testing.T) {
	var c Checksum
	c.Add([]byte("hello"))
	c.Add([]byte("world"))
	assert.True(t, c.Matches(c))
}

func TestMatchesSymmetric(t *testing.T) {
	var a, b Checksum
	a.Add([]byte("same bytes"))
	b.Add([]byte("same bytes"))
	assert.True(t, a.Matches(b))
	assert.True(t, b.Matches(a))
}

func TestMatchesAcrossDifferentChunking(t *testing.T) {
	// CRC64 is a proper streaming checksum: the cumulative value after the
	// same total byte sequence is identical regardless of how the caller
	// split it into Add() calls.
	var a, b Checksum
	a.Add([]byte("ab"))
	a.Add([]byte("cd"))
	a.Add([]byte("ef"))

	b.Add([]byte("a"))
	b.Add([]byte("bcd"))
	b.Add([]byte("e"))
	b.Add([]byte("f"))

	assert.True(t, a.Matches(b))
}

func TestMatchesToleratesTrailingTruncation(t *testing.T) {
	// b stops one chunk short of a; the ring of 4 still holds the value at
	// the point both sides agree on.
	var a, b Checksum
	chunks := [][]byte{[]byte("p"), []byte("q"), []byte("r"), []byte("s")}
	for _, c := range chunks {
		a.Add(c)
		b.Add(c)
	}
	a.Add([]byte("extra-tail-the-other-side-never-saw"))

	assert.True(t, a.Matches(b))
}

func TestMismatch(t *testing.T) {
	var a, b Checksum
	a.Add([]byte("one"))
	b.Add([]byte("two"))
	assert.False(t, a.Matches(b))
}
