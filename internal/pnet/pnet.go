// Package pnet implements the pre-shared-network-id obfuscation layer (C5,
// §3 "PNet", §4.5): an XSalsa20 stream keyed by blake2b(seed string),
// absorbing a 24-byte nonce prefix per direction before decrypting inline.
package pnet

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/salsa20/salsa"
)

// nonceSize is the fixed XSalsa20 nonce length absorbed at the start of
// every direction's byte stream (§4.5).
const nonceSize = 24

// NetworkID is one of the small, hard-coded seeds of §6.
type NetworkID string

const (
	Mainnet  NetworkID = "mainnet"
	Devnet   NetworkID = "devnet"
	Berkeley NetworkID = "berkeley"
)

var seeds = map[NetworkID]string{
	Mainnet:  "/coda/0.0.1/5f704cc0c82e0ed70e873f0893d7e06f148524e3f0bdae2afb02e7819a0c24d1",
	Devnet:   "/coda/0.0.1/b6ee40d336f4cc3f33c1cc04dee7618eb8e556664c2b2d82ad4676b512a82418",
	Berkeley: "/coda/0.0.1/fb30d090bb37e8aa354114d8c794b0f7072648a67bd1a08613684ac6f7c86028",
}

// NetworkIDFromAlias selects a NetworkID from the prefix of a captured
// process alias before its first '-', defaulting to mainnet (§6).
func NetworkIDFromAlias(alias string) NetworkID {
	prefix := alias
	for i, c := range alias {
		if c == '-' {
			prefix = alias[:i]
			break
		}
	}
	switch NetworkID(prefix) {
	case Devnet:
		return Devnet
	case Berkeley:
		return Berkeley
	default:
		return Mainnet
	}
}

// SharedSecret derives the 32-byte XSalsa20 key as blake2b-32(seed string).
func SharedSecret(id NetworkID) ([32]byte, error) {
	seed, ok := seeds[id]
	if !ok {
		return [32]byte{}, fmt.Errorf("pnet: unknown network id %q", id)
	}
	var key [32]byte
	h, err := blake2b.New256(nil)
	if err != nil {
		return key, fmt.Errorf("pnet: blake2b: %w", err)
	}
	h.Write([]byte(seed))
	copy(key[:], h.Sum(nil))
	return key, nil
}

// cipher is a continuable XSalsa20 keystream: it buffers one 64-byte block
// at a time so callers can decrypt a byte stream across many short calls,
// mirroring the Rust XSalsa20 StreamCipher's internal state.
type cipher struct {
	key         [32]byte
	subNonce    [16]byte // low 8 bytes: XSalsa20 subnonce; high 8: block counter
	block       [64]byte
	blockFilled int // number of unused bytes remaining at the tail of block
}

func newCipher(key [32]byte, nonce [nonceSize]byte) *cipher {
	var subKey [32]byte
	var hNonce [16]byte
	copy(hNonce[:], nonce[:16])
	salsa.HSalsa20(&subKey, &hNonce, &key, &salsa.Sigma)

	c := &cipher{key: subKey}
	copy(c.subNonce[:8], nonce[16:24])
	return c
}

// applyKeystream decrypts (or encrypts — XSalsa20 is symmetric) b in place.
func (c *cipher) applyKeystream(b []byte) {
	for len(b) > 0 {
		if c.blockFilled == 0 {
			var zero [64]byte
			salsa.XORKeyStream(c.block[:], zero[:], &c.subNonce, &c.key)
			incrementCounter(&c.subNonce)
			c.blockFilled = 64
		}
		used := 64 - c.blockFilled
		n := len(b)
		if n > c.blockFilled {
			n = c.blockFilled
		}
		for i := 0; i < n; i++ {
			b[i] ^= c.block[used+i]
		}
		b = b[n:]
		c.blockFilled -= n
	}
}

func incrementCounter(subNonce *[16]byte) {
	for i := 8; i < 16; i++ {
		subNonce[i]++
		if subNonce[i] != 0 {
			break
		}
	}
}

// State is a per-connection PNet layer. It is per-direction: Decrypt is
// called independently for incoming and outgoing byte streams, each with
// its own 24-byte nonce prefix.
type State struct {
	key [32]byte

	in  direction
	out direction
}

type direction struct {
	cipher *cipher
	skip   bool
}

// New constructs a PNet layer keyed for the given network id.
func New(id NetworkID) (*State, error) {
	key, err := SharedSecret(id)
	if err != nil {
		return nil, err
	}
	return &State{key: key}, nil
}

// Decrypt consumes bytes observed on one direction of a connection. The
// first 24 bytes of that direction are absorbed as the nonce and never
// emitted; every subsequent byte is decrypted in place and returned. If the
// first inbound chunk is not exactly 24 bytes, the connection direction is
// marked "skip" and no further bytes are processed (§4.5): that call and
// every later one for the direction return (nil, false, false).
func (s *State) Decrypt(incoming bool, b []byte) (out []byte, haveNonce bool, ok bool) {
	dir := &s.out
	if incoming {
		dir = &s.in
	}

	if dir.skip {
		return nil, false, false
	}

	if dir.cipher != nil {
		dir.cipher.applyKeystream(b)
		return b, false, true
	}

	if len(b) != nonceSize {
		dir.skip = true
		return nil, false, false
	}

	var nonce [nonceSize]byte
	copy(nonce[:], b)
	dir.cipher = newCipher(s.key, nonce)
	return nil, true, true
}
