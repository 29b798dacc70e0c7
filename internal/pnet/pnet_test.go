package pnet

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkIDFromAlias(t *testing.T) {
	require.Equal(t, Mainnet, NetworkIDFromAlias("mainnet-123"))
	require.Equal(t, Devnet, NetworkIDFromAlias("devnet-456"))
	require.Equal(t, Berkeley, NetworkIDFromAlias("berkeley-789"))
	require.Equal(t, Mainnet, NetworkIDFromAlias("unknown-alias"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := SharedSecret(Mainnet)
	require.NoError(t, err)

	var nonce [nonceSize]byte
	_, err = rand.Read(nonce[:])
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 10)

	encCipher := newCipher(key, nonce)
	ciphertext := append([]byte(nil), plaintext...)
	encCipher.applyKeystream(ciphertext)
	require.NotEqual(t, plaintext, ciphertext)

	decCipher := newCipher(key, nonce)
	decoded := append([]byte(nil), ciphertext...)
	decCipher.applyKeystream(decoded)
	require.Equal(t, plaintext, decoded)
}

func TestStateDecryptAbsorbsNonceThenDecrypts(t *testing.T) {
	st, err := New(Mainnet)
	require.NoError(t, err)

	var nonce [nonceSize]byte
	_, err = rand.Read(nonce[:])
	require.NoError(t, err)

	out, haveNonce, ok := st.Decrypt(true, append([]byte(nil), nonce[:]...))
	require.True(t, ok)
	require.True(t, haveNonce)
	require.Nil(t, out)

	plaintext := []byte("hello pnet")
	sender, err := New(Mainnet)
	require.NoError(t, err)
	_, _, _ = sender.Decrypt(true, append([]byte(nil), nonce[:]...))
	ciphertext := append([]byte(nil), plaintext...)
	encrypted, _, ok := sender.Decrypt(true, ciphertext)
	require.True(t, ok)

	decrypted, haveNonce2, ok2 := st.Decrypt(true, append([]byte(nil), encrypted...))
	require.True(t, ok2)
	require.False(t, haveNonce2)
	require.Equal(t, plaintext, decrypted)
}

func TestStateSkipsOnShortFirstChunk(t *testing.T) {
	st, err := New(Mainnet)
	require.NoError(t, err)

	_, _, ok := st.Decrypt(true, []byte("too short"))
	require.False(t, ok)

	_, _, ok = st.Decrypt(true, []byte("more data after skip"))
	require.False(t, ok)
}
