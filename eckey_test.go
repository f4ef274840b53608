package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestEncodeDecodePublicKey(t *testing.T) {
	key := testKey(t)

	encoded, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(decoded))
}

func TestDecodePublicKeyGarbage(t *testing.T) {
	_, err := DecodePublicKey("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrKeyDecoding)

	// Valid base64 that is not DER.
	_, err = DecodePublicKey("aGVsbG8gd29ybGQ=")
	assert.ErrorIs(t, err, ErrKeyDecoding)
}

func TestPublicKeyCoordinatesRoundTrip(t *testing.T) {
	key := testKey(t)

	coords := PublicKeyCoordinates(&key.PublicKey)
	restored, err := PublicKeyFromCoordinates(coords.X, coords.Y, elliptic.P521())
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(restored))
}

func TestPublicKeyCoordinatesFixedWidth(t *testing.T) {
	// Coordinate encoding must be left-zero-padded to the curve's full
	// byte width so verifiers that require fixed-length values accept it.
	// P-521 coordinates occupy 66 bytes, which is 88 base64 characters.
	for i := 0; i < 25; i++ {
		key := testKey(t)
		coords := PublicKeyCoordinates(&key.PublicKey)
		assert.Len(t, coords.X, 88)
		assert.Len(t, coords.Y, 88)
		assert.False(t, strings.ContainsAny(coords.X, "=+/"))
		assert.False(t, strings.ContainsAny(coords.Y, "=+/"))
	}
}

func TestPublicKeyFromCoordinatesAcceptsPadding(t *testing.T) {
	key := testKey(t)
	coords := PublicKeyCoordinates(&key.PublicKey)

	restored, err := PublicKeyFromCoordinates(coords.X+"==", coords.Y+"==", elliptic.P521())
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(restored))
}

func TestPublicKeyFromCoordinatesRejectsOffCurve(t *testing.T) {
	key := testKey(t)
	coords := PublicKeyCoordinates(&key.PublicKey)

	_, err := PublicKeyFromCoordinates(coords.X, coords.X, elliptic.P521())
	assert.ErrorIs(t, err, ErrKeyDecoding)
}
