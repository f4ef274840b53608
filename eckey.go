package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrKeyDecoding is returned when encoded public key material cannot be
// parsed back into a key. Callers must treat this as permanent, not
// retryable.
var ErrKeyDecoding = errors.New("unable to decode public key")

// ECCoordinates holds the affine coordinates of an EC public key, each
// left-zero-padded to the curve's field byte length and base64url-encoded
// without padding characters, matching the JSON Web Key convention.
type ECCoordinates struct {
	X string
	Y string
}

// EncodePublicKey serializes an EC public key as a single base64 string of
// its DER (SubjectPublicKeyInfo) encoding, suitable for distribution to
// token-verifying clients.
func EncodePublicKey(key *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshaling public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses a base64 DER string produced by EncodePublicKey.
func DecodePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecoding, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecoding, err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an EC key", ErrKeyDecoding)
	}
	return key, nil
}

// PublicKeyCoordinates converts a public key to its JWK-style coordinate
// strings. Coordinates shorter than the field byte length are left-padded
// with zero bytes so the encoding is bit-exact across keys.
func PublicKeyCoordinates(key *ecdsa.PublicKey) ECCoordinates {
	byteLen := (key.Curve.Params().BitSize + 7) / 8
	return ECCoordinates{
		X: encodeCoordinate(key.X, byteLen),
		Y: encodeCoordinate(key.Y, byteLen),
	}
}

// PublicKeyFromCoordinates reconstructs a public key from JWK-style
// coordinate strings on the given curve.
func PublicKeyFromCoordinates(x, y string, curve elliptic.Curve) (*ecdsa.PublicKey, error) {
	xInt, err := decodeCoordinate(x)
	if err != nil {
		return nil, err
	}
	yInt, err := decodeCoordinate(y)
	if err != nil {
		return nil, err
	}
	if !curve.IsOnCurve(xInt, yInt) {
		return nil, fmt.Errorf("%w: point is not on curve %s", ErrKeyDecoding, curve.Params().Name)
	}
	return &ecdsa.PublicKey{Curve: curve, X: xInt, Y: yInt}, nil
}

func encodeCoordinate(coord *big.Int, byteLen int) string {
	buf := make([]byte, byteLen)
	coord.FillBytes(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func decodeCoordinate(encoded string) (*big.Int, error) {
	// Tolerate padded input from encoders that keep the trailing '='.
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecoding, err)
	}
	return new(big.Int).SetBytes(raw), nil
}
