package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// MinimumSeedLength is the shortest seed accepted for key pair generation.
const MinimumSeedLength = 16

// ErrWeakSeed is returned when a key pair generation seed is too short.
var ErrWeakSeed = errors.New("key pair generation seed is too weak")

// GenerateECKeyFromSeed derives an ECDSA P-521 private key deterministically
// from the given seed. The same seed always yields the same key pair, which
// lets operators reconstruct previously issued signing keys and lets tests
// use stable fixtures. The scalar is drawn from an HKDF-SHA512 stream over
// the seed and reduced into [1, N-1].
func GenerateECKeyFromSeed(seed string) (*ecdsa.PrivateKey, error) {
	if len(seed) < MinimumSeedLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrWeakSeed, MinimumSeedLength)
	}

	curve := elliptic.P521()
	params := curve.Params()

	stream := hkdf.New(sha512.New, []byte(seed), nil, []byte("oauth-server es512 key pair"))

	// Read extra bytes beyond the order size so the modular reduction bias
	// is negligible.
	buf := make([]byte, (params.N.BitLen()+7)/8+16)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return nil, fmt.Errorf("reading key derivation stream: %w", err)
	}

	nMinusOne := new(big.Int).Sub(params.N, big.NewInt(1))
	d := new(big.Int).SetBytes(buf)
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())

	return key, nil
}
