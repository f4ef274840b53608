package oauth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnknownClientKey is returned when symmetric signing is requested for a
// client that has no configured signing secret.
var ErrUnknownClientKey = errors.New("no signing key configured for client")

// TokenSignerFunc serializes a claim set as compact JSON and produces a
// compact JWS (header.payload.signature, base64url without padding). The
// strategy decides how to procure a key from the key store and the signing
// context. Signing is stateless and safe for concurrent use.
type TokenSignerFunc func(keys *SigningKeyStore, claims jwt.MapClaims, clientID string) (string, error)

// SecretKeySigner signs with the per-client HMAC-SHA512 secret.
var SecretKeySigner TokenSignerFunc = signWithClientSecret

// KeyPairSigner signs with the process-wide ECDSA P-521 private key.
var KeyPairSigner TokenSignerFunc = signWithKeyPair

// SignerForAlgorithm maps a configuration value to a signing strategy.
// Selection is a deployment choice per token type, not a per-request one.
func SignerForAlgorithm(name string) (TokenSignerFunc, error) {
	switch name {
	case "hmac", "HS512":
		return SecretKeySigner, nil
	case "ecdsa", "ES512":
		return KeyPairSigner, nil
	default:
		return nil, fmt.Errorf("unknown signing algorithm %q", name)
	}
}

func signWithClientSecret(keys *SigningKeyStore, claims jwt.MapClaims, clientID string) (string, error) {
	key, ok := keys.ClientSecret(clientID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownClientKey, clientID)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing token with client secret: %w", err)
	}
	return token, nil
}

func signWithKeyPair(keys *SigningKeyStore, claims jwt.MapClaims, _ string) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodES512, claims).SignedString(keys.KeyPair())
	if err != nil {
		return "", fmt.Errorf("signing token with key pair: %w", err)
	}
	return token, nil
}
