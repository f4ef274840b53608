package oauth

import (
	"crypto/ecdsa"
	"crypto/sha512"
	"errors"
	"fmt"
	"sync"

	"github.com/veupathdb/oauth-server/internal/crypto"
)

// ErrWeakKey is returned when a client signing secret is too short for the
// configured HMAC algorithm.
var ErrWeakKey = errors.New("client signing key is too weak")

// minimumSecretKeyBytes is the smallest raw secret accepted for HS512; the
// key must carry at least as many bits as the hash output.
const minimumSecretKeyBytes = sha512.Size

// SigningKeyStore owns the server's single asymmetric key pair plus the
// per-client symmetric signing secrets. The key pair is derived
// deterministically from the configured seed at startup and never changes
// for the life of the process.
type SigningKeyStore struct {
	keyPair *ecdsa.PrivateKey

	mu         sync.RWMutex
	clientKeys map[string][]byte
}

// NewSigningKeyStore generates the asymmetric key pair from the given seed.
// A seed below the minimum length fails with ErrWeakSeed from the key
// generator; this is a startup-time failure, never a request-time one.
func NewSigningKeyStore(seed string) (*SigningKeyStore, error) {
	keyPair, err := crypto.GenerateECKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &SigningKeyStore{
		keyPair:    keyPair,
		clientKeys: make(map[string][]byte),
	}, nil
}

// AddClientSecret validates and registers the symmetric signing key for a
// client. Secrets shorter than the HS512 minimum are rejected with
// ErrWeakKey and leave the store unchanged. Re-adding a client id replaces
// the previous key.
func (s *SigningKeyStore) AddClientSecret(clientID, rawSecret string) error {
	key := []byte(rawSecret)
	if len(key) < minimumSecretKeyBytes {
		return fmt.Errorf("%w: secret for client %q is %d bytes, HS512 requires at least %d",
			ErrWeakKey, clientID, len(key), minimumSecretKeyBytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientKeys[clientID] = key
	return nil
}

// KeyPair returns the process-wide asymmetric signing key pair.
func (s *SigningKeyStore) KeyPair() *ecdsa.PrivateKey {
	return s.keyPair
}

// PublicKey returns the verification half of the asymmetric key pair.
func (s *SigningKeyStore) PublicKey() *ecdsa.PublicKey {
	return &s.keyPair.PublicKey
}

// ClientSecret returns the symmetric signing key configured for a client,
// if any.
func (s *SigningKeyStore) ClientSecret(clientID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.clientKeys[clientID]
	return key, ok
}
