package auth

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sync"
)

// KeyStore provides access to token signing and verification keys.
// The daemon loads a PEM key pair from disk in production and generates
// an ephemeral pair in local mode; both are held in memory for the
// lifetime of the process.
type KeyStore interface {
	// SigningKey returns the current private signing key and its key ID.
	SigningKey() (*rsa.PrivateKey, string, error)

	// PublicKey returns the public key for the given key ID.
	PublicKey(kid string) (*rsa.PublicKey, error)
}

// StaticKeyStore is a KeyStore backed by in-memory keys.
type StaticKeyStore struct {
	mu         sync.RWMutex
	privateKey *rsa.PrivateKey
	keyID      string
	publicKeys map[string]*rsa.PublicKey
}

// NewStaticKeyStore creates a StaticKeyStore with a single key pair.
func NewStaticKeyStore(privateKey *rsa.PrivateKey, keyID string) *StaticKeyStore {
	return &StaticKeyStore{
		privateKey: privateKey,
		keyID:      keyID,
		publicKeys: map[string]*rsa.PublicKey{
			keyID: &privateKey.PublicKey,
		},
	}
}

// SigningKey returns the private signing key and its key ID.
func (s *StaticKeyStore) SigningKey() (*rsa.PrivateKey, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.privateKey == nil {
		return nil, "", fmt.Errorf("no signing key available")
	}
	return s.privateKey, s.keyID, nil
}

// PublicKey returns the public key for the given key ID.
func (s *StaticKeyStore) PublicKey(kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pk, ok := s.publicKeys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key ID %q", kid)
	}
	return pk, nil
}

// AddPublicKey adds a public key. Tokens signed by a previous key remain
// verifiable after rotation as long as the old public key stays registered.
func (s *StaticKeyStore) AddPublicKey(kid string, key *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicKeys[kid] = key
}

// KeyID derives a stable key ID from a public key: the first 16 hex chars
// of the SHA-256 digest of its PKIX encoding. A restarted daemon loading
// the same key pair produces the same kid, so previously minted tokens
// keep validating.
func KeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16], nil
}
