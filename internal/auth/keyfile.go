package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

const ephemeralKeyBits = 2048

// LoadFileKeyStore reads an RSA key pair from PEM files and returns a
// KeyStore over it. The two files must hold matching keys; loading an
// unrelated public key would mint tokens the validator rejects.
func LoadFileKeyStore(privateKeyPath, publicKeyPath string) (*StaticKeyStore, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", privateKeyPath, err)
	}

	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", publicKeyPath, err)
	}

	if !privateKey.PublicKey.Equal(publicKey) {
		return nil, fmt.Errorf("public key %s does not match private key %s", publicKeyPath, privateKeyPath)
	}

	kid, err := KeyID(publicKey)
	if err != nil {
		return nil, err
	}
	return NewStaticKeyStore(privateKey, kid), nil
}

// GenerateEphemeralKeyStore creates a KeyStore over a freshly generated
// RSA key pair. Used in local mode where no key files are configured;
// tokens minted against it die with the process.
func GenerateEphemeralKeyStore() (*StaticKeyStore, error) {
	key, err := rsa.GenerateKey(rand.Reader, ephemeralKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	kid, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return NewStaticKeyStore(key, kid), nil
}
