package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/domain/domaintest"
)

func newTestMinterAndValidator(t *testing.T) (*auth.Minter, *auth.Validator, *auth.StaticKeyStore, *domaintest.FakeClock) {
	t.Helper()
	key := generateTestKey(t)
	keyID := "test-key-001"
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	clock := domaintest.NewFakeClock(start)
	keyStore := auth.NewStaticKeyStore(key, keyID)

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: keyStore,
		TokenTTL: 30 * 24 * time.Hour,
		Issuer:   "gantryd",
		Audience: "gantry-api",
		Clock:    clock,
	})

	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   "gantryd",
		Audience: "gantry-api",
		Clock:    clock,
	})

	return minter, validator, keyStore, clock
}

func TestValidateToken(t *testing.T) {
	minter, validator, keyStore, clock := newTestMinterAndValidator(t)
	start := clock.Now()

	t.Run("valid token succeeds", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		claims, err := validator.ValidateToken(result.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.Equal(t, auth.ScopeDeploy, claims.Scope)
		assert.Equal(t, result.JTI, claims.ID)
	})

	t.Run("expired token fails", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		clock.Advance(31 * 24 * time.Hour)
		_, err = validator.ValidateToken(result.Token)
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrTokenExpired))
		clock.Set(start)
	})

	t.Run("token valid at TTL minus one second", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		clock.Advance(30*24*time.Hour - time.Second)
		claims, err := validator.ValidateToken(result.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		clock.Set(start)
	})

	t.Run("token expired at TTL plus one second", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		clock.Advance(30*24*time.Hour + time.Second)
		_, err = validator.ValidateToken(result.Token)
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrTokenExpired))
		clock.Set(start)
	})

	t.Run("wrong issuer fails", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		wrongIssuer := auth.NewValidator(auth.ValidatorConfig{
			KeyStore: keyStore,
			Issuer:   "wrong-issuer",
			Audience: "gantry-api",
			Clock:    clock,
		})

		_, err = wrongIssuer.ValidateToken(result.Token)
		assert.Error(t, err)
	})

	t.Run("wrong audience fails", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		wrongAud := auth.NewValidator(auth.ValidatorConfig{
			KeyStore: keyStore,
			Issuer:   "gantryd",
			Audience: "wrong-audience",
			Clock:    clock,
		})

		_, err = wrongAud.ValidateToken(result.Token)
		assert.Error(t, err)
	})

	t.Run("unknown kid fails", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		otherKey := generateTestKey(t)
		otherStore := auth.NewStaticKeyStore(otherKey, "other-key")
		wrongKidValidator := auth.NewValidator(auth.ValidatorConfig{
			KeyStore: otherStore,
			Issuer:   "gantryd",
			Audience: "gantry-api",
			Clock:    clock,
		})

		_, err = wrongKidValidator.ValidateToken(result.Token)
		assert.Error(t, err)
	})

	t.Run("rotated key validates via registered public key", func(t *testing.T) {
		clock.Set(start)
		oldKey := generateTestKey(t)
		oldStore := auth.NewStaticKeyStore(oldKey, "old-key")
		oldMinter := auth.NewMinter(auth.MinterConfig{
			KeyStore: oldStore,
			TokenTTL: 30 * 24 * time.Hour,
			Issuer:   "gantryd",
			Audience: "gantry-api",
			Clock:    clock,
		})
		result, err := oldMinter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		// New store signs with a new key but still knows the old public key.
		newKey := generateTestKey(t)
		newStore := auth.NewStaticKeyStore(newKey, "new-key")
		newStore.AddPublicKey("old-key", &oldKey.PublicKey)
		v := auth.NewValidator(auth.ValidatorConfig{
			KeyStore: newStore,
			Issuer:   "gantryd",
			Audience: "gantry-api",
			Clock:    clock,
		})

		claims, err := v.ValidateToken(result.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
	})

	t.Run("tampered token fails", func(t *testing.T) {
		clock.Set(start)
		result, err := minter.MintAPIToken("alice", auth.ScopeDeploy)
		require.NoError(t, err)

		tampered := result.Token[:len(result.Token)-5] + "XXXXX"
		_, err = validator.ValidateToken(tampered)
		assert.Error(t, err)
	})

	t.Run("token missing scope claim is rejected", func(t *testing.T) {
		clock.Set(start)
		signed := signRawToken(t, keyStore, jwt.MapClaims{
			"sub": "alice",
			"iss": "gantryd",
			"aud": "gantry-api",
			"iat": clock.Now().Unix(),
			"exp": clock.Now().Add(time.Hour).Unix(),
			"jti": "test-jti",
			// no "scope"
		})

		_, err := validator.ValidateToken(signed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "scope")
	})

	t.Run("token missing jti claim is rejected", func(t *testing.T) {
		clock.Set(start)
		signed := signRawToken(t, keyStore, jwt.MapClaims{
			"sub":   "alice",
			"iss":   "gantryd",
			"aud":   "gantry-api",
			"iat":   clock.Now().Unix(),
			"exp":   clock.Now().Add(time.Hour).Unix(),
			"scope": auth.ScopeDeploy,
			// no "jti"
		})

		_, err := validator.ValidateToken(signed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "jti")
	})

	t.Run("token missing sub claim is rejected", func(t *testing.T) {
		clock.Set(start)
		signed := signRawToken(t, keyStore, jwt.MapClaims{
			"iss":   "gantryd",
			"aud":   "gantry-api",
			"iat":   clock.Now().Unix(),
			"exp":   clock.Now().Add(time.Hour).Unix(),
			"jti":   "test-jti",
			"scope": auth.ScopeDeploy,
			// no "sub"
		})

		_, err := validator.ValidateToken(signed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "sub")
	})

	t.Run("non-RSA signing method is rejected", func(t *testing.T) {
		clock.Set(start)
		hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   "alice",
			"iss":   "gantryd",
			"aud":   "gantry-api",
			"iat":   clock.Now().Unix(),
			"exp":   clock.Now().Add(time.Hour).Unix(),
			"jti":   "test-jti",
			"scope": auth.ScopeDeploy,
		})
		hmacToken.Header["kid"] = "test-key-001"
		signed, err := hmacToken.SignedString([]byte("hmac-secret"))
		require.NoError(t, err)

		_, err = validator.ValidateToken(signed)
		assert.Error(t, err)
	})
}

// signRawToken signs arbitrary claims with the store's current key so tests
// can build tokens the Minter refuses to produce.
func signRawToken(t *testing.T, keyStore *auth.StaticKeyStore, claims jwt.MapClaims) string {
	t.Helper()
	key, kid, err := keyStore.SigningKey()
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}
