package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gantryhq/gantry/internal/domain"
)

// MintResult holds the result of minting an API token.
type MintResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Minter creates signed RS256 API tokens.
type Minter struct {
	keyStore KeyStore
	tokenTTL time.Duration
	issuer   string
	audience string
	clock    domain.Clock
}

// MinterConfig holds configuration for creating a Minter.
type MinterConfig struct {
	KeyStore KeyStore
	TokenTTL time.Duration
	Issuer   string
	Audience string
	Clock    domain.Clock
}

// NewMinter creates a new token minter.
func NewMinter(cfg MinterConfig) *Minter {
	return &Minter{
		keyStore: cfg.KeyStore,
		tokenTTL: cfg.TokenTTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		clock:    cfg.Clock,
	}
}

// MintAPIToken creates a signed RS256 API token for the given operator
// and scope. Returns the signed token string, JTI, and expiration. The
// JTI is what revocation later targets, so callers should record it.
func (m *Minter) MintAPIToken(subject, scope string) (MintResult, error) {
	if subject == "" {
		return MintResult{}, fmt.Errorf("token subject required: %w", domain.ErrInvalidInput)
	}
	if !IsValidScope(scope) {
		return MintResult{}, fmt.Errorf("unknown scope %q: %w", scope, domain.ErrInvalidInput)
	}

	privateKey, keyID, err := m.keyStore.SigningKey()
	if err != nil {
		return MintResult{}, fmt.Errorf("get signing key: %w", err)
	}

	now := m.clock.Now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(m.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(privateKey)
	if err != nil {
		return MintResult{}, fmt.Errorf("sign api token: %w", err)
	}

	return MintResult{
		Token:     signed,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}
