package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gantryhq/gantry/internal/domain"
)

// ErrTokenExpired is returned when a validly signed token has expired.
// Callers can use errors.Is to check for this condition without importing
// the JWT library directly.
var ErrTokenExpired = jwt.ErrTokenExpired

// Validator validates API tokens presented to the control-plane API.
type Validator struct {
	keyStore KeyStore
	issuer   string
	audience string
	clock    domain.Clock
}

// ValidatorConfig holds configuration for creating a Validator.
type ValidatorConfig struct {
	KeyStore KeyStore
	Issuer   string
	Audience string
	Clock    domain.Clock
}

// NewValidator creates a new token validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{
		keyStore: cfg.KeyStore,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		clock:    cfg.Clock,
	}
}

// ValidateToken parses and fully validates an API token. It checks the
// signature against the key named by the kid header, the issuer, audience,
// algorithm, and expiry, and requires the claims the deploy pipeline relies
// on (sub, jti, scope). Revocation is checked separately by the caller.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}

	if _, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, opts...); err != nil {
		return nil, fmt.Errorf("invalid api token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub claim: %w", domain.ErrUnauthorized)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("missing jti claim: %w", domain.ErrUnauthorized)
	}
	if !IsValidScope(claims.Scope) {
		return nil, fmt.Errorf("unknown scope %q: %w", claims.Scope, domain.ErrUnauthorized)
	}

	return &claims, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("missing or invalid kid in token header")
	}

	return v.keyStore.PublicKey(kid)
}
