package auth

import "github.com/golang-jwt/jwt/v5"

// Token scopes. Admin permits every operation deploy does, plus token
// management and app deletion.
const (
	ScopeDeploy = "deploy"
	ScopeAdmin  = "admin"
)

// IsValidScope reports whether s is a recognized token scope.
func IsValidScope(s string) bool {
	return s == ScopeDeploy || s == ScopeAdmin
}

// ScopePermits reports whether a token granted scope may perform an
// operation that requires the required scope.
func ScopePermits(granted, required string) bool {
	if granted == ScopeAdmin {
		return IsValidScope(required)
	}
	return granted == required
}

// Claims represents the JWT claims carried by API tokens. Subject is the
// operator name the token was minted for; ID (jti) is the revocation handle.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}
