package port

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
)

// localClaims is the request-local key the authenticated token claims are
// stored under.
const localClaims = "gantry_claims"

// tokenValidator is a narrow, consumer-defined interface for API token
// verification. The *auth.Validator satisfies this.
type tokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// revocationChecker is a narrow, consumer-defined interface for the token
// denylist lookup the middleware requires.
type revocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthMiddleware authenticates API requests with bearer tokens.
type AuthMiddleware struct {
	validator   tokenValidator
	revocations revocationChecker
}

// NewAuthMiddleware creates an AuthMiddleware backed by the given validator
// and revocation store.
func NewAuthMiddleware(validator *auth.Validator, revocations app.RevocationStore) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, revocations: revocations}
}

// Authenticate verifies the request's bearer token and stores its claims for
// downstream handlers. Requests with revoked tokens are rejected, and a
// failed revocation lookup rejects too: unknowable state is unusable state.
func (m *AuthMiddleware) Authenticate(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return writeError(c, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized))
	}

	claims, err := m.validator.ValidateToken(token)
	if err != nil {
		return writeError(c, fmt.Errorf("invalid api token: %w", domain.ErrUnauthorized))
	}

	revoked, err := m.revocations.IsRevoked(c.Context(), claims.ID)
	if err != nil {
		return writeError(c, fmt.Errorf("check token revocation: %w", domain.ErrUnavailable))
	}
	if revoked {
		return writeError(c, fmt.Errorf("token %s: %w", claims.ID, domain.ErrTokenRevoked))
	}

	c.Locals(localClaims, claims)
	return c.Next()
}

// RequireScope rejects authenticated requests whose token scope does not
// permit the given scope. It must run after Authenticate.
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := ClaimsFromCtx(c)
		if claims == nil {
			return writeError(c, fmt.Errorf("missing auth claims: %w", domain.ErrUnauthorized))
		}
		if !auth.ScopePermits(claims.Scope, scope) {
			return writeError(c, fmt.Errorf("scope %q does not permit %q: %w", claims.Scope, scope, domain.ErrForbidden))
		}
		return c.Next()
	}
}

// ClaimsFromCtx returns the authenticated token claims, or nil when the
// request never passed Authenticate.
func ClaimsFromCtx(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(localClaims).(*auth.Claims)
	return claims
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
