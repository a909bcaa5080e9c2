package port

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
)

// tokenService is a narrow, consumer-defined interface for the token
// operations the handler requires. The *app.TokenService satisfies this.
type tokenService interface {
	Mint(ctx context.Context, subject, scope string) (*auth.MintResult, error)
	Revoke(ctx context.Context, jti string) error
}

// TokenHandler implements the API token HTTP endpoints. Both require the
// admin scope.
type TokenHandler struct {
	svc tokenService
}

// NewTokenHandler creates a TokenHandler backed by the given TokenService.
func NewTokenHandler(svc *app.TokenService) *TokenHandler {
	return &TokenHandler{svc: svc}
}

// mintRequest is the JSON body of a token mint call.
type mintRequest struct {
	Subject string `json:"subject"`
	Scope   string `json:"scope"`
}

// mintResponse carries the one-time view of a freshly minted token.
type mintResponse struct {
	Token     string `json:"token"`
	JTI       string `json:"jti"`
	ExpiresAt string `json:"expires_at"`
}

// Create mints a new API token for the given subject and scope.
func (h *TokenHandler) Create(c *fiber.Ctx) error {
	var body mintRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fmt.Errorf("parse mint request: %w", domain.ErrInvalidInput))
	}

	result, err := h.svc.Mint(c.Context(), body.Subject, body.Scope)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(mintResponse{
		Token:     result.Token,
		JTI:       result.JTI,
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Revoke invalidates the token with the JTI in the path. Outstanding copies
// are refused from the next request on.
func (h *TokenHandler) Revoke(c *fiber.Ctx) error {
	if err := h.svc.Revoke(c.Context(), c.Params("jti")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
