package port

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/domain"
)

func TestCreateToken(t *testing.T) {
	h := newPortHarness(t)

	var gotSubject, gotScope string
	h.tokens.mintFn = func(_ context.Context, subject, scope string) (*auth.MintResult, error) {
		gotSubject, gotScope = subject, scope
		return &auth.MintResult{
			Token:     "signed-token",
			JTI:       deployID2,
			ExpiresAt: testStart.Add(domain.APITokenLifetime),
		}, nil
	}

	req := jsonRequest(t, http.MethodPost, "/api/v1/tokens", map[string]string{
		"subject": "ci@example.com",
		"scope":   "deploy",
	})
	resp := h.do(req, h.adminToken)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ci@example.com", gotSubject)
	assert.Equal(t, "deploy", gotScope)

	body := decodeBody[mintResponse](t, resp)
	assert.Equal(t, "signed-token", body.Token)
	assert.Equal(t, deployID2, body.JTI)
	assert.Equal(t, testStart.Add(domain.APITokenLifetime).Format(time.RFC3339), body.ExpiresAt)
}

func TestCreateToken_InvalidScope(t *testing.T) {
	h := newPortHarness(t)

	h.tokens.mintFn = func(context.Context, string, string) (*auth.MintResult, error) {
		return nil, fmt.Errorf(`unknown token scope "superuser": %w`, domain.ErrInvalidInput)
	}

	req := jsonRequest(t, http.MethodPost, "/api/v1/tokens", map[string]string{
		"subject": "ci@example.com",
		"scope":   "superuser",
	})
	resp := h.do(req, h.adminToken)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, resp).Code)
}

func TestRevokeToken(t *testing.T) {
	h := newPortHarness(t)

	var gotJTI string
	h.tokens.revokeFn = func(_ context.Context, jti string) error {
		gotJTI = jti
		return nil
	}

	resp := h.do(httptest.NewRequest(http.MethodDelete, "/api/v1/tokens/"+deployID2, nil), h.adminToken)

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, deployID2, gotJTI)
}

func TestRevokeToken_MalformedJTI(t *testing.T) {
	h := newPortHarness(t)

	h.tokens.revokeFn = func(_ context.Context, jti string) error {
		return fmt.Errorf("token id %q: %w", jti, domain.ErrInvalidID)
	}

	resp := h.do(httptest.NewRequest(http.MethodDelete, "/api/v1/tokens/not-a-uuid", nil), h.adminToken)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, resp).Code)
}

func TestRevokeToken_RequiresAdminScope(t *testing.T) {
	h := newPortHarness(t)

	var called bool
	h.tokens.revokeFn = func(context.Context, string) error {
		called = true
		return nil
	}

	resp := h.do(httptest.NewRequest(http.MethodDelete, "/api/v1/tokens/"+deployID2, nil), h.deployToken)

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, called)
}
