package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Token is a freshly minted API token. The signed token string is only ever
// returned here; the daemon keeps just the JTI.
type Token struct {
	Token     string `json:"token"`
	JTI       string `json:"jti"`
	ExpiresAt string `json:"expires_at"`
}

// CreateToken mints an API token for subject with the given scope.
// Requires a token with the admin scope.
func (c *Client) CreateToken(ctx context.Context, subject, scope string) (*Token, error) {
	body, err := json.Marshal(map[string]string{"subject": subject, "scope": scope})
	if err != nil {
		return nil, fmt.Errorf("encode mint request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/tokens", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tok Token
	if err := c.doJSON(req, http.StatusCreated, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// RevokeToken invalidates the token with the given JTI. Requires a token
// with the admin scope.
func (c *Client) RevokeToken(ctx context.Context, jti string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/tokens/"+url.PathEscape(jti), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}
