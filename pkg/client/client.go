// Package client is the Go client for the gantryd control-plane API.
// The gantry CLI is its primary consumer, but nothing in here is CLI
// specific: every call takes a context and returns typed results.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx reply from the daemon, decoded from its error
// envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("gantryd returned status %d", e.StatusCode)
}

// Config holds client parameters.
type Config struct {
	// BaseURL is the daemon address, e.g. "http://localhost:8080".
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// HTTPClient overrides the default transport. The default has no
	// overall timeout: deploys and log follows are long-lived requests.
	HTTPClient *http.Client
}

// Client calls the gantryd API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New creates a Client for the daemon at cfg.BaseURL.
func New(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   httpc,
	}
}

// Deploy is the wire form of a deployment record.
type Deploy struct {
	DeployID      string `json:"deploy_id"`
	App           string `json:"app"`
	ImageTag      string `json:"image_tag,omitempty"`
	ContainerID   string `json:"container_id,omitempty"`
	ContainerPort int    `json:"container_port,omitempty"`
	HostPort      int    `json:"host_port,omitempty"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	SourceKind    string `json:"source_kind"`
	SourceRef     string `json:"source_ref,omitempty"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	URL           string `json:"url,omitempty"`
}

// newRequest builds a request against the daemon with the bearer token
// attached.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON executes the request and decodes a JSON reply into out. A nil out
// drains and discards the body. Non-2xx replies decode into an *APIError.
func (c *Client) doJSON(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call gantryd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gantryd reply: %w", err)
	}
	return nil
}

// decodeAPIError turns an error reply into an *APIError. Bodies that are
// not the JSON envelope (a misaddressed daemon, a proxy in the way) still
// produce a usable error.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// ListDeploys returns deployment records, newest first. An empty app lists
// every app; a zero limit uses the daemon's default page size.
func (c *Client) ListDeploys(ctx context.Context, app string, limit int) ([]Deploy, error) {
	q := url.Values{}
	if app != "" {
		q.Set("app", app)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/deploys"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Deploys []Deploy `json:"deploys"`
	}
	if err := c.doJSON(req, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return body.Deploys, nil
}

// LatestDeploy returns the most recent deployment for an app.
func (c *Client) LatestDeploy(ctx context.Context, app string) (*Deploy, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/apps/"+url.PathEscape(app)+"/deploys/latest", nil)
	if err != nil {
		return nil, err
	}
	var d Deploy
	if err := c.doJSON(req, http.StatusOK, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeploy returns the deployment record for the given ID.
func (c *Client) GetDeploy(ctx context.Context, deployID string) (*Deploy, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/deploys/"+url.PathEscape(deployID), nil)
	if err != nil {
		return nil, err
	}
	var d Deploy
	if err := c.doJSON(req, http.StatusOK, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeployLogs streams the deployment's container logs. With follow the
// stream stays open until the container stops or ctx is canceled. The
// caller must close the returned reader.
func (c *Client) DeployLogs(ctx context.Context, deployID string, follow bool, tail string) (io.ReadCloser, error) {
	q := url.Values{}
	if follow {
		q.Set("follow", "true")
	}
	if tail != "" {
		q.Set("tail", tail)
	}
	path := "/api/v1/deploys/" + url.PathEscape(deployID) + "/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gantryd: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

// StopDeploy stops the deployment's container and releases its host port.
func (c *Client) StopDeploy(ctx context.Context, deployID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/deploys/"+url.PathEscape(deployID), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}
