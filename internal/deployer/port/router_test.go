package port

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/domain/domaintest"
	"github.com/gantryhq/gantry/pkg/deploystream"
)

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	deployID1 = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
	deployID2 = "3f2504e0-4f89-41d3-9a0c-0305e82c3302"

	testBaseDomain = "gantry.test"
)

// ----
// Stubs — function fields allow tests to override behavior per-case.
// ----

type stubDeployService struct {
	deployFn func(ctx context.Context, req app.DeployRequest, events app.EventSink) (*app.DeployResult, error)
	stopFn   func(ctx context.Context, deployID string) error
	getFn    func(ctx context.Context, deployID string) (*app.DeployRecord, error)
	latestFn func(ctx context.Context, appName string) (*app.DeployRecord, error)
	listFn   func(ctx context.Context, appName string, limit int) ([]app.DeployRecord, error)
	logsFn   func(ctx context.Context, deployID string, follow bool, tail string) (io.ReadCloser, error)
}

func (s *stubDeployService) Deploy(ctx context.Context, req app.DeployRequest, events app.EventSink) (*app.DeployResult, error) {
	if s.deployFn != nil {
		return s.deployFn(ctx, req, events)
	}
	return &app.DeployResult{
		Record: *sampleRecord(deployID1, string(domain.DeployStatusRunning)),
		URL:    "http://web." + testBaseDomain,
	}, nil
}

func (s *stubDeployService) StopDeploy(ctx context.Context, deployID string) error {
	if s.stopFn != nil {
		return s.stopFn(ctx, deployID)
	}
	return nil
}

func (s *stubDeployService) GetDeploy(ctx context.Context, deployID string) (*app.DeployRecord, error) {
	if s.getFn != nil {
		return s.getFn(ctx, deployID)
	}
	return nil, fmt.Errorf("deploy %s: %w", deployID, domain.ErrNotFound)
}

func (s *stubDeployService) LatestDeploy(ctx context.Context, appName string) (*app.DeployRecord, error) {
	if s.latestFn != nil {
		return s.latestFn(ctx, appName)
	}
	return nil, fmt.Errorf("app %s: %w", appName, domain.ErrNotFound)
}

func (s *stubDeployService) ListDeploys(ctx context.Context, appName string, limit int) ([]app.DeployRecord, error) {
	if s.listFn != nil {
		return s.listFn(ctx, appName, limit)
	}
	return nil, nil
}

func (s *stubDeployService) DeployLogs(ctx context.Context, deployID string, follow bool, tail string) (io.ReadCloser, error) {
	if s.logsFn != nil {
		return s.logsFn(ctx, deployID, follow, tail)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *stubDeployService) AppURL(appName string) string {
	return "http://" + appName + "." + testBaseDomain
}

type stubTokenService struct {
	mintFn   func(ctx context.Context, subject, scope string) (*auth.MintResult, error)
	revokeFn func(ctx context.Context, jti string) error
}

func (s *stubTokenService) Mint(ctx context.Context, subject, scope string) (*auth.MintResult, error) {
	if s.mintFn != nil {
		return s.mintFn(ctx, subject, scope)
	}
	return &auth.MintResult{
		Token:     "signed-token",
		JTI:       deployID2,
		ExpiresAt: testStart.Add(domain.APITokenLifetime),
	}, nil
}

func (s *stubTokenService) Revoke(ctx context.Context, jti string) error {
	if s.revokeFn != nil {
		return s.revokeFn(ctx, jti)
	}
	return nil
}

type stubResolver struct {
	runningFn func(ctx context.Context, appName string) (*app.DeployRecord, error)
}

func (s *stubResolver) RunningDeploy(ctx context.Context, appName string) (*app.DeployRecord, error) {
	if s.runningFn != nil {
		return s.runningFn(ctx, appName)
	}
	return nil, fmt.Errorf("app %s has no running deployment: %w", appName, domain.ErrNotFound)
}

type stubRevocationChecker struct {
	isRevokedFn func(ctx context.Context, jti string) (bool, error)
}

func (s *stubRevocationChecker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.isRevokedFn != nil {
		return s.isRevokedFn(ctx, jti)
	}
	return false, nil
}

var (
	_ deployService     = (*stubDeployService)(nil)
	_ tokenService      = (*stubTokenService)(nil)
	_ runningResolver   = (*stubResolver)(nil)
	_ revocationChecker = (*stubRevocationChecker)(nil)
)

// ----
// Harness — a fully wired router with stub services and real token auth.
// ----

type portHarness struct {
	t           *testing.T
	app         *fiber.App
	deploys     *stubDeployService
	tokens      *stubTokenService
	resolver    *stubResolver
	revocations *stubRevocationChecker
	clock       *domaintest.FakeClock
	minter      *auth.Minter

	deployToken string
	adminToken  string
}

func newPortHarness(t *testing.T) *portHarness {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := auth.NewStaticKeyStore(key, "test-key-001")
	clock := domaintest.NewFakeClock(testStart)

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: keys,
		TokenTTL: domain.APITokenLifetime,
		Issuer:   "gantryd",
		Audience: "gantry-api",
		Clock:    clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keys,
		Issuer:   "gantryd",
		Audience: "gantry-api",
		Clock:    clock,
	})

	h := &portHarness{
		t:           t,
		deploys:     &stubDeployService{},
		tokens:      &stubTokenService{},
		resolver:    &stubResolver{},
		revocations: &stubRevocationChecker{},
		clock:       clock,
		minter:      minter,
	}
	h.deployToken = h.mint(auth.ScopeDeploy)
	h.adminToken = h.mint(auth.ScopeAdmin)

	h.app = fiber.New()
	Register(h.app, RouterConfig{
		Deploys: &DeployHandler{svc: h.deploys},
		Tokens:  &TokenHandler{svc: h.tokens},
		Auth:    &AuthMiddleware{validator: validator, revocations: h.revocations},
		Proxy:   &AppProxy{deploys: h.resolver, baseDomain: testBaseDomain, logger: slog.Default()},
	})
	return h
}

func (h *portHarness) mint(scope string) string {
	h.t.Helper()
	result, err := h.minter.MintAPIToken("ops@example.com", scope)
	require.NoError(h.t, err)
	return result.Token
}

// do performs the request against the router, attaching the bearer token
// when one is given.
func (h *portHarness) do(req *http.Request, token string) *http.Response {
	h.t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	return resp
}

// ----
// Request and response helpers
// ----

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

// multipartDeployRequest builds an upload deploy request with the archive
// bytes in the "context" field.
func multipartDeployRequest(t *testing.T, path, filename, payload string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(sourceFormField, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// decodeError unwraps the error envelope of a failed request.
func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	return decodeBody[errorResponse](t, resp).Error
}

// readFrames consumes an ndjson response body to the end.
func readFrames(t *testing.T, body io.ReadCloser) []deploystream.Frame {
	t.Helper()
	defer body.Close()
	r := deploystream.NewReader(body)
	var frames []deploystream.Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, *f)
	}
}

func mustFrame(t *testing.T, frameType deploystream.FrameType, payload any) deploystream.Frame {
	t.Helper()
	f, err := deploystream.NewFrame(frameType, payload)
	require.NoError(t, err)
	return *f
}

func sampleRecord(deployID, status string) *app.DeployRecord {
	return &app.DeployRecord{
		DeployID:      deployID,
		App:           "web",
		ImageTag:      "gantry/web:" + deployID[:12],
		ContainerID:   "cid-1",
		ContainerPort: 5001,
		HostPort:      21000,
		Status:        status,
		SourceKind:    string(domain.SourceKindUpload),
		SourceRef:     "web.tar.gz",
		CreatedAt:     testStart.Format(time.RFC3339),
	}
}
