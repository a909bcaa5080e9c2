package port

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
)

// backendPort extracts the listen port of an httptest server.
func backendPort(t *testing.T, serverURL string) int {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestAppProxy_RoutesAppHostname(t *testing.T) {
	h := newPortHarness(t)

	var gotURI, gotHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		gotHost = r.Host
		w.Header().Set("X-Backend", "flask")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "hello from web")
	}))
	defer backend.Close()
	port := backendPort(t, backend.URL)

	h.resolver.runningFn = func(_ context.Context, appName string) (*app.DeployRecord, error) {
		require.Equal(t, "web", appName)
		rec := sampleRecord(deployID1, string(domain.DeployStatusRunning))
		rec.HostPort = port
		return rec, nil
	}

	req := httptest.NewRequest(http.MethodGet, "http://web.gantry.test/hello?x=1", nil)
	resp := h.do(req, "")

	require.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "flask", resp.Header.Get("X-Backend"))
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from web", string(body))

	assert.Equal(t, "/hello?x=1", gotURI)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), gotHost)
}

func TestAppProxy_NoRunningDeployment(t *testing.T) {
	h := newPortHarness(t)

	req := httptest.NewRequest(http.MethodGet, "http://web.gantry.test/", nil)
	resp := h.do(req, "")

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
}

func TestAppProxy_IgnoresOtherHosts(t *testing.T) {
	hosts := map[string]string{
		"unrelated domain":  "http://example.com/",
		"bare base domain":  "http://gantry.test/",
		"nested subdomain":  "http://a.b.gantry.test/",
		"similar apex name": "http://webgantry.test/",
	}
	for name, target := range hosts {
		t.Run(name, func(t *testing.T) {
			h := newPortHarness(t)

			var called bool
			h.resolver.runningFn = func(context.Context, string) (*app.DeployRecord, error) {
				called = true
				return nil, domain.ErrNotFound
			}

			resp := h.do(httptest.NewRequest(http.MethodGet, target, nil), "")

			// Falls through to the router, which has no route for "/".
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.False(t, called)
		})
	}
}

func TestAppProxy_StripsHostPort(t *testing.T) {
	h := newPortHarness(t)

	var gotApp string
	h.resolver.runningFn = func(_ context.Context, appName string) (*app.DeployRecord, error) {
		gotApp = appName
		return nil, fmt.Errorf("app %s has no running deployment: %w", appName, domain.ErrNotFound)
	}

	req := httptest.NewRequest(http.MethodGet, "http://web.gantry.test:8080/", nil)
	resp := h.do(req, "")

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "web", gotApp)
}

func TestAppProxy_UpstreamDown(t *testing.T) {
	h := newPortHarness(t)

	// Grab a loopback port with nothing listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	h.resolver.runningFn = func(context.Context, string) (*app.DeployRecord, error) {
		rec := sampleRecord(deployID1, string(domain.DeployStatusRunning))
		rec.HostPort = port
		return rec, nil
	}

	req := httptest.NewRequest(http.MethodGet, "http://web.gantry.test/", nil)
	resp := h.do(req, "")

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_ERROR", decodeError(t, resp).Code)
}
