package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/pkg/client"
	"github.com/gantryhq/gantry/pkg/deploystream"
)

const deployID1 = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

// newTestClient starts an httptest server around handler and returns a
// client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.New(client.Config{BaseURL: srv.URL, Token: "test-token"})
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeErrorEnvelope(t *testing.T, w http.ResponseWriter, status int, code, message string) {
	t.Helper()
	writeJSON(t, w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func TestListDeploys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/deploys", r.URL.Path)
		assert.Equal(t, "web", r.URL.Query().Get("app"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"deploys": []client.Deploy{
				{DeployID: deployID1, App: "web", Status: "running"},
			},
		})
	})

	deploys, err := c.ListDeploys(context.Background(), "web", 5)
	require.NoError(t, err)
	require.Len(t, deploys, 1)
	assert.Equal(t, deployID1, deploys[0].DeployID)
	assert.Equal(t, "running", deploys[0].Status)
}

func TestListDeploys_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeErrorEnvelope(t, w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	})

	_, err := c.ListDeploys(context.Background(), "", 0)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "RATE_LIMITED", apiErr.Code)
	assert.Equal(t, "too many requests", apiErr.Message)
	assert.Equal(t, "too many requests (RATE_LIMITED)", apiErr.Error())
}

func TestLatestDeploy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/apps/web/deploys/latest", r.URL.Path)
		writeJSON(t, w, http.StatusOK, client.Deploy{DeployID: deployID1, App: "web", Status: "running"})
	})

	d, err := c.LatestDeploy(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, deployID1, d.DeployID)
}

func TestGetDeploy_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/deploys/"+deployID1, r.URL.Path)
		writeErrorEnvelope(t, w, http.StatusNotFound, "NOT_FOUND", "deploy not found")
	})

	_, err := c.GetDeploy(context.Background(), deployID1)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestStopDeploy(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.StopDeploy(context.Background(), deployID1))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/deploys/"+deployID1, gotPath)
}

func TestDeployLogs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/deploys/"+deployID1+"/logs", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("follow"))
		assert.Equal(t, "50", r.URL.Query().Get("tail"))
		fmt.Fprint(w, "line one\nline two\n")
	})

	rc, err := c.DeployLogs(context.Background(), deployID1, true, "50")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestDeployArchive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/apps/web/deploys", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("stream"))

		file, header, err := r.FormFile("context")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "web.tar.gz", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "archive bytes", string(data))

		writeJSON(t, w, http.StatusCreated, client.Deploy{
			DeployID: deployID1,
			App:      "web",
			Status:   "running",
			URL:      "http://web.apps.localhost",
		})
	})

	d, err := c.DeployArchive(context.Background(), "web", strings.NewReader("archive bytes"), "web.tar.gz", nil)
	require.NoError(t, err)
	assert.Equal(t, deployID1, d.DeployID)
	assert.Equal(t, "http://web.apps.localhost", d.URL)
}

func TestDeployGit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://github.com/acme/web.git", body["git_url"])
		assert.Equal(t, "main", body["ref"])

		writeJSON(t, w, http.StatusCreated, client.Deploy{DeployID: deployID1, App: "web", Status: "running"})
	})

	d, err := c.DeployGit(context.Background(), "web", "https://github.com/acme/web.git", "main", nil)
	require.NoError(t, err)
	assert.Equal(t, deployID1, d.DeployID)
}

func TestDeployArchive_Stream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("stream"))

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := deploystream.NewWriter(w)
		started, err := deploystream.NewFrame(deploystream.FrameTypePhaseStarted, deploystream.PhaseStarted{
			DeployID: deployID1,
			Phase:    deploystream.PhaseValidate,
		})
		require.NoError(t, err)
		require.NoError(t, enc.Write(started))

		completed, err := deploystream.NewFrame(deploystream.FrameTypeDeployCompleted, deploystream.DeployCompleted{
			DeployID: deployID1,
			App:      "web",
			ImageTag: "gantry/web:" + deployID1[:12],
			HostPort: 21000,
			URL:      "http://web.apps.localhost",
			Status:   "running",
		})
		require.NoError(t, err)
		require.NoError(t, enc.Write(completed))
	})

	var frameTypes []deploystream.FrameType
	d, err := c.DeployArchive(context.Background(), "web", strings.NewReader("archive bytes"), "web.tar.gz",
		func(f deploystream.Frame) {
			frameTypes = append(frameTypes, f.Type)
		})
	require.NoError(t, err)

	assert.Equal(t, []deploystream.FrameType{
		deploystream.FrameTypePhaseStarted,
		deploystream.FrameTypeDeployCompleted,
	}, frameTypes)
	assert.Equal(t, deployID1, d.DeployID)
	assert.Equal(t, 21000, d.HostPort)
	assert.Equal(t, "http://web.apps.localhost", d.URL)
	assert.Equal(t, "running", d.Status)
}

func TestDeployGit_StreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		enc := deploystream.NewWriter(w)
		frame, err := deploystream.NewFrame(deploystream.FrameTypeError, deploystream.Error{
			DeployID: deployID1,
			Phase:    deploystream.PhaseBuild,
			Code:     "BUILD_FAILED",
			Message:  "build exited with code 1",
			Details:  map[string]string{"logs": "pip failed"},
		})
		require.NoError(t, err)
		require.NoError(t, enc.Write(frame))
	})

	_, err := c.DeployGit(context.Background(), "web", "https://github.com/acme/web.git", "", func(deploystream.Frame) {})

	var failure *client.DeployFailedError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, deployID1, failure.DeployID)
	assert.Equal(t, "build", failure.Phase)
	assert.Equal(t, "BUILD_FAILED", failure.Code)
	assert.Equal(t, "pip failed", failure.Details["logs"])
	assert.Contains(t, failure.Error(), "during build")
}

func TestDeployStream_RejectedBeforeStreaming(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeErrorEnvelope(t, w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
	})

	_, err := c.DeployGit(context.Background(), "web", "https://github.com/acme/web.git", "", func(deploystream.Frame) {})

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "UNAUTHENTICATED", apiErr.Code)
}

func TestDeployStream_TruncatedStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		enc := deploystream.NewWriter(w)
		frame, err := deploystream.NewFrame(deploystream.FrameTypePhaseStarted, deploystream.PhaseStarted{
			DeployID: deployID1,
			Phase:    deploystream.PhaseValidate,
		})
		require.NoError(t, err)
		require.NoError(t, enc.Write(frame))
		// Connection ends without a terminal frame.
	})

	_, err := c.DeployGit(context.Background(), "web", "https://github.com/acme/web.git", "", func(deploystream.Frame) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a terminal frame")
}

func TestCreateToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tokens", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ci@example.com", body["subject"])
		assert.Equal(t, "deploy", body["scope"])

		writeJSON(t, w, http.StatusCreated, client.Token{
			Token:     "signed-token",
			JTI:       deployID1,
			ExpiresAt: "2026-04-09T12:00:00Z",
		})
	})

	tok, err := c.CreateToken(context.Background(), "ci@example.com", "deploy")
	require.NoError(t, err)
	assert.Equal(t, "signed-token", tok.Token)
	assert.Equal(t, deployID1, tok.JTI)
}

func TestRevokeToken(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.RevokeToken(context.Background(), deployID1))
	assert.Equal(t, "/api/v1/tokens/"+deployID1, gotPath)
}

func TestAPIError_NonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	})

	_, err := c.GetDeploy(context.Background(), deployID1)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "gantryd returned status 502", apiErr.Error())
}

func TestDeployLogs_NotRunning(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeErrorEnvelope(t, w, http.StatusNotFound, "NOT_RUNNING", "deploy has no container")
	})

	_, err := c.DeployLogs(context.Background(), deployID1, false, "")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_RUNNING", apiErr.Code)
	assert.False(t, errors.Is(err, context.Canceled))
}
