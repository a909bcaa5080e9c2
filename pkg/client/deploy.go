package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/gantryhq/gantry/pkg/deploystream"
)

// FrameFunc receives deploy progress frames during a streaming deploy.
type FrameFunc func(deploystream.Frame)

// DeployFailedError is a deploy rejected or failed mid-pipeline, reported
// through the event stream.
type DeployFailedError struct {
	DeployID string
	Phase    string
	Code     string
	Message  string
	Details  map[string]string
}

func (e *DeployFailedError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("deploy failed: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("deploy failed during %s: %s (%s)", e.Phase, e.Message, e.Code)
}

// DeployArchive uploads a build context archive and deploys it. With a
// non-nil onFrame the call streams progress frames as the pipeline runs and
// assembles the result from the terminal frame; otherwise it blocks until
// the deploy settles and returns the final record.
func (c *Client) DeployArchive(ctx context.Context, app string, archive io.Reader, filename string, onFrame FrameFunc) (*Deploy, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("context", filename)
		if err == nil {
			_, err = io.Copy(fw, archive)
		}
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.deployPath(app, onFrame != nil), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.runDeploy(req, onFrame)
}

// DeployGit deploys from a git repository URL; ref selects a branch or tag,
// empty means the remote default. Streaming works as in DeployArchive.
func (c *Client) DeployGit(ctx context.Context, app, gitURL, ref string, onFrame FrameFunc) (*Deploy, error) {
	body, err := json.Marshal(map[string]string{"git_url": gitURL, "ref": ref})
	if err != nil {
		return nil, fmt.Errorf("encode deploy request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.deployPath(app, onFrame != nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.runDeploy(req, onFrame)
}

func (c *Client) deployPath(app string, stream bool) string {
	path := "/api/v1/apps/" + url.PathEscape(app) + "/deploys"
	if stream {
		path += "?stream=true"
	}
	return path
}

// runDeploy executes a deploy request, consuming the frame stream when one
// was asked for.
func (c *Client) runDeploy(req *http.Request, onFrame FrameFunc) (*Deploy, error) {
	if onFrame == nil {
		var d Deploy
		if err := c.doJSON(req, http.StatusCreated, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call gantryd: %w", err)
	}
	defer resp.Body.Close()

	// A non-200 means the request never reached the pipeline (auth, scope,
	// body parsing); the reply is the plain error envelope.
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	return consumeDeployStream(resp.Body, onFrame)
}

// consumeDeployStream relays frames to onFrame until the stream ends, then
// reports the terminal frame: the completed record or the deploy failure.
func consumeDeployStream(body io.Reader, onFrame FrameFunc) (*Deploy, error) {
	var completed *deploystream.DeployCompleted
	var failed *deploystream.Error

	r := deploystream.NewReader(body)
	for {
		frame, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read deploy stream: %w", err)
		}
		onFrame(*frame)

		switch frame.Type {
		case deploystream.FrameTypeDeployCompleted:
			var payload deploystream.DeployCompleted
			if err := frame.ParsePayload(&payload); err != nil {
				return nil, fmt.Errorf("parse deploy result: %w", err)
			}
			completed = &payload
		case deploystream.FrameTypeError:
			var payload deploystream.Error
			if err := frame.ParsePayload(&payload); err != nil {
				return nil, fmt.Errorf("parse deploy error: %w", err)
			}
			failed = &payload
		}
	}

	switch {
	case failed != nil:
		return nil, &DeployFailedError{
			DeployID: failed.DeployID,
			Phase:    string(failed.Phase),
			Code:     failed.Code,
			Message:  failed.Message,
			Details:  failed.Details,
		}
	case completed != nil:
		return &Deploy{
			DeployID: completed.DeployID,
			App:      completed.App,
			ImageTag: completed.ImageTag,
			HostPort: completed.HostPort,
			Status:   completed.Status,
			URL:      completed.URL,
		}, nil
	default:
		return nil, fmt.Errorf("deploy stream ended without a terminal frame")
	}
}
