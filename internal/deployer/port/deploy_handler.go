package port

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/errmap"
	"github.com/gantryhq/gantry/pkg/deploystream"
)

// sourceFormField is the multipart field clients attach the build context
// archive to.
const sourceFormField = "context"

// deployService is a narrow, consumer-defined interface for the deploy
// operations the handler requires. The *app.DeployService satisfies this.
type deployService interface {
	Deploy(ctx context.Context, req app.DeployRequest, events app.EventSink) (*app.DeployResult, error)
	StopDeploy(ctx context.Context, deployID string) error
	GetDeploy(ctx context.Context, deployID string) (*app.DeployRecord, error)
	LatestDeploy(ctx context.Context, appName string) (*app.DeployRecord, error)
	ListDeploys(ctx context.Context, appName string, limit int) ([]app.DeployRecord, error)
	DeployLogs(ctx context.Context, deployID string, follow bool, tail string) (io.ReadCloser, error)
	AppURL(appName string) string
}

// DeployHandler implements the deployment HTTP endpoints.
// It translates requests into app-layer calls and maps results back to JSON.
type DeployHandler struct {
	svc deployService
}

// NewDeployHandler creates a DeployHandler backed by the given DeployService.
func NewDeployHandler(svc *app.DeployService) *DeployHandler {
	return &DeployHandler{svc: svc}
}

// gitDeployRequest is the JSON body of a clone-based deploy.
type gitDeployRequest struct {
	GitURL string `json:"git_url"`
	Ref    string `json:"ref"`
}

// Create runs a deploy for the app named in the path. Uploads arrive as
// multipart form data with the archive in the "context" field; git deploys
// as a JSON body. With ?stream=true the response is an ndjson frame stream
// instead of a single JSON document.
func (h *DeployHandler) Create(c *fiber.Ctx) error {
	req := app.DeployRequest{
		App:      c.Params("name"),
		Subject:  subjectFromCtx(c),
		ClientIP: c.IP(),
	}

	contentType := c.Get(fiber.HeaderContentType)
	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		header, err := c.FormFile(sourceFormField)
		if err != nil {
			return writeError(c, fmt.Errorf("multipart field %q required: %w", sourceFormField, domain.ErrInvalidInput))
		}
		file, err := header.Open()
		if err != nil {
			return writeError(c, fmt.Errorf("open uploaded archive: %w", domain.ErrInvalidInput))
		}
		// Copy the archive out of the request buffers up front: the
		// streaming path writes its response after this handler returns,
		// when fasthttp may have recycled them.
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return writeError(c, fmt.Errorf("read uploaded archive: %w", domain.ErrInvalidInput))
		}
		req.Archive = bytes.NewReader(data)
		req.ArchiveName = header.Filename
	case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
		var body gitDeployRequest
		if err := c.BodyParser(&body); err != nil {
			return writeError(c, fmt.Errorf("parse deploy request: %w", domain.ErrInvalidInput))
		}
		req.GitURL = body.GitURL
		req.GitRef = body.Ref
	default:
		// No source attached; the service rejects the request.
	}

	if c.QueryBool("stream") {
		return h.streamDeploy(c, req)
	}

	result, err := h.svc.Deploy(c.Context(), req, nil)
	if err != nil {
		return writeError(c, err)
	}
	resp := renderDeploy(&result.Record, nil)
	resp.URL = result.URL
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// streamDeploy runs the deploy while relaying progress frames to the client
// as newline-delimited JSON. Failures surface as a terminal error frame, not
// an HTTP status: by the time the pipeline fails the header is long gone.
func (h *DeployHandler) streamDeploy(c *fiber.Ctx, req app.DeployRequest) error {
	svc := h.svc
	c.Set(fiber.HeaderContentType, ndjsonContentType)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// Runs after the handler has returned; only captured values may be
		// used here. The pipeline carries its own timeouts and must settle
		// every deploy it starts, so a dropped client never cancels one.
		enc := deploystream.NewWriter(w)
		var sawError bool
		sink := func(f deploystream.Frame) {
			if f.Type == deploystream.FrameTypeError {
				sawError = true
			}
			if err := enc.Write(&f); err != nil {
				return
			}
			_ = w.Flush()
		}
		if _, err := svc.Deploy(context.Background(), req, sink); err != nil && !sawError {
			// Rejected before the pipeline emitted anything (bad name, rate
			// limit, held lock). Synthesize the terminal frame.
			he := errmap.ToHTTPError(err)
			f, ferr := deploystream.NewFrame(deploystream.FrameTypeError, deploystream.Error{
				Phase:   deploystream.PhaseValidate,
				Code:    he.Code,
				Message: he.Message,
			})
			if ferr == nil {
				_ = enc.Write(f)
			}
		}
		_ = w.Flush()
	})
	return nil
}

// List returns deployment records, newest first. ?app= filters to one app
// and ?limit= caps the page size.
func (h *DeployHandler) List(c *fiber.Ctx) error {
	recs, err := h.svc.ListDeploys(c.Context(), c.Query("app"), c.QueryInt("limit"))
	if err != nil {
		return writeError(c, err)
	}
	resp := make([]deployResponse, 0, len(recs))
	for i := range recs {
		resp = append(resp, renderDeploy(&recs[i], h.svc.AppURL))
	}
	return c.JSON(fiber.Map{"deploys": resp})
}

// Latest returns the most recent deployment for the app named in the path.
func (h *DeployHandler) Latest(c *fiber.Ctx) error {
	rec, err := h.svc.LatestDeploy(c.Context(), c.Params("name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(renderDeploy(rec, h.svc.AppURL))
}

// Get returns the deployment record for the ID in the path.
func (h *DeployHandler) Get(c *fiber.Ctx) error {
	rec, err := h.svc.GetDeploy(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(renderDeploy(rec, h.svc.AppURL))
}

// Logs streams the deployment's container logs as plain text.
// ?follow=true keeps the stream open; ?tail= bounds the backlog.
func (h *DeployHandler) Logs(c *fiber.Ctx) error {
	rc, err := h.svc.DeployLogs(c.Context(), c.Params("id"), c.QueryBool("follow"), c.Query("tail"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendStream(rc)
}

// Stop stops the deployment's container and releases its host port.
func (h *DeployHandler) Stop(c *fiber.Ctx) error {
	if err := h.svc.StopDeploy(c.Context(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// subjectFromCtx returns the authenticated token subject for audit fields.
func subjectFromCtx(c *fiber.Ctx) string {
	if claims := ClaimsFromCtx(c); claims != nil {
		return claims.Subject
	}
	return ""
}
