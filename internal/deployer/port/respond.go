package port

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/errmap"
)

// ndjsonContentType is the media type of streamed deploy event frames.
const ndjsonContentType = "application/x-ndjson"

// errorBody is the wire form of a failed request.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse is the envelope every error reply uses, across handlers and
// the reverse proxy alike.
type errorResponse struct {
	Error errorBody `json:"error"`
}

// deployResponse is the wire form of a deployment record.
type deployResponse struct {
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

// renderDeploy maps a record into its wire form. appURL resolves the app's
// public URL; only running deployments carry one.
func renderDeploy(rec *app.DeployRecord, appURL func(string) string) deployResponse {
	resp := deployResponse{
		DeployID:      rec.DeployID,
		App:           rec.App,
		ImageTag:      rec.ImageTag,
		ContainerID:   rec.ContainerID,
		ContainerPort: rec.ContainerPort,
		HostPort:      rec.HostPort,
		Status:        rec.Status,
		Error:         rec.Error,
		SourceKind:    rec.SourceKind,
		SourceRef:     rec.SourceRef,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
	}
	if rec.Status == string(domain.DeployStatusRunning) && appURL != nil {
		resp.URL = appURL(rec.App)
	}
	return resp
}

// writeError renders a domain error through the transport error table.
func writeError(c *fiber.Ctx, err error) error {
	he := errmap.ToHTTPError(err)
	return c.Status(he.StatusCode).JSON(errorResponse{
		Error: errorBody{Code: he.Code, Message: he.Message},
	})
}
