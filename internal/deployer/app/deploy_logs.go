package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/domain"
)

// DeployLogs streams the deployment's container logs. With follow the stream
// stays open until the container exits or ctx is canceled; tail limits the
// history to the last N lines ("" means everything).
func (s *DeployService) DeployLogs(ctx context.Context, deployID string, follow bool, tail string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "deploy.logs")
	defer span.End()
	span.SetAttributes(attribute.Bool("follow", follow))

	id, err := domain.NewDeployID(deployID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec, err := s.registry.GetByID(ctx, id.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if rec.ContainerID == "" {
		return nil, fmt.Errorf("deploy %s never started a container: %w", id, domain.ErrNotRunning)
	}

	rc, err := s.runtime.Logs(ctx, rec.ContainerID, follow, tail)
	if err != nil {
		// The container can be gone while the record survives (manual
		// docker rm); report it as not running rather than missing.
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("container for deploy %s is gone: %w", id, domain.ErrNotRunning)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stream container logs: %w", err)
	}
	return rc, nil
}
