package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/observability"
)

// StopDeploy gracefully stops a deployment's container and records the
// stopped status. The container is kept so its logs stay retrievable until
// history pruning removes the deployment.
func (s *DeployService) StopDeploy(ctx context.Context, deployID string) error {
	ctx, span := tracer.Start(ctx, "deploy.stop")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Resolve the deployment.
	id, err := domain.NewDeployID(deployID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	rec, err := s.registry.GetByID(ctx, id.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// 2. Reject deployments that already reached a terminal state.
	if domain.DeployStatus(rec.Status).IsTerminal() {
		return fmt.Errorf("deploy %s is already %s: %w", id, rec.Status, domain.ErrNotRunning)
	}

	// 3. Stop the container. A container removed out of band counts as
	// stopped; any other engine failure keeps the record untouched.
	if rec.ContainerID != "" {
		if err := s.runtime.Stop(ctx, rec.ContainerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("stop container: %w", err)
		}
	}

	// 4. Record the terminal status.
	if err := s.registry.UpdateStatus(ctx, id.String(), domain.DeployStatusStopped, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update deploy status: %w", err)
	}

	deployStoppedTotal.Add(ctx, 1)
	logger.InfoContext(ctx, "deploy.stopped", "deploy_id", id.String(), "app", rec.App)
	return nil
}
