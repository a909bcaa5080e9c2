package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/domain"
)

// GetDeploy returns the deployment record for the given ID.
func (s *DeployService) GetDeploy(ctx context.Context, deployID string) (*DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "deploy.get")
	defer span.End()

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
	return rec, nil
}

// LatestDeploy returns the most recent deployment for an app.
func (s *DeployService) LatestDeploy(ctx context.Context, app string) (*DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "deploy.latest")
	defer span.End()

	name, err := domain.NewAppName(app)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("app", name.String()))

	rec, err := s.registry.LatestByApp(ctx, name.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return rec, nil
}

// RunningDeploy returns the app's current running deployment. The reverse
// proxy resolves host-routed traffic through this; anything but a running
// record is domain.ErrNotFound.
func (s *DeployService) RunningDeploy(ctx context.Context, app string) (*DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "deploy.running")
	defer span.End()

	name, err := domain.NewAppName(app)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("app", name.String()))

	rec, err := s.registry.RunningByApp(ctx, name.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return rec, nil
}

// ListDeploys returns deployment records, newest first. An empty app lists
// every app; limit is clamped to the page size bounds.
func (s *DeployService) ListDeploys(ctx context.Context, app string, limit int) ([]DeployRecord, error) {
	ctx, span := tracer.Start(ctx, "deploy.list")
	defer span.End()

	if app != "" {
		name, err := domain.NewAppName(app)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		app = name.String()
		span.SetAttributes(attribute.String("app", app))
	}

	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	if limit > domain.MaxPageSize {
		limit = domain.MaxPageSize
	}

	recs, err := s.registry.List(ctx, app, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return recs, nil
}
