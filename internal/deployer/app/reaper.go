package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/observability"
)

// StartReaper launches the TTL reaper loop. Each tick retires running
// deployments past their expiry. The loop stops when ctx is canceled and is
// drained by Wait. A zero TTL or interval disables reaping entirely.
func (s *DeployService) StartReaper(ctx context.Context, interval time.Duration) {
	if s.deployTTL <= 0 || interval <= 0 {
		return
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Detach so a shutdown mid-pass still finishes the pass.
				s.reapExpired(context.WithoutCancel(ctx))
			}
		}
	}()
}

// reapExpired retires every running deployment whose expiry has passed.
func (s *DeployService) reapExpired(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	ctx, span := tracer.Start(ctx, "deploy.reap")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	cutoff := s.clock.Now().UTC().Format(time.RFC3339)
	expired, err := s.registry.ListExpired(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "failed to list expired deploys", "error", err)
		return
	}

	for _, rec := range expired {
		s.retireDeploy(ctx, logger, rec, domain.DeployStatusExpired)
		deployExpiredTotal.Add(ctx, 1)
		logger.InfoContext(ctx, "deploy.expired",
			"deploy_id", rec.DeployID, "app", rec.App, "expired_at", rec.ExpiresAt)
	}
}
