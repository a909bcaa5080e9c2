package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/errmap"
	"github.com/gantryhq/gantry/internal/observability"
	"github.com/gantryhq/gantry/internal/recipe"
	"github.com/gantryhq/gantry/pkg/deploystream"
)

// Deploy runs the full pipeline for one deploy request: validate the context
// and recipe, build the image, verify it against the runtime contract, start
// the container on an allocated host port, and probe readiness. The previous
// running deployment keeps serving until the new one is ready.
func (s *DeployService) Deploy(ctx context.Context, req DeployRequest, events EventSink) (*DeployResult, error) {
	ctx, span := tracer.Start(ctx, "deploy.run")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Validate the app name.
	appName, err := domain.NewAppName(req.App)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("app", appName.String()))

	// 2. Resolve the source kind.
	kind, sourceRef, err := req.source()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// 3. Rate limit: token subject (fail-closed). Spreading deploys across
	// app names does not reset the window. Requests without a subject
	// (auth disabled in local mode) fall back to the app name so they are
	// still bounded.
	subject := req.Subject
	if subject == "" {
		subject = appName.String()
	}
	allowed, err := s.rateLimiter.CheckAndIncrement(
		ctx,
		"deploy:subject:"+subject,
		domain.DeployRateLimitPerSubject,
		int(domain.DeployRateLimitWindow.Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("check subject rate limit: %w", err)
	}
	if !allowed {
		rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", "deploy"),
			attribute.String("limit_type", "subject"),
		))
		span.SetStatus(codes.Error, "subject rate limited")
		return nil, fmt.Errorf("subject %s: %w", subject, domain.ErrRateLimited)
	}

	// 4. Rate limit: client IP (fail-open — log and continue if Redis fails).
	if req.ClientIP != "" {
		ipAllowed, ipErr := s.rateLimiter.CheckAndIncrement(
			ctx,
			"deploy:ip:"+req.ClientIP,
			domain.DeployRateLimitPerIP,
			int(domain.DeployRateLimitWindow.Seconds()),
		)
		if ipErr != nil {
			logger.WarnContext(ctx, "ip rate limit check failed, proceeding (fail-open)",
				"error", ipErr, "client_ip", req.ClientIP)
		} else if !ipAllowed {
			rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", "deploy"),
				attribute.String("limit_type", "ip"),
			))
			span.SetStatus(codes.Error, "IP rate limited")
			return nil, fmt.Errorf("client %s: %w", req.ClientIP, domain.ErrRateLimited)
		}
	}

	// 5. Serialize deploys per app. The lock TTL covers a crashed build.
	lockKey := "deploy:lock:" + appName.String()
	acquired, err := s.locks.Acquire(ctx, lockKey, domain.BuildLockTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	if !acquired {
		span.SetStatus(codes.Error, "deploy in progress")
		return nil, fmt.Errorf("app %s: %w", appName, domain.ErrDeployInProgress)
	}
	defer func() {
		if rerr := s.locks.Release(context.WithoutCancel(ctx), lockKey); rerr != nil {
			logger.WarnContext(ctx, "failed to release build lock", "error", rerr, "key", lockKey)
		}
	}()

	// 6. Create the registry record.
	deployID := domain.GenerateDeployID()
	now := s.clock.Now().UTC()

	rec := DeployRecord{
		DeployID:   deployID.String(),
		App:        appName.String(),
		ImageTag:   fmt.Sprintf("gantry/%s:%s", appName, deployID.Short()),
		Status:     string(domain.DeployStatusPending),
		SourceKind: string(kind),
		SourceRef:  sourceRef,
		CreatedAt:  now.Format(time.RFC3339),
	}
	if s.deployTTL > 0 {
		rec.ExpiresAt = now.Add(s.deployTTL).Format(time.RFC3339)
	}

	if err := s.registry.Create(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create deploy record: %w", err)
	}

	deployStartedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source_kind", string(kind))))
	span.SetAttributes(attribute.String("deploy_id", rec.DeployID))
	logger.InfoContext(ctx, "deploy.started",
		"deploy_id", rec.DeployID, "app", rec.App, "source_kind", rec.SourceKind, "subject", req.Subject)

	// 7. Validate: materialize the build context and resolve the recipe.
	var (
		contextDir string
		rcp        recipe.Recipe
		manifest   *recipe.Manifest
	)
	verr := s.runPhase(ctx, events, rec.DeployID, deploystream.PhaseValidate, func(ctx context.Context) error {
		var err error
		switch kind {
		case domain.SourceKindUpload:
			contextDir, err = s.workspace.UnpackArchive(ctx, rec.DeployID, req.Archive)
		case domain.SourceKindGit:
			cloneCtx, cancel := context.WithTimeout(ctx, domain.GitCloneTimeout)
			defer cancel()
			contextDir, err = s.workspace.CloneGit(cloneCtx, rec.DeployID, req.GitURL, req.GitRef)
		}
		if err != nil {
			return err
		}

		manifest, err = recipe.LoadManifest(contextDir)
		if err != nil {
			return err
		}

		if recipe.HasDockerfile(contextDir) {
			text, err := recipe.ReadDockerfile(contextDir)
			if err != nil {
				return err
			}
			rcp, err = recipe.Parse(text)
			if err != nil {
				return err
			}
		} else {
			rcp = manifest.Apply(recipe.Default())
		}

		if err := rcp.Validate(); err != nil {
			return err
		}
		for _, warning := range rcp.Warnings() {
			logger.WarnContext(ctx, "recipe warning", "deploy_id", rec.DeployID, "warning", warning)
		}

		if err := recipe.CheckContext(contextDir, rcp); err != nil {
			return err
		}

		if !recipe.HasDockerfile(contextDir) {
			if err := recipe.WriteDockerfile(contextDir, rcp); err != nil {
				return err
			}
		}
		return nil
	})
	defer func() {
		if cerr := s.workspace.Cleanup(rec.DeployID); cerr != nil {
			logger.WarnContext(ctx, "failed to clean up build context", "error", cerr, "deploy_id", rec.DeployID)
		}
	}()
	if verr != nil {
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseValidate, verr, nil)
	}
	rec.ContainerPort = rcp.Port

	// 8. Build the image, relaying engine output to the event stream.
	if err := s.registry.UpdateStatus(ctx, rec.DeployID, domain.DeployStatusBuilding, ""); err != nil {
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseBuild, fmt.Errorf("update deploy status: %w", err), nil)
	}
	berr := s.runPhase(ctx, events, rec.DeployID, deploystream.PhaseBuild, func(ctx context.Context) error {
		buildCtx, cancel := context.WithTimeout(ctx, s.buildTimeout)
		defer cancel()
		return s.builder.Build(buildCtx, contextDir, rec.ImageTag, func(line string) {
			events.emit(deploystream.FrameTypeBuildOutput, deploystream.BuildOutput{Line: line})
		})
	})
	if berr != nil {
		s.cleanupFailed(ctx, logger, rec, "")
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseBuild, berr, nil)
	}

	// 9. Verify the built image against the recipe's runtime contract.
	if err := s.registry.UpdateStatus(ctx, rec.DeployID, domain.DeployStatusVerifying, ""); err != nil {
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseVerify, fmt.Errorf("update deploy status: %w", err), nil)
	}
	xerr := s.runPhase(ctx, events, rec.DeployID, deploystream.PhaseVerify, func(ctx context.Context) error {
		facts, err := s.builder.Inspect(ctx, rec.ImageTag)
		if err != nil {
			return fmt.Errorf("inspect built image: %w", err)
		}
		if violations := contractViolations(rcp, facts); len(violations) > 0 {
			return fmt.Errorf("%s: %w", strings.Join(violations, "; "), domain.ErrImageContract)
		}
		return nil
	})
	if xerr != nil {
		s.cleanupFailed(ctx, logger, rec, "")
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseVerify, xerr, nil)
	}

	// 10. Start the container on a freshly allocated host port. The previous
	// deployment keeps serving until the new one passes its probe.
	prev, err := s.registry.RunningByApp(ctx, rec.App)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseStart, fmt.Errorf("look up running deploy: %w", err), nil)
	}

	if err := s.registry.UpdateStatus(ctx, rec.DeployID, domain.DeployStatusStarting, ""); err != nil {
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseStart, fmt.Errorf("update deploy status: %w", err), nil)
	}
	var containerID string
	serr := s.runPhase(ctx, events, rec.DeployID, deploystream.PhaseStart, func(ctx context.Context) error {
		hostPort, err := s.registry.AllocateHostPort(ctx, rec.DeployID, s.portRangeStart, s.portRangeEnd)
		if err != nil {
			return err
		}
		rec.HostPort = hostPort

		containerID, err = s.runtime.Start(ctx, StartSpec{
			DeployID:      rec.DeployID,
			App:           rec.App,
			ImageTag:      rec.ImageTag,
			ContainerPort: rcp.Port,
			HostPort:      hostPort,
			Env:           envList(manifest),
		})
		if err != nil {
			return err
		}
		rec.ContainerID = containerID

		return s.registry.SetContainer(ctx, rec.DeployID, containerID)
	})
	if serr != nil {
		s.cleanupFailed(ctx, logger, rec, containerID)
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseStart, serr, nil)
	}

	// 11. Probe readiness on the published host port.
	perr := s.runPhase(ctx, events, rec.DeployID, deploystream.PhaseProbe, func(ctx context.Context) error {
		path, window := s.probeTarget(manifest)
		url := fmt.Sprintf("http://127.0.0.1:%d%s", rec.HostPort, path)
		return s.prober.WaitReady(ctx, url, window)
	})
	if perr != nil {
		details := map[string]string{}
		if tail := s.lastLogLines(ctx, containerID); tail != "" {
			details["logs"] = tail
		}
		s.cleanupFailed(ctx, logger, rec, containerID)
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseProbe, perr, details)
	}

	// 12. Activate: record running, then retire the previous deployment.
	if err := s.registry.UpdateStatus(ctx, rec.DeployID, domain.DeployStatusRunning, ""); err != nil {
		s.cleanupFailed(ctx, logger, rec, containerID)
		return nil, s.failDeploy(ctx, logger, events, rec, deploystream.PhaseProbe, fmt.Errorf("update deploy status: %w", err), nil)
	}
	rec.Status = string(domain.DeployStatusRunning)

	if prev != nil {
		s.retireDeploy(ctx, logger, *prev, domain.DeployStatusStopped)
	}

	// 13. Prune deploy history in the background. Detached from the request
	// context so client disconnects do not interrupt it.
	pruneCtx := context.WithoutCancel(ctx)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.pruneHistory(pruneCtx, rec.App, rec.ImageTag)
	}()

	url := s.AppURL(rec.App)
	events.emit(deploystream.FrameTypeDeployCompleted, deploystream.DeployCompleted{
		DeployID: rec.DeployID,
		App:      rec.App,
		ImageTag: rec.ImageTag,
		HostPort: rec.HostPort,
		URL:      url,
		Status:   rec.Status,
	})

	deploySucceededTotal.Add(ctx, 1)
	logger.InfoContext(ctx, "deploy.completed",
		"deploy_id", rec.DeployID, "app", rec.App, "image_tag", rec.ImageTag, "host_port", rec.HostPort)

	return &DeployResult{Record: rec, URL: url}, nil
}

// runPhase brackets one pipeline phase with started/completed frames and a
// child span.
func (s *DeployService) runPhase(ctx context.Context, events EventSink, deployID string, phase deploystream.Phase, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "deploy.phase."+string(phase))
	defer span.End()

	events.emit(deploystream.FrameTypePhaseStarted, deploystream.PhaseStarted{DeployID: deployID, Phase: phase})
	start := s.clock.Now()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	events.emit(deploystream.FrameTypePhaseCompleted, deploystream.PhaseCompleted{
		Phase:      phase,
		DurationMs: s.clock.Now().Sub(start).Milliseconds(),
	})
	return nil
}

// failDeploy records a pipeline failure: registry status, failure counter,
// error frame, and log line. Runs detached from the request context so a
// client disconnect cannot leave the record in a non-terminal state.
func (s *DeployService) failDeploy(ctx context.Context, logger *slog.Logger, events EventSink, rec DeployRecord, phase deploystream.Phase, failure error, details map[string]string) error {
	ctx = context.WithoutCancel(ctx)

	span := trace.SpanFromContext(ctx)
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())
	deployFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(phase))))

	if err := s.registry.UpdateStatus(ctx, rec.DeployID, domain.DeployStatusFailed, failure.Error()); err != nil {
		logger.ErrorContext(ctx, "failed to record deploy failure", "error", err, "deploy_id", rec.DeployID)
	}

	he := errmap.ToHTTPError(failure)
	events.emit(deploystream.FrameTypeError, deploystream.Error{
		DeployID: rec.DeployID,
		Phase:    phase,
		Code:     he.Code,
		Message:  he.Message,
		Details:  details,
	})

	logger.ErrorContext(ctx, "deploy.failed",
		"deploy_id", rec.DeployID, "app", rec.App, "phase", string(phase), "error", failure)
	return failure
}

// cleanupFailed removes the container and image left behind by a failed
// deploy. Best effort: the registry row already records the failure, and
// the image builder treats a missing image as removed.
func (s *DeployService) cleanupFailed(ctx context.Context, logger *slog.Logger, rec DeployRecord, containerID string) {
	ctx = context.WithoutCancel(ctx)

	if containerID != "" {
		if err := s.runtime.Remove(ctx, containerID); err != nil {
			logger.WarnContext(ctx, "failed to remove container after failed deploy",
				"error", err, "deploy_id", rec.DeployID, "container_id", containerID)
		}
	}
	if err := s.builder.Remove(ctx, rec.ImageTag); err != nil {
		logger.WarnContext(ctx, "failed to remove image after failed deploy",
			"error", err, "deploy_id", rec.DeployID, "image_tag", rec.ImageTag)
	}
}

// retireDeploy stops a deployment's container and records the terminal
// status. Fail-open: the replacement is already serving, so failures here
// are logged, not returned.
func (s *DeployService) retireDeploy(ctx context.Context, logger *slog.Logger, rec DeployRecord, status domain.DeployStatus) {
	if rec.ContainerID != "" {
		if err := s.runtime.Stop(ctx, rec.ContainerID); err != nil {
			logger.WarnContext(ctx, "failed to stop retired container",
				"error", err, "deploy_id", rec.DeployID, "container_id", rec.ContainerID)
		}
	}
	if err := s.registry.UpdateStatus(ctx, rec.DeployID, status, ""); err != nil {
		logger.WarnContext(ctx, "failed to record retired deploy",
			"error", err, "deploy_id", rec.DeployID, "status", string(status))
	}
}

// pruneHistory trims the app's oldest terminal deployments past the retained
// limit and removes their containers and images.
func (s *DeployService) pruneHistory(ctx context.Context, app, keepImageTag string) {
	pruned, err := s.registry.PruneHistory(ctx, app, domain.DeployHistoryLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to prune deploy history", "error", err, "app", app)
		return
	}

	for _, old := range pruned {
		if old.ContainerID != "" {
			if err := s.runtime.Remove(ctx, old.ContainerID); err != nil {
				s.logger.WarnContext(ctx, "failed to remove pruned container",
					"error", err, "deploy_id", old.DeployID, "container_id", old.ContainerID)
			}
		}
		if old.ImageTag != "" && old.ImageTag != keepImageTag {
			if err := s.builder.Remove(ctx, old.ImageTag); err != nil {
				s.logger.WarnContext(ctx, "failed to remove pruned image",
					"error", err, "deploy_id", old.DeployID, "image_tag", old.ImageTag)
			}
		}
	}
}

// probeTarget resolves the probe path and ready window, letting the app's
// manifest override the daemon defaults.
func (s *DeployService) probeTarget(manifest *recipe.Manifest) (string, time.Duration) {
	path := s.probePath
	window := s.probeWindow
	if manifest != nil {
		if manifest.Health.Path != "" {
			path = manifest.Health.Path
		}
		if manifest.Health.TimeoutSeconds > 0 {
			window = time.Duration(manifest.Health.TimeoutSeconds) * time.Second
		}
	}
	return path, window
}

// lastLogLines captures the tail of a failed container's output for the
// error frame. Best effort; an empty string means logs were unavailable.
func (s *DeployService) lastLogLines(ctx context.Context, containerID string) string {
	if containerID == "" {
		return ""
	}
	rc, err := s.runtime.Logs(ctx, containerID, false, "50")
	if err != nil {
		return ""
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, 16*1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// contractViolations compares the built image against the recipe's runtime
// contract: working directory, declared port, and startup command.
func contractViolations(r recipe.Recipe, facts *ImageFacts) []string {
	var violations []string

	if normalizeDir(facts.Workdir) != normalizeDir(r.Workdir) {
		violations = append(violations, fmt.Sprintf("workdir is %q, recipe requires %q", facts.Workdir, r.Workdir))
	}
	if !slices.Contains(facts.ExposedPorts, r.ExposedPort()) {
		violations = append(violations, fmt.Sprintf("declared port %s is not exposed", r.ExposedPort()))
	}
	if !slices.Equal(facts.Cmd, r.Command) {
		violations = append(violations, fmt.Sprintf("startup command is %v, recipe requires %v", facts.Cmd, r.Command))
	}

	return violations
}

func normalizeDir(dir string) string {
	if dir == "/" {
		return dir
	}
	return strings.TrimSuffix(dir, "/")
}

// envList flattens the manifest's env map into sorted KEY=VALUE pairs.
func envList(m *recipe.Manifest) []string {
	if m == nil || len(m.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.Env))
	for k := range m.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m.Env[k])
	}
	return out
}
