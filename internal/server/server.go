// Package server provides the daemon lifecycle runner: signal handling,
// config loading, observability init, the Fiber HTTP server with its health
// endpoint, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/observability"
)

// Params configures the lifecycle runner.
type Params struct {
	// Name identifies the service in logs, telemetry, and health replies.
	Name string

	// Setup wires routes and services onto the Fiber app once config and
	// observability are ready. The returned cleanup runs during shutdown
	// after the HTTP server has drained; it may be nil.
	Setup func(ctx context.Context, cfg *config.Config, logger *slog.Logger, app *fiber.App) (func(ctx context.Context), error)
}

// healthReply is the health endpoint body.
type healthReply struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Run executes the full daemon lifecycle: signal handling, config loading,
// observability initialization, route setup, serving, and graceful shutdown.
// If ln is non-nil, it is used instead of creating a new listener from
// config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Structured logging with secret redaction
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: tracer -> metrics -> routes -> HTTP server ---

	tracerProvider, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		shutdownOTEL(ctx, logger, nil, tracerProvider)
		return fmt.Errorf("initialize metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               p.Name,
		DisableStartupMessage: true,
		// Uploads carry whole build contexts; reads must outlast slow links
		// and responses stream for as long as a deploy runs.
		BodyLimit:   int(domain.MaxSourceArchiveBytes) + (1 << 20),
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
	})

	// Setup installs the reverse proxy and API routes ahead of the health
	// endpoint, so app-hostname traffic never hits daemon routes.
	cleanup := func(context.Context) {}
	if p.Setup != nil {
		c, setupErr := p.Setup(ctx, cfg, logger, app)
		if setupErr != nil {
			shutdownOTEL(ctx, logger, metricsProvider, tracerProvider)
			return fmt.Errorf("setup %s: %w", p.Name, setupErr)
		}
		if c != nil {
			cleanup = c
		}
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool
	app.Get("/check", func(c *fiber.Ctx) error {
		if shuttingDown.Load() {
			return c.Status(fiber.StatusServiceUnavailable).
				JSON(healthReply{Status: "shutting_down", Service: p.Name})
		}
		return c.JSON(healthReply{Status: "ok", Service: p.Name})
	})

	// Bind listener (use injected listener or create from config).
	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.Server.HTTPPort))
		if err != nil {
			shutdownOTEL(ctx, logger, metricsProvider, tracerProvider)
			return fmt.Errorf("listen: %w", err)
		}
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	// Goroutine 1: Serve HTTP
	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		return app.Listener(ln)
	})

	// Goroutine 2: Shutdown trigger — waits for context cancellation, then
	// drains in explicit reverse of startup: HTTP -> services -> metrics ->
	// tracer.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down — health checks return 503
		shuttingDown.Store(true)

		// 2. Drain delay — let load balancer propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Drain HTTP. Follow-mode log streams never end on their own,
		// so the timeout is what actually bounds this.
		if shutdownErr := app.ShutdownWithTimeout(domain.ShutdownHTTPTimeout); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 4. Stop services and close adapters
		cleanupCtx, cancel := context.WithTimeout(context.Background(), domain.GracefulShutdownTimeout)
		defer cancel()
		cleanup(cleanupCtx)

		// 5. Flush OTEL (reverse: metrics first, then tracer)
		shutdownOTEL(context.Background(), logger, metricsProvider, tracerProvider)

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

// shutdownOTEL flushes and stops the telemetry providers. Either may be nil.
func shutdownOTEL(ctx context.Context, logger *slog.Logger, metrics *observability.MetricsProvider, tracer *observability.TracerProvider) {
	ctx, cancel := context.WithTimeout(ctx, domain.ShutdownOTELTimeout)
	defer cancel()
	if metrics != nil {
		if err := metrics.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics", slog.String("error", err.Error()))
		}
	}
	if tracer != nil {
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}
}
