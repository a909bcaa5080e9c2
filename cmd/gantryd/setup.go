package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/deployer/adapter"
	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/deployer/port"
	"github.com/gantryhq/gantry/internal/docker"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/redis"
	"github.com/gantryhq/gantry/internal/sqlite"
)

// setup is the gantryd composition root. It creates infrastructure clients,
// adapters, the deploy and token services, and mounts the HTTP surface.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger, fiberApp *fiber.App) (func(context.Context), error) {
	// 1. Infrastructure clients.
	dockerClient, err := docker.NewClient(docker.Config{
		Host:    cfg.Docker.Host,
		Timeout: cfg.Docker.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gantryd setup: create docker client: %w", err)
	}
	if err := dockerClient.Ping(ctx, cfg.Docker.Timeout); err != nil {
		_ = dockerClient.Close()
		return nil, fmt.Errorf("gantryd setup: docker engine unreachable: %w", err)
	}

	sqliteClient, err := sqlite.NewClient(ctx, sqlite.Config{
		Path:    cfg.RegistryPath(),
		Timeout: cfg.Registry.Timeout,
	})
	if err != nil {
		_ = dockerClient.Close()
		return nil, fmt.Errorf("gantryd setup: open deploy registry: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	// 2. Adapters.
	registry, err := adapter.NewDeployRegistry(ctx, sqliteClient, cfg.Registry.Timeout)
	if err != nil {
		_ = sqliteClient.Close()
		_ = dockerClient.Close()
		return nil, fmt.Errorf("gantryd setup: init deploy registry: %w", err)
	}

	workspace, err := adapter.NewBuildWorkspace(adapter.WorkspaceConfig{
		Root: filepath.Join(cfg.Deploy.DataDir, "contexts"),
	})
	if err != nil {
		_ = sqliteClient.Close()
		_ = dockerClient.Close()
		return nil, fmt.Errorf("gantryd setup: init build workspace: %w", err)
	}

	builder := adapter.NewImageBuilder(dockerClient.Engine)
	runtime := adapter.NewContainerRuntime(dockerClient.Engine)
	prober := adapter.NewHTTPProber(adapter.ProberConfig{})
	rateLimiter := adapter.NewRateLimiter(redisClient.RDB)
	locks := adapter.NewBuildLockStore(redisClient.RDB)
	revocations := adapter.NewRevocationStore(redisClient.RDB)

	// 3. Key store (environment-dependent) + auth core.
	clock := domain.RealClock{}
	keyStore, err := createKeyStore(cfg, logger)
	if err != nil {
		_ = sqliteClient.Close()
		_ = dockerClient.Close()
		return nil, fmt.Errorf("gantryd setup: create key store: %w", err)
	}

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: keyStore,
		TokenTTL: domain.APITokenLifetime,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Clock:    clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Clock:    clock,
	})

	// 4. Services.
	deploySvc := app.NewDeployService(app.DeployServiceConfig{
		Registry:    registry,
		Workspace:   workspace,
		Builder:     builder,
		Runtime:     runtime,
		Prober:      prober,
		RateLimiter: rateLimiter,
		Locks:       locks,
		Clock:       clock,
		Logger:      logger,

		PortRangeStart: cfg.Deploy.PortStart,
		PortRangeEnd:   cfg.Deploy.PortEnd,
		BaseDomain:     cfg.Server.BaseDomain,
		DeployTTL:      cfg.Deploy.TTL,
		BuildTimeout:   cfg.Docker.BuildTimeout,
		ProbePath:      cfg.Probe.Path,
		ProbeWindow:    cfg.Probe.ReadyTimeout,
	})
	deploySvc.StartReaper(ctx, cfg.Deploy.ReapInterval)

	tokenSvc := app.NewTokenService(app.TokenServiceConfig{
		Minter:      minter,
		Revocations: revocations,
		Logger:      logger,
	})

	// 5. HTTP surface: reverse proxy, then the control-plane API.
	port.Register(fiberApp, port.RouterConfig{
		Deploys: port.NewDeployHandler(deploySvc),
		Tokens:  port.NewTokenHandler(tokenSvc),
		Auth:    port.NewAuthMiddleware(validator, revocations),
		Proxy:   port.NewAppProxy(deploySvc, cfg.Server.BaseDomain, logger),
	})

	logger.InfoContext(ctx, "gantryd initialized",
		slog.String("base_domain", cfg.Server.BaseDomain),
		slog.String("registry", cfg.RegistryPath()),
		slog.Int("port_start", cfg.Deploy.PortStart),
		slog.Int("port_end", cfg.Deploy.PortEnd),
	)

	cleanup := func(_ context.Context) {
		deploySvc.Wait()
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client", slog.String("error", err.Error()))
		}
		if err := sqliteClient.Close(); err != nil {
			logger.Error("close deploy registry", slog.String("error", err.Error()))
		}
		if err := dockerClient.Close(); err != nil {
			logger.Error("close docker client", slog.String("error", err.Error()))
		}
	}
	return cleanup, nil
}

// createKeyStore returns the signing key store for the environment.
// Local: generates an ephemeral RSA pair, so every restart invalidates old
// tokens. Production: loads the PEM pair named in config.
func createKeyStore(cfg *config.Config, logger *slog.Logger) (auth.KeyStore, error) {
	if cfg.Auth.PrivateKey == "" && cfg.Auth.PublicKey == "" && cfg.IsLocal() {
		keys, err := auth.GenerateEphemeralKeyStore()
		if err != nil {
			return nil, fmt.Errorf("generate dev RSA key: %w", err)
		}
		logger.Info("using ephemeral RSA key pair, minted tokens die with this process")
		return keys, nil
	}
	return auth.LoadFileKeyStore(cfg.Auth.PrivateKey, cfg.Auth.PublicKey)
}
