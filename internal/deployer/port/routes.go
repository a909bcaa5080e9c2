// Package port exposes the deployer's HTTP surface: the control-plane API
// under /api/v1, bearer-token authentication, and the host-based reverse
// proxy that serves deployed apps.
package port

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gantryhq/gantry/internal/auth"
)

// RouterConfig holds the handlers and middleware Register wires up.
type RouterConfig struct {
	Deploys *DeployHandler
	Tokens  *TokenHandler
	Auth    *AuthMiddleware
	Proxy   *AppProxy
}

// Register mounts the app reverse proxy and the control-plane API.
// The proxy is installed first so it sees every request: app traffic is
// routed by hostname and must never collide with API paths.
func Register(r *fiber.App, cfg RouterConfig) {
	r.Use(cfg.Proxy.Handle)

	api := r.Group("/api").Group("/v1", cfg.Auth.Authenticate)

	api.Post("/apps/:name/deploys", RequireScope(auth.ScopeDeploy), cfg.Deploys.Create)
	api.Get("/apps/:name/deploys/latest", RequireScope(auth.ScopeDeploy), cfg.Deploys.Latest)
	api.Get("/deploys", RequireScope(auth.ScopeDeploy), cfg.Deploys.List)
	api.Get("/deploys/:id", RequireScope(auth.ScopeDeploy), cfg.Deploys.Get)
	api.Get("/deploys/:id/logs", RequireScope(auth.ScopeDeploy), cfg.Deploys.Logs)
	api.Delete("/deploys/:id", RequireScope(auth.ScopeDeploy), cfg.Deploys.Stop)

	api.Post("/tokens", RequireScope(auth.ScopeAdmin), cfg.Tokens.Create)
	api.Delete("/tokens/:jti", RequireScope(auth.ScopeAdmin), cfg.Tokens.Revoke)
}
