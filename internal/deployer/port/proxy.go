package port

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/gantryhq/gantry/internal/deployer/app"
)

// runningResolver is a narrow, consumer-defined interface for the lookup the
// proxy requires. The *app.DeployService satisfies this.
type runningResolver interface {
	RunningDeploy(ctx context.Context, appName string) (*app.DeployRecord, error)
}

// AppProxy routes requests addressed to an app hostname into the app's
// running container. It matches on the Host header alone: a request for
// <app>.<base-domain> is forwarded to the deployment's loopback host port,
// everything else falls through to the control-plane routes.
type AppProxy struct {
	deploys    runningResolver
	baseDomain string
	logger     *slog.Logger
}

// NewAppProxy creates an AppProxy for apps under baseDomain.
func NewAppProxy(svc *app.DeployService, baseDomain string, logger *slog.Logger) *AppProxy {
	return &AppProxy{
		deploys:    svc,
		baseDomain: strings.ToLower(strings.TrimPrefix(baseDomain, ".")),
		logger:     logger,
	}
}

// Handle proxies app-hostname requests and passes everything else on.
// Only running deployments receive traffic; an app with no running
// deployment answers 404 rather than hitting a stale container.
func (p *AppProxy) Handle(c *fiber.Ctx) error {
	appName, ok := p.appFor(c.Hostname())
	if !ok {
		return c.Next()
	}

	rec, err := p.deploys.RunningDeploy(c.Context(), appName)
	if err != nil {
		return writeError(c, err)
	}

	target := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort("127.0.0.1", strconv.Itoa(rec.HostPort)),
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn("app proxy upstream error",
			"app", appName,
			"host_port", rec.HostPort,
			"error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"UPSTREAM_ERROR","message":"app did not answer"}}`))
	}

	return adaptor.HTTPHandler(proxy)(c)
}

// appFor extracts the app name from a request host. It returns false for
// the daemon's own host, bare base-domain requests, and nested subdomains.
func (p *AppProxy) appFor(host string) (string, bool) {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	name, ok := strings.CutSuffix(host, "."+p.baseDomain)
	if !ok || name == "" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}
