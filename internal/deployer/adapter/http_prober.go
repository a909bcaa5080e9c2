package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/domain"
)

// Compile-time check: HTTPProber satisfies app.ReadinessProber.
var _ app.ReadinessProber = (*HTTPProber)(nil)

// HTTPProber polls an app's health endpoint until it answers. The deployed
// program is a black box: any HTTP response, whatever its status or body,
// proves the process is up and listening on its declared port, which is all
// the platform asserts.
type HTTPProber struct {
	client   *http.Client
	interval time.Duration
}

// ProberConfig holds HTTPProber parameters. Zero values take the domain
// defaults.
type ProberConfig struct {
	// Interval is the delay between attempts.
	Interval time.Duration

	// AttemptTimeout bounds each individual request.
	AttemptTimeout time.Duration
}

// NewHTTPProber creates an HTTPProber.
func NewHTTPProber(cfg ProberConfig) *HTTPProber {
	interval := cfg.Interval
	if interval <= 0 {
		interval = domain.ProbeInterval
	}
	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = domain.ProbeTimeout
	}
	return &HTTPProber{
		client:   &http.Client{Timeout: attemptTimeout},
		interval: interval,
	}
}

// WaitReady polls url until any HTTP response arrives or the window closes.
// Returns domain.ErrProbeFailed carrying the last attempt's error when the
// app never answers, or ctx.Err() if the caller gives up first.
func (p *HTTPProber) WaitReady(ctx context.Context, url string, window time.Duration) error {
	ctx, span := tracer.Start(ctx, "probe.wait_ready")
	defer span.End()
	span.SetAttributes(attribute.String("probe.url", url))

	deadline := time.Now().Add(window)
	var lastErr error

	for attempt := 1; ; attempt++ {
		status, err := p.attempt(ctx, url)
		if err == nil {
			span.SetAttributes(
				attribute.Int("probe.attempts", attempt),
				attribute.Int("probe.status", status),
			)
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "probe canceled")
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}

	err := fmt.Errorf("no response from %s within %s (last error: %v): %w",
		url, window, lastErr, domain.ErrProbeFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// attempt performs one GET. A response of any status counts as ready.
func (p *HTTPProber) attempt(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
