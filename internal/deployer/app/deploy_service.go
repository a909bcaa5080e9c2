package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/recipe"
	"github.com/gantryhq/gantry/pkg/deploystream"
)

var tracer = otel.Tracer("deployer/app")

var (
	deployStartedTotal   metric.Int64Counter
	deploySucceededTotal metric.Int64Counter
	deployFailedTotal    metric.Int64Counter
	deployStoppedTotal   metric.Int64Counter
	deployExpiredTotal   metric.Int64Counter
	rateLimitsTotal      metric.Int64Counter
)

func init() {
	m := otel.Meter("deployer/app")

	deployStartedTotal, _ = m.Int64Counter("deploy_started_total",
		metric.WithDescription("Total deploys started"))
	deploySucceededTotal, _ = m.Int64Counter("deploy_succeeded_total",
		metric.WithDescription("Total deploys that reached running"))
	deployFailedTotal, _ = m.Int64Counter("deploy_failed_total",
		metric.WithDescription("Total failed deploys"))
	deployStoppedTotal, _ = m.Int64Counter("deploy_stopped_total",
		metric.WithDescription("Total deploys stopped through the API"))
	deployExpiredTotal, _ = m.Int64Counter("deploy_expired_total",
		metric.WithDescription("Total deploys retired by the TTL reaper"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total rate limit hits"))
}

// DeployRecord represents a deployment row in the registry.
// Structurally mirrors the adapter row; the wiring layer converts between them.
// Timestamps are RFC3339 UTC strings.
type DeployRecord struct {
	DeployID      string
	App           string
	ImageTag      string
	ContainerID   string
	ContainerPort int
	HostPort      int
	Status        string
	Error         string
	SourceKind    string
	SourceRef     string
	CreatedAt     string
	ExpiresAt     string
}

// ImageFacts is the image metadata the contract check inspects after a build.
type ImageFacts struct {
	ID           string
	Workdir      string
	ExposedPorts []string // "<port>/tcp" form
	Cmd          []string
	Entrypoint   []string
	SizeBytes    int64
}

// StartSpec describes the container to create and start for a deployment.
type StartSpec struct {
	DeployID      string
	App           string
	ImageTag      string
	ContainerPort int
	HostPort      int
	Env           []string // KEY=VALUE pairs
}

// Registry persists deployment records.
type Registry interface {
	Create(ctx context.Context, rec DeployRecord) error
	GetByID(ctx context.Context, deployID string) (*DeployRecord, error)
	LatestByApp(ctx context.Context, app string) (*DeployRecord, error)
	RunningByApp(ctx context.Context, app string) (*DeployRecord, error)
	List(ctx context.Context, app string, limit int) ([]DeployRecord, error)
	UpdateStatus(ctx context.Context, deployID string, status domain.DeployStatus, reason string) error
	SetContainer(ctx context.Context, deployID, containerID string) error
	AllocateHostPort(ctx context.Context, deployID string, start, end int) (int, error)
	ListExpired(ctx context.Context, cutoff string) ([]DeployRecord, error)
	PruneHistory(ctx context.Context, app string, keep int) ([]DeployRecord, error)
}

// Workspace materializes build contexts on local disk.
type Workspace interface {
	UnpackArchive(ctx context.Context, deployID string, archive io.Reader) (string, error)
	CloneGit(ctx context.Context, deployID, repoURL, ref string) (string, error)
	Cleanup(deployID string) error
}

// ImageBuilder builds, inspects, and removes app images.
type ImageBuilder interface {
	Build(ctx context.Context, contextDir, imageTag string, onOutput func(line string)) error
	Inspect(ctx context.Context, imageTag string) (*ImageFacts, error)
	Remove(ctx context.Context, imageTag string) error
}

// ContainerRuntime creates, stops, and streams logs from app containers.
type ContainerRuntime interface {
	Start(ctx context.Context, spec StartSpec) (containerID string, err error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Logs(ctx context.Context, containerID string, follow bool, tail string) (io.ReadCloser, error)
}

// ReadinessProber polls an app's health endpoint until it answers.
type ReadinessProber interface {
	WaitReady(ctx context.Context, url string, window time.Duration) error
}

// RateLimiter checks and enforces rate limits.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, key string, limit, windowSeconds int) (bool, error)
}

// LockStore serializes deploys per app.
type LockStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RevocationStore tracks revoked token IDs.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// EventSink receives progress frames while a deploy runs. A nil sink
// discards them.
type EventSink func(frame deploystream.Frame)

// emit builds and delivers one frame. Payloads are this package's own
// structs, so marshal failures are programming errors and are dropped.
func (sink EventSink) emit(frameType deploystream.FrameType, payload any) {
	if sink == nil {
		return
	}
	frame, err := deploystream.NewFrame(frameType, payload)
	if err != nil {
		return
	}
	sink(*frame)
}

// DeployRequest carries the inputs for one deploy.
type DeployRequest struct {
	App      string
	Subject  string // token subject, recorded for audit logging
	ClientIP string

	// Exactly one source: Archive for uploads, GitURL for clone-based deploys.
	Archive     io.Reader
	ArchiveName string
	GitURL      string
	GitRef      string
}

// source resolves the request's source kind and reference string.
func (r DeployRequest) source() (domain.SourceKind, string, error) {
	switch {
	case r.Archive != nil && r.GitURL != "":
		return "", "", fmt.Errorf("deploy source must be an archive or a git url, not both: %w", domain.ErrInvalidInput)
	case r.Archive != nil:
		ref := r.ArchiveName
		if ref == "" {
			ref = "upload"
		}
		return domain.SourceKindUpload, ref, nil
	case r.GitURL != "":
		ref := r.GitURL
		if r.GitRef != "" {
			ref += "#" + r.GitRef
		}
		return domain.SourceKindGit, ref, nil
	default:
		return "", "", fmt.Errorf("deploy source required: %w", domain.ErrInvalidInput)
	}
}

// DeployResult is returned by Deploy on success.
type DeployResult struct {
	Record DeployRecord
	URL    string
}

// DeployServiceConfig holds the dependencies for DeployService.
type DeployServiceConfig struct {
	Registry    Registry
	Workspace   Workspace
	Builder     ImageBuilder
	Runtime     ContainerRuntime
	Prober      ReadinessProber
	RateLimiter RateLimiter
	Locks       LockStore
	Clock       domain.Clock
	Logger      *slog.Logger

	PortRangeStart int
	PortRangeEnd   int
	BaseDomain     string
	DeployTTL      time.Duration // 0 keeps deployments until stopped
	BuildTimeout   time.Duration
	ProbePath      string
	ProbeWindow    time.Duration
}

// DeployService orchestrates the deploy pipeline and the deployment
// lifecycle: validate, build, verify, start, probe, and the follow-up
// queries, log streaming, stop, and TTL reaping.
type DeployService struct {
	registry    Registry
	workspace   Workspace
	builder     ImageBuilder
	runtime     ContainerRuntime
	prober      ReadinessProber
	rateLimiter RateLimiter
	locks       LockStore
	clock       domain.Clock
	logger      *slog.Logger

	portRangeStart int
	portRangeEnd   int
	baseDomain     string
	deployTTL      time.Duration
	buildTimeout   time.Duration
	probePath      string
	probeWindow    time.Duration

	bgWG sync.WaitGroup // owns background goroutines (retire, prune, reaper)
}

// NewDeployService creates a DeployService with the given dependencies.
func NewDeployService(cfg DeployServiceConfig) *DeployService {
	s := &DeployService{
		registry:       cfg.Registry,
		workspace:      cfg.Workspace,
		builder:        cfg.Builder,
		runtime:        cfg.Runtime,
		prober:         cfg.Prober,
		rateLimiter:    cfg.RateLimiter,
		locks:          cfg.Locks,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		portRangeStart: cfg.PortRangeStart,
		portRangeEnd:   cfg.PortRangeEnd,
		baseDomain:     cfg.BaseDomain,
		deployTTL:      cfg.DeployTTL,
		buildTimeout:   cfg.BuildTimeout,
		probePath:      cfg.ProbePath,
		probeWindow:    cfg.ProbeWindow,
	}

	if s.portRangeStart == 0 {
		s.portRangeStart = domain.DefaultPortRangeStart
	}
	if s.portRangeEnd == 0 {
		s.portRangeEnd = domain.DefaultPortRangeEnd
	}
	if s.buildTimeout <= 0 {
		s.buildTimeout = domain.BuildTimeout
	}
	if s.probePath == "" {
		s.probePath = recipe.DefaultHealthPath
	}
	if s.probeWindow <= 0 {
		s.probeWindow = domain.ProbeReadyWindow
	}

	return s
}

// AppURL returns the routed URL for an app's running deployment.
func (s *DeployService) AppURL(app string) string {
	return fmt.Sprintf("http://%s.%s", app, s.baseDomain)
}

// Wait blocks until all background goroutines owned by this service complete.
// The caller (wiring layer) must invoke this during graceful shutdown to
// satisfy the goroutine ownership contract.
func (s *DeployService) Wait() {
	s.bgWG.Wait()
}
