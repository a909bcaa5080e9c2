package domain

import "time"

// Normative limits for the deploy pipeline.
// These are compiled defaults that can be overridden via configuration.
const (
	// Source limits
	MaxSourceArchiveBytes  = 128 * 1024 * 1024 // 128 MB max uploaded source archive
	MaxUnpackedSourceBytes = 512 * 1024 * 1024 // 512 MB max unpacked build context

	// Build pipeline timeouts
	BuildTimeout    = 10 * time.Minute // Max time for a single image build
	GitCloneTimeout = 2 * time.Minute  // Max time for a shallow clone
	DockerTimeout   = 30 * time.Second // Max time for non-build engine calls

	// Container lifecycle
	ContainerStopTimeout = 10 * time.Second // SIGTERM grace before SIGKILL

	// Readiness probe
	ProbeInterval    = 1 * time.Second  // Delay between probe attempts
	ProbeTimeout     = 2 * time.Second  // Per-attempt HTTP timeout
	ProbeReadyWindow = 60 * time.Second // Total time for the app to become ready

	// Host port allocation
	DefaultPortRangeStart = 20000
	DefaultPortRangeEnd   = 29999

	// Timeout contracts for backing stores
	RegistryTimeout = 5 * time.Second // Max time for SQLite registry operations
	RedisTimeout    = 2 * time.Second // Max time for Redis operations

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second // Max time to drain in-flight work on shutdown
	ShutdownDrainDelay      = 2 * time.Second  // Health flips to 503 this long before the listener closes
	ShutdownHTTPTimeout     = 15 * time.Second // Max time for in-flight HTTP requests to finish
	ShutdownOTELTimeout     = 5 * time.Second  // Max time to flush telemetry exporters

	// Rate limiting
	DeployRateLimitPerSubject = 5                // Max deploys per token subject per window
	DeployRateLimitPerIP      = 20               // Max deploys per client IP per window
	DeployRateLimitWindow     = 10 * time.Minute // Rate limit window for deploys

	// Build locks
	BuildLockTTL = 15 * time.Minute // Redis lock TTL; covers a stuck build

	// Token configuration
	APITokenLifetime = 30 * 24 * time.Hour // Default API token validity (30 days)

	// Deploy history
	DeployHistoryLimit = 20 // Deploys retained per app before pruning

	// Pagination defaults
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// DeployStatus represents the lifecycle state of a deployment.
type DeployStatus string

const (
	DeployStatusPending   DeployStatus = "pending"
	DeployStatusBuilding  DeployStatus = "building"
	DeployStatusVerifying DeployStatus = "verifying"
	DeployStatusStarting  DeployStatus = "starting"
	DeployStatusRunning   DeployStatus = "running"
	DeployStatusFailed    DeployStatus = "failed"
	DeployStatusStopped   DeployStatus = "stopped"
	DeployStatusExpired   DeployStatus = "expired"
)

// IsValidDeployStatus checks if a deploy status is one of the known states.
func IsValidDeployStatus(s DeployStatus) bool {
	switch s {
	case DeployStatusPending, DeployStatusBuilding, DeployStatusVerifying,
		DeployStatusStarting, DeployStatusRunning, DeployStatusFailed,
		DeployStatusStopped, DeployStatusExpired:
		return true
	}
	return false
}

// IsTerminal returns true if the status admits no further transitions.
func (s DeployStatus) IsTerminal() bool {
	return s == DeployStatusFailed || s == DeployStatusStopped || s == DeployStatusExpired
}

// SourceKind represents how deploy source code arrives.
type SourceKind string

const (
	SourceKindUpload SourceKind = "upload"
	SourceKindGit    SourceKind = "git"
)

// IsValidSourceKind checks if a source kind is supported.
func IsValidSourceKind(k SourceKind) bool {
	return k == SourceKindUpload || k == SourceKindGit
}
