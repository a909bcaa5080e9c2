// Package docker provides the shared Docker Engine client factory.
// Only this package may import the moby SDK — adapters in other packages
// use the re-exported types and helpers defined here.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Config holds Docker Engine connection parameters.
type Config struct {
	// Host overrides the engine endpoint (e.g. "unix:///var/run/docker.sock"
	// or "tcp://127.0.0.1:2375"). When empty, DOCKER_HOST and the platform
	// default apply.
	Host string

	// Timeout bounds the startup liveness ping.
	Timeout time.Duration
}

// Client wraps the moby SDK client.
// Adapters access the underlying SDK client via the Engine field.
type Client struct {
	// Engine is the underlying Docker Engine API client.
	Engine *client.Client
}

// NewClient creates an engine client configured from cfg. Construction does
// not touch the network; call Ping to verify the engine is reachable.
func NewClient(cfg Config) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &Client{Engine: cli}, nil
}

// Ping verifies the engine is reachable, bounded by the configured timeout.
// The daemon calls this once at startup so a misconfigured DOCKER_HOST
// fails before the API starts accepting deploys.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := c.Engine.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker engine: %w", err)
	}
	return nil
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.Engine.Close()
}

// ---------------------------------------------------------------------------
// Type aliases — adapters import docker.BuildOptions instead of the SDK.
// ---------------------------------------------------------------------------

// Image operation types.
type (
	BuildOptions        = types.ImageBuildOptions
	BuildResponse       = types.ImageBuildResponse
	ImageInspect        = types.ImageInspect
	ImageRemoveOptions  = types.ImageRemoveOptions
	ImageDeleteResponse = image.DeleteResponse
)

// Container operation types.
type (
	ContainerConfig  = container.Config
	HostConfig       = container.HostConfig
	RestartPolicy    = container.RestartPolicy
	CreateResponse   = container.CreateResponse
	ContainerJSON    = types.ContainerJSON
	ContainerSummary = types.Container
	ListOptions      = container.ListOptions
	StartOptions     = container.StartOptions
	StopOptions      = container.StopOptions
	LogsOptions      = container.LogsOptions
	RemoveOptions    = container.RemoveOptions
)

// ContainerCreate parameter types. NetworkingConfig and Platform are almost
// always nil here; the aliases exist so narrow engine interfaces can spell
// out the full SDK method signature.
type (
	NetworkingConfig = network.NetworkingConfig
	Platform         = ocispec.Platform
)

// Port binding types from go-connections.
type (
	Port        = nat.Port
	PortSet     = nat.PortSet
	PortMap     = nat.PortMap
	PortBinding = nat.PortBinding
)

// RestartPolicyUnlessStopped restarts a container with the engine unless it
// was explicitly stopped. Deployed apps use it so a daemon host reboot
// brings them back without a redeploy.
const RestartPolicyUnlessStopped = container.RestartPolicyUnlessStopped

// JSONMessage is one message of the engine's build output stream.
type JSONMessage = jsonmessage.JSONMessage

// ---------------------------------------------------------------------------
// Helper re-exports — so adapters avoid importing moby subpackages.
// ---------------------------------------------------------------------------

// NewPort builds a nat.Port from a proto and port number (e.g. "tcp", "5001").
var NewPort = nat.NewPort

// TarBuildContext packages a directory as an uncompressed tar stream for
// ImageBuild. The caller closes the returned reader. The tar is produced
// lazily, so the directory is checked up front rather than surfacing a
// stat error mid-stream.
func TarBuildContext(dir string) (io.ReadCloser, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("tar build context: %w", err)
	}
	rc, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("tar build context: %w", err)
	}
	return rc, nil
}

// DecompressStream wraps a possibly-compressed archive stream (gzip, bzip2,
// xz, or plain) with the matching decompressor.
var DecompressStream = archive.DecompressStream

// UntarUncompressed unpacks an uncompressed tar stream into dest, guarding
// against path traversal. Callers that accept compressed uploads decompress
// first so they can cap the unpacked byte count.
var UntarUncompressed = archive.UntarUncompressed

// StdCopy demultiplexes an engine-attached stream (such as container logs
// without a TTY) into separate stdout and stderr writers.
var StdCopy = stdcopy.StdCopy

// NewStdoutWriter wraps w so writes carry the engine's stdout stream
// framing. Tests use this to fabricate multiplexed log streams.
func NewStdoutWriter(w io.Writer) io.Writer {
	return stdcopy.NewStdWriter(w, stdcopy.Stdout)
}

// NewStderrWriter wraps w so writes carry the engine's stderr stream framing.
func NewStderrWriter(w io.Writer) io.Writer {
	return stdcopy.NewStdWriter(w, stdcopy.Stderr)
}

// ---------------------------------------------------------------------------
// Error classification helpers — adapters check error kinds without SDK import.
// ---------------------------------------------------------------------------

// IsNotFound reports whether err is the engine's not-found error
// (missing image or container).
var IsNotFound = errdefs.IsNotFound

// IsConflict reports whether err is the engine's conflict error
// (e.g. removing a running container).
var IsConflict = errdefs.IsConflict

// ErrNotFound returns an engine not-found error suitable for testing.
// Production code should never construct this error — the engine returns it.
// This helper exists so adapter tests can exercise the IsNotFound code path
// without importing the SDK.
func ErrNotFound(msg string) error {
	return errdefs.NotFound(errors.New(msg))
}

// ErrConflict returns an engine conflict error suitable for testing.
func ErrConflict(msg string) error {
	return errdefs.Conflict(errors.New(msg))
}
