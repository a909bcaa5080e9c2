package adapter

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/docker"
	"github.com/gantryhq/gantry/internal/domain"
)

// Labels stamped on every container the runtime creates. The reaper and
// operators can find gantry-managed containers by these regardless of
// registry state.
const (
	labelApp      = "io.gantry.app"
	labelDeployID = "io.gantry.deploy-id"
)

// containerEngine is a narrow, consumer-defined interface for the container
// operations the runtime requires. The moby *client.Client satisfies this.
type containerEngine interface {
	ContainerCreate(ctx context.Context, config *docker.ContainerConfig, hostConfig *docker.HostConfig, networkingConfig *docker.NetworkingConfig, platform *docker.Platform, containerName string) (docker.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options docker.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options docker.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options docker.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options docker.LogsOptions) (io.ReadCloser, error)
}

// Compile-time check: ContainerRuntime satisfies app.ContainerRuntime.
var _ app.ContainerRuntime = (*ContainerRuntime)(nil)

// ContainerRuntime creates, stops, and streams logs from app containers
// through the Docker Engine.
type ContainerRuntime struct {
	engine containerEngine
}

// NewContainerRuntime creates a ContainerRuntime over the given engine client.
func NewContainerRuntime(engine containerEngine) *ContainerRuntime {
	return &ContainerRuntime{engine: engine}
}

// Start creates and starts the deployment's container, publishing the
// declared container port on the allocated host port. Create and start are
// atomic from the caller's view: a container that fails to start is removed
// before the error returns, so nothing is leaked.
func (r *ContainerRuntime) Start(ctx context.Context, spec app.StartSpec) (string, error) {
	ctx, span := tracer.Start(ctx, "docker.container.start")
	defer span.End()
	span.SetAttributes(
		attribute.String("app", spec.App),
		attribute.String("image.tag", spec.ImageTag),
		attribute.Int("deploy.host_port", spec.HostPort),
	)

	port, err := docker.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("container port %d: %v: %w", spec.ContainerPort, err, domain.ErrInvalidInput)
	}

	cfg := &docker.ContainerConfig{
		Image:        spec.ImageTag,
		Env:          spec.Env,
		ExposedPorts: docker.PortSet{port: struct{}{}},
		Labels: map[string]string{
			labelApp:      spec.App,
			labelDeployID: spec.DeployID,
		},
	}
	hostCfg := &docker.HostConfig{
		PortBindings: docker.PortMap{
			port: []docker.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
		},
		RestartPolicy: docker.RestartPolicy{Name: docker.RestartPolicyUnlessStopped},
	}

	created, err := r.engine.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(spec))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if docker.IsNotFound(err) {
			return "", fmt.Errorf("create container: image %s: %w", spec.ImageTag, domain.ErrNotFound)
		}
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := r.engine.ContainerStart(ctx, created.ID, docker.StartOptions{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rerr := r.engine.ContainerRemove(context.WithoutCancel(ctx), created.ID, docker.RemoveOptions{Force: true}); rerr != nil {
			span.RecordError(rerr)
		}
		return "", fmt.Errorf("start container: %w", err)
	}

	span.SetAttributes(attribute.String("container.id", created.ID))
	return created.ID, nil
}

// containerName derives the engine-visible name: gantry-<app>-<short id>.
func containerName(spec app.StartSpec) string {
	short := spec.DeployID
	if len(short) > 12 {
		short = short[:12]
	}
	return "gantry-" + spec.App + "-" + short
}

// Stop gracefully stops a container, giving it the configured grace period
// before the engine kills it. Returns domain.ErrNotFound when the container
// no longer exists.
func (r *ContainerRuntime) Stop(ctx context.Context, containerID string) error {
	ctx, span := tracer.Start(ctx, "docker.container.stop")
	defer span.End()
	span.SetAttributes(attribute.String("container.id", containerID))

	grace := int(domain.ContainerStopTimeout.Seconds())
	err := r.engine.ContainerStop(ctx, containerID, docker.StopOptions{Timeout: &grace})
	if err != nil {
		if docker.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", containerID, domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// Remove force-removes a container. A container already gone counts as
// removed.
func (r *ContainerRuntime) Remove(ctx context.Context, containerID string) error {
	ctx, span := tracer.Start(ctx, "docker.container.remove")
	defer span.End()
	span.SetAttributes(attribute.String("container.id", containerID))

	err := r.engine.ContainerRemove(ctx, containerID, docker.RemoveOptions{Force: true})
	if err != nil && !docker.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

// Logs streams a container's combined stdout and stderr. Containers run
// without a TTY, so the engine multiplexes the two streams; the returned
// reader carries them demultiplexed and interleaved. Closing it also stops
// a follow stream.
func (r *ContainerRuntime) Logs(ctx context.Context, containerID string, follow bool, tail string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "docker.container.logs")
	defer span.End()
	span.SetAttributes(
		attribute.String("container.id", containerID),
		attribute.Bool("follow", follow),
	)

	if tail == "" {
		tail = "all"
	}
	raw, err := r.engine.ContainerLogs(ctx, containerID, docker.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
	})
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", containerID, domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("container logs %s: %w", containerID, err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := docker.StdCopy(pw, pw, raw)
		raw.Close()
		pw.CloseWithError(copyErr)
	}()

	return &demuxedLogs{pr: pr, raw: raw}, nil
}

// demuxedLogs is the demultiplexed log stream. Close closes the raw engine
// stream first so a goroutine blocked inside StdCopy on a follow stream
// unblocks immediately.
type demuxedLogs struct {
	pr  *io.PipeReader
	raw io.Closer
}

func (d *demuxedLogs) Read(p []byte) (int, error) { return d.pr.Read(p) }

func (d *demuxedLogs) Close() error {
	_ = d.raw.Close()
	return d.pr.Close()
}
