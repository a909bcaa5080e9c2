package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/docker"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/recipe"
)

// buildEngine is a narrow, consumer-defined interface for the image
// operations the builder requires. The moby *client.Client satisfies this.
type buildEngine interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options docker.BuildOptions) (docker.BuildResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (docker.ImageInspect, []byte, error)
	ImageRemove(ctx context.Context, imageID string, options docker.ImageRemoveOptions) ([]docker.ImageDeleteResponse, error)
}

// Compile-time check: ImageBuilder satisfies app.ImageBuilder.
var _ app.ImageBuilder = (*ImageBuilder)(nil)

// ImageBuilder builds app images through the Docker Engine and translates
// the engine's JSON message stream into plain output lines.
type ImageBuilder struct {
	engine buildEngine
}

// NewImageBuilder creates an ImageBuilder over the given engine client.
func NewImageBuilder(engine buildEngine) *ImageBuilder {
	return &ImageBuilder{engine: engine}
}

// Build tars contextDir, submits it to the engine, and relays each build
// output line to onOutput. The Dockerfile must sit at the context root.
// An engine-reported build error returns domain.ErrBuildFailed carrying
// the engine's message.
func (b *ImageBuilder) Build(ctx context.Context, contextDir, imageTag string, onOutput func(line string)) error {
	ctx, span := tracer.Start(ctx, "docker.image.build")
	defer span.End()
	span.SetAttributes(attribute.String("image.tag", imageTag))

	buildContext, err := docker.TarBuildContext(contextDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer buildContext.Close()

	resp, err := b.engine.ImageBuild(ctx, buildContext, docker.BuildOptions{
		Tags:        []string{imageTag},
		Dockerfile:  recipe.DockerfileName,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("submit image build: %w", err)
	}
	defer resp.Body.Close()

	if err := relayBuildOutput(resp.Body, onOutput); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// relayBuildOutput decodes the engine's message stream. Stream messages are
// Dockerfile step output; status messages report layer pulls during FROM.
// An error message means the build failed; everything after it is noise.
func relayBuildOutput(body io.Reader, onOutput func(line string)) error {
	dec := json.NewDecoder(body)
	for {
		var msg docker.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}

		if msg.Error != nil {
			return fmt.Errorf("%s: %w", msg.Error.Message, domain.ErrBuildFailed)
		}

		line := strings.TrimRight(msg.Stream, "\n")
		if line == "" && msg.Status != "" {
			line = msg.Status
			if msg.ID != "" {
				line = msg.ID + ": " + line
			}
		}
		if line != "" && onOutput != nil {
			onOutput(line)
		}
	}
}

// Inspect returns the built image's contract-relevant metadata.
// Returns domain.ErrNotFound when the image does not exist.
func (b *ImageBuilder) Inspect(ctx context.Context, imageTag string) (*app.ImageFacts, error) {
	ctx, span := tracer.Start(ctx, "docker.image.inspect")
	defer span.End()
	span.SetAttributes(attribute.String("image.tag", imageTag))

	inspect, _, err := b.engine.ImageInspectWithRaw(ctx, imageTag)
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, fmt.Errorf("image %s: %w", imageTag, domain.ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("inspect image %s: %w", imageTag, err)
	}

	facts := &app.ImageFacts{
		ID:        inspect.ID,
		SizeBytes: inspect.Size,
	}
	if cfg := inspect.Config; cfg != nil {
		facts.Workdir = cfg.WorkingDir
		facts.Cmd = []string(cfg.Cmd)
		facts.Entrypoint = []string(cfg.Entrypoint)

		ports := make([]string, 0, len(cfg.ExposedPorts))
		for p := range cfg.ExposedPorts {
			ports = append(ports, string(p))
		}
		sort.Strings(ports)
		facts.ExposedPorts = ports
	}
	return facts, nil
}

// Remove deletes an image and its dangling parents. An image already gone
// counts as removed.
func (b *ImageBuilder) Remove(ctx context.Context, imageTag string) error {
	ctx, span := tracer.Start(ctx, "docker.image.remove")
	defer span.End()
	span.SetAttributes(attribute.String("image.tag", imageTag))

	_, err := b.engine.ImageRemove(ctx, imageTag, docker.ImageRemoveOptions{PruneChildren: true})
	if err != nil && !docker.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("remove image %s: %w", imageTag, err)
	}
	return nil
}
