package adapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/internal/docker"
	"github.com/gantryhq/gantry/internal/domain"
)

// buildEngineStub is a configurable stub for the buildEngine interface.
type buildEngineStub struct {
	imageBuildFn  func(ctx context.Context, buildContext io.Reader, options docker.BuildOptions) (docker.BuildResponse, error)
	inspectFn     func(ctx context.Context, imageID string) (docker.ImageInspect, []byte, error)
	imageRemoveFn func(ctx context.Context, imageID string, options docker.ImageRemoveOptions) ([]docker.ImageDeleteResponse, error)
}

func (s *buildEngineStub) ImageBuild(ctx context.Context, buildContext io.Reader, options docker.BuildOptions) (docker.BuildResponse, error) {
	if s.imageBuildFn != nil {
		return s.imageBuildFn(ctx, buildContext, options)
	}
	return docker.BuildResponse{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (s *buildEngineStub) ImageInspectWithRaw(ctx context.Context, imageID string) (docker.ImageInspect, []byte, error) {
	if s.inspectFn != nil {
		return s.inspectFn(ctx, imageID)
	}
	return docker.ImageInspect{}, nil, nil
}

func (s *buildEngineStub) ImageRemove(ctx context.Context, imageID string, options docker.ImageRemoveOptions) ([]docker.ImageDeleteResponse, error) {
	if s.imageRemoveFn != nil {
		return s.imageRemoveFn(ctx, imageID, options)
	}
	return nil, nil
}

// contextDir creates a minimal build context on disk.
func contextDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM python:3.9-slim\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.py"), []byte("pass\n"), 0o644))
	return dir
}

func buildBody(ndjson string) docker.BuildResponse {
	return docker.BuildResponse{Body: io.NopCloser(strings.NewReader(ndjson))}
}

func TestImageBuilder_Build(t *testing.T) {
	t.Run("submits the tarred context with the expected options", func(t *testing.T) {
		var gotOptions docker.BuildOptions
		var gotContext []byte
		stub := &buildEngineStub{
			imageBuildFn: func(_ context.Context, buildContext io.Reader, options docker.BuildOptions) (docker.BuildResponse, error) {
				gotOptions = options
				data, err := io.ReadAll(buildContext)
				require.NoError(t, err)
				gotContext = data
				return buildBody(""), nil
			},
		}
		builder := NewImageBuilder(stub)

		err := builder.Build(context.Background(), contextDir(t), "gantry/web:abc123", nil)

		require.NoError(t, err)
		assert.Equal(t, []string{"gantry/web:abc123"}, gotOptions.Tags)
		assert.Equal(t, "Dockerfile", gotOptions.Dockerfile)
		assert.True(t, gotOptions.Remove, "intermediate containers should be removed")
		assert.True(t, gotOptions.ForceRemove)
		assert.NotEmpty(t, gotContext, "context tar should carry the directory contents")
	})

	t.Run("relays stream and status lines", func(t *testing.T) {
		stub := &buildEngineStub{
			imageBuildFn: func(context.Context, io.Reader, docker.BuildOptions) (docker.BuildResponse, error) {
				return buildBody(`{"stream":"Step 1/6 : FROM python:3.9-slim\n"}
{"status":"Pulling fs layer","id":"a1b2c3"}
{"status":"Download complete"}
{"stream":"\n"}
{"stream":"Successfully built deadbeef\n"}
`), nil
			},
		}
		builder := NewImageBuilder(stub)

		var lines []string
		err := builder.Build(context.Background(), contextDir(t), "gantry/web:abc123", func(line string) {
			lines = append(lines, line)
		})

		require.NoError(t, err)
		assert.Equal(t, []string{
			"Step 1/6 : FROM python:3.9-slim",
			"a1b2c3: Pulling fs layer",
			"Download complete",
			"Successfully built deadbeef",
		}, lines)
	})

	t.Run("engine-reported build error fails the build", func(t *testing.T) {
		stub := &buildEngineStub{
			imageBuildFn: func(context.Context, io.Reader, docker.BuildOptions) (docker.BuildResponse, error) {
				return buildBody(`{"stream":"Step 4/6 : RUN pip install --no-cache-dir -r requirements.txt\n"}
{"errorDetail":{"message":"The command '/bin/sh -c pip install --no-cache-dir -r requirements.txt' returned a non-zero code: 1"},"error":"pip failed"}
`), nil
			},
		}
		builder := NewImageBuilder(stub)

		err := builder.Build(context.Background(), contextDir(t), "gantry/web:abc123", nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrBuildFailed)
		assert.Contains(t, err.Error(), "returned a non-zero code: 1")
	})

	t.Run("submit failure surfaces the engine error", func(t *testing.T) {
		engineErr := errors.New("daemon unavailable")
		stub := &buildEngineStub{
			imageBuildFn: func(context.Context, io.Reader, docker.BuildOptions) (docker.BuildResponse, error) {
				return docker.BuildResponse{}, engineErr
			},
		}
		builder := NewImageBuilder(stub)

		err := builder.Build(context.Background(), contextDir(t), "gantry/web:abc123", nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, engineErr)
		assert.Contains(t, err.Error(), "submit image build")
	})

	t.Run("missing context directory fails before the engine", func(t *testing.T) {
		called := false
		stub := &buildEngineStub{
			imageBuildFn: func(context.Context, io.Reader, docker.BuildOptions) (docker.BuildResponse, error) {
				called = true
				return buildBody(""), nil
			},
		}
		builder := NewImageBuilder(stub)

		err := builder.Build(context.Background(), filepath.Join(t.TempDir(), "absent"), "gantry/web:abc123", nil)

		assert.Error(t, err)
		assert.False(t, called, "no build should be submitted without a context")
	})
}

func TestImageBuilder_Inspect(t *testing.T) {
	t.Run("maps image metadata to facts", func(t *testing.T) {
		stub := &buildEngineStub{
			inspectFn: func(_ context.Context, imageID string) (docker.ImageInspect, []byte, error) {
				assert.Equal(t, "gantry/web:abc123", imageID)
				return docker.ImageInspect{
					ID:   "sha256:deadbeef",
					Size: 123456789,
					Config: &docker.ContainerConfig{
						WorkingDir: "/app",
						Cmd:        []string{"python", "run.py"},
						ExposedPorts: docker.PortSet{
							"8080/tcp": struct{}{},
							"5001/tcp": struct{}{},
						},
					},
				}, nil, nil
			},
		}
		builder := NewImageBuilder(stub)

		facts, err := builder.Inspect(context.Background(), "gantry/web:abc123")

		require.NoError(t, err)
		assert.Equal(t, "sha256:deadbeef", facts.ID)
		assert.Equal(t, int64(123456789), facts.SizeBytes)
		assert.Equal(t, "/app", facts.Workdir)
		assert.Equal(t, []string{"python", "run.py"}, facts.Cmd)
		assert.Empty(t, facts.Entrypoint)
		assert.Equal(t, []string{"5001/tcp", "8080/tcp"}, facts.ExposedPorts, "ports should be sorted")
	})

	t.Run("image without config yields empty facts", func(t *testing.T) {
		stub := &buildEngineStub{
			inspectFn: func(context.Context, string) (docker.ImageInspect, []byte, error) {
				return docker.ImageInspect{ID: "sha256:bare"}, nil, nil
			},
		}
		builder := NewImageBuilder(stub)

		facts, err := builder.Inspect(context.Background(), "gantry/web:abc123")

		require.NoError(t, err)
		assert.Equal(t, "sha256:bare", facts.ID)
		assert.Empty(t, facts.Workdir)
		assert.Empty(t, facts.ExposedPorts)
	})

	t.Run("missing image returns not found", func(t *testing.T) {
		stub := &buildEngineStub{
			inspectFn: func(context.Context, string) (docker.ImageInspect, []byte, error) {
				return docker.ImageInspect{}, nil, docker.ErrNotFound("no such image")
			},
		}
		builder := NewImageBuilder(stub)

		_, err := builder.Inspect(context.Background(), "gantry/web:gone")

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestImageBuilder_Remove(t *testing.T) {
	t.Run("removes the image and dangling parents", func(t *testing.T) {
		var gotOptions docker.ImageRemoveOptions
		stub := &buildEngineStub{
			imageRemoveFn: func(_ context.Context, imageID string, options docker.ImageRemoveOptions) ([]docker.ImageDeleteResponse, error) {
				assert.Equal(t, "gantry/web:abc123", imageID)
				gotOptions = options
				return []docker.ImageDeleteResponse{{Deleted: "sha256:deadbeef"}}, nil
			},
		}
		builder := NewImageBuilder(stub)

		err := builder.Remove(context.Background(), "gantry/web:abc123")

		require.NoError(t, err)
		assert.True(t, gotOptions.PruneChildren)
	})

	t.Run("image already gone counts as removed", func(t *testing.T) {
		stub := &buildEngineStub{
			imageRemoveFn: func(context.Context, string, docker.ImageRemoveOptions) ([]docker.ImageDeleteResponse, error) {
				return nil, docker.ErrNotFound("no such image")
			},
		}
		builder := NewImageBuilder(stub)

		assert.NoError(t, builder.Remove(context.Background(), "gantry/web:gone"))
	})

	t.Run("engine failure surfaces", func(t *testing.T) {
		stub := &buildEngineStub{
			imageRemoveFn: func(context.Context, string, docker.ImageRemoveOptions) ([]docker.ImageDeleteResponse, error) {
				return nil, docker.ErrConflict("image is in use")
			},
		}
		builder := NewImageBuilder(stub)

		err := builder.Remove(context.Background(), "gantry/web:abc123")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "remove image")
	})
}
