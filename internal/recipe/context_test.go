package recipe_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/recipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeContext builds a minimal valid build context for the default recipe.
func makeContext(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	srcDir := filepath.Join(root, "src", "main", "python")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "requirements.txt"), []byte("fastapi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "run.py"), []byte("print('up')\n"), 0o644))
	return root
}

func TestCheckContext(t *testing.T) {
	t.Run("complete context passes", func(t *testing.T) {
		root := makeContext(t)
		require.NoError(t, recipe.CheckContext(root, recipe.Default()))
	})

	t.Run("missing source directory fails", func(t *testing.T) {
		err := recipe.CheckContext(t.TempDir(), recipe.Default())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrContextIncomplete)
		assert.Contains(t, err.Error(), "src/main/python/")
	})

	t.Run("source path that is a file fails", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "main"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main", "python"), []byte("not a dir"), 0o644))

		err := recipe.CheckContext(root, recipe.Default())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrContextIncomplete)
	})

	t.Run("missing requirements fails", func(t *testing.T) {
		root := makeContext(t)
		require.NoError(t, os.Remove(filepath.Join(root, "src", "main", "python", "requirements.txt")))

		err := recipe.CheckContext(root, recipe.Default())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrContextIncomplete)
		assert.Contains(t, err.Error(), "requirements.txt")
	})

	t.Run("requirements that is a directory fails", func(t *testing.T) {
		root := makeContext(t)
		reqPath := filepath.Join(root, "src", "main", "python", "requirements.txt")
		require.NoError(t, os.Remove(reqPath))
		require.NoError(t, os.Mkdir(reqPath, 0o755))

		err := recipe.CheckContext(root, recipe.Default())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrContextIncomplete)
	})

	t.Run("custom source dir is honored", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "app", "requirements.txt"), nil, 0o644))

		r := recipe.Default()
		r.SourceDir = "app/"
		require.NoError(t, recipe.CheckContext(root, r))
	})
}

func TestHasDockerfile(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		assert.False(t, recipe.HasDockerfile(t.TempDir()))
	})

	t.Run("present", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
		assert.True(t, recipe.HasDockerfile(root))
	})

	t.Run("directory named Dockerfile does not count", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, "Dockerfile"), 0o755))
		assert.False(t, recipe.HasDockerfile(root))
	})
}

func TestWriteAndReadDockerfile(t *testing.T) {
	root := makeContext(t)

	require.NoError(t, recipe.WriteDockerfile(root, recipe.Default()))
	assert.True(t, recipe.HasDockerfile(root))

	text, err := recipe.ReadDockerfile(root)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "FROM python:3.9-slim"))

	// Written file parses back to the recipe that produced it.
	parsed, err := recipe.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, recipe.Default(), parsed)
}
