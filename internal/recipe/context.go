package recipe

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gantryhq/gantry/internal/domain"
)

// DockerfileName is the rendered recipe's filename at the context root.
const DockerfileName = "Dockerfile"

// CheckContext verifies the build context satisfies the recipe before any
// engine call: the copy source directory must exist and the requirements
// file must exist inside it. Also enforces the unpacked-size cap.
func CheckContext(root string, r Recipe) error {
	srcDir := filepath.Join(root, r.SourceDir)
	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("copy source directory %q not found in context: %w", r.SourceDir, domain.ErrContextIncomplete)
	}

	reqPath := filepath.Join(srcDir, r.Requirements)
	info, err = os.Stat(reqPath)
	if err != nil || info.IsDir() {
		return fmt.Errorf("requirements file %q not found in %q: %w", r.Requirements, r.SourceDir, domain.ErrContextIncomplete)
	}

	size, err := contextSize(root)
	if err != nil {
		return fmt.Errorf("measure context: %w", err)
	}
	if size > domain.MaxUnpackedSourceBytes {
		return fmt.Errorf("context is %d bytes, limit %d: %w", size, domain.MaxUnpackedSourceBytes, domain.ErrSourceTooLarge)
	}

	return nil
}

// contextSize sums regular-file sizes under root.
func contextSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// HasDockerfile reports whether the context root carries its own Dockerfile.
// When it does, the deploy parses it instead of rendering the recipe.
func HasDockerfile(root string) bool {
	info, err := os.Stat(filepath.Join(root, DockerfileName))
	return err == nil && !info.IsDir()
}

// ReadDockerfile returns the context's Dockerfile text.
func ReadDockerfile(root string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(root, DockerfileName))
	if err != nil {
		return "", fmt.Errorf("read dockerfile: %w", err)
	}
	return string(raw), nil
}

// WriteDockerfile renders the recipe and writes it to the context root.
func WriteDockerfile(root string, r Recipe) error {
	text, err := r.Render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, DockerfileName), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}
	return nil
}
