package recipe

import (
	"fmt"
	"strings"

	"github.com/gantryhq/gantry/internal/domain"
)

// Validate checks the recipe's structural rules. All violations are
// collected and reported in one error wrapping domain.ErrRecipeInvalid.
func (r Recipe) Validate() error {
	var problems []string

	switch {
	case strings.TrimSpace(r.BaseImage) == "":
		problems = append(problems, "base image is required")
	case !strings.Contains(r.BaseImage, ":") || strings.HasSuffix(r.BaseImage, ":latest"):
		problems = append(problems, fmt.Sprintf("base image %q must pin a tag; builds are not reproducible otherwise", r.BaseImage))
	}

	switch {
	case strings.TrimSpace(r.Workdir) == "":
		problems = append(problems, "working directory is required")
	case !strings.HasPrefix(r.Workdir, "/"):
		problems = append(problems, fmt.Sprintf("working directory %q must be absolute", r.Workdir))
	}

	if strings.TrimSpace(r.SourceDir) == "" {
		problems = append(problems, "source directory is required")
	} else if strings.HasPrefix(r.SourceDir, "/") || strings.Contains(r.SourceDir, "..") {
		problems = append(problems, fmt.Sprintf("source directory %q must be relative to the context root", r.SourceDir))
	}

	if strings.TrimSpace(r.Requirements) == "" {
		problems = append(problems, "requirements file is required")
	}

	if _, err := domain.NewPort(r.Port); err != nil {
		problems = append(problems, fmt.Sprintf("declared port %d is out of range", r.Port))
	}

	if len(r.Command) == 0 {
		problems = append(problems, "startup command is required")
	} else {
		for _, arg := range r.Command {
			if strings.TrimSpace(arg) == "" {
				problems = append(problems, "startup command contains an empty argument")
				break
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), domain.ErrRecipeInvalid)
	}
	return nil
}

// Warnings reports non-fatal issues: conditions that build fine but are
// likely mistakes.
func (r Recipe) Warnings() []string {
	var warnings []string

	if r.Port != 0 && r.Port < 1024 {
		warnings = append(warnings, fmt.Sprintf("declared port %d is privileged; the app must run as root to bind it", r.Port))
	}

	return warnings
}
