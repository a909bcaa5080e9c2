// Package recipe models the container build recipe: the base image, working
// directory, source copy, dependency install step, declared port, and startup
// command that together define an app's runtime contract. The recipe is the
// single source of truth for what gets built and what the built image must
// look like.
package recipe

import (
	"strconv"
	"strings"
)

// Compiled defaults. A deploy with no manifest uses exactly these.
const (
	DefaultBaseImage    = "python:3.9-slim"
	DefaultWorkdir      = "/app"
	DefaultSourceDir    = "src/main/python/"
	DefaultRequirements = "requirements.txt"
	DefaultPort         = 5001
)

// DefaultCommand is the startup command run as the container's PID 1.
func DefaultCommand() []string {
	return []string{"python", "run.py"}
}

// Recipe describes a single-process, single-port container build.
// Construct via Default and override through a Manifest; always Validate
// before building.
type Recipe struct {
	// BaseImage is the runtime base, e.g. "python:3.9-slim".
	BaseImage string `json:"base_image"`

	// Workdir is the absolute working directory inside the image.
	Workdir string `json:"workdir"`

	// SourceDir is the copy source, relative to the build context root.
	// Its contents land in Workdir.
	SourceDir string `json:"source_dir"`

	// Requirements is the dependency manifest filename. It must exist inside
	// SourceDir on the host so the install step finds it under Workdir.
	Requirements string `json:"requirements"`

	// Port is the declared TCP port. Declarative metadata on the image; the
	// runtime publishes it and the readiness probe targets it.
	Port int `json:"port"`

	// Command is the startup command in exec form.
	Command []string `json:"command"`
}

// Default returns the recipe with compiled defaults.
func Default() Recipe {
	return Recipe{
		BaseImage:    DefaultBaseImage,
		Workdir:      DefaultWorkdir,
		SourceDir:    DefaultSourceDir,
		Requirements: DefaultRequirements,
		Port:         DefaultPort,
		Command:      DefaultCommand(),
	}
}

// CopyDest returns the COPY destination derived from the working directory.
// Always ends with "/" so the source directory's contents, not the directory
// itself, land in the workdir.
func (r Recipe) CopyDest() string {
	if strings.HasSuffix(r.Workdir, "/") {
		return r.Workdir
	}
	return r.Workdir + "/"
}

// InstallCommand returns the dependency install step.
func (r Recipe) InstallCommand() string {
	return "pip install --no-cache-dir -r " + r.Requirements
}

// ExposedPort returns the declared port in Docker's "<port>/tcp" form, the
// shape it takes in image exposed-port metadata.
func (r Recipe) ExposedPort() string {
	return strconv.Itoa(r.Port) + "/tcp"
}
