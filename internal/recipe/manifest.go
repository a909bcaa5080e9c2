package recipe

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/gantryhq/gantry/internal/domain"
)

// ManifestFileName is the per-app manifest looked up at the context root.
const ManifestFileName = "gantry.yaml"

// DefaultHealthPath is the probe target when the manifest does not set one.
const DefaultHealthPath = "/check"

// Manifest is the optional per-app override file. Zero-valued fields fall
// back to recipe defaults; an absent file means pure defaults.
type Manifest struct {
	// App names the application. Optional in the file; the deploy request's
	// app name wins on conflict.
	App string `json:"app,omitempty"`

	BaseImage    string            `json:"base_image,omitempty"`
	SourceDir    string            `json:"source_dir,omitempty"`
	Requirements string            `json:"requirements,omitempty"`
	Port         int               `json:"port,omitempty"`
	Command      []string          `json:"command,omitempty"`
	Env          map[string]string `json:"env,omitempty"`

	Health HealthSpec `json:"health,omitempty"`
}

// HealthSpec configures the readiness probe.
type HealthSpec struct {
	// Path is the HTTP GET target, default "/check".
	Path string `json:"path,omitempty"`

	// TimeoutSeconds bounds the total time for the app to become ready.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// LoadManifest reads <dir>/gantry.yaml. A missing file is not an error; it
// returns (nil, nil) and callers proceed with defaults.
func LoadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.UnmarshalStrict(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", ManifestFileName, err, domain.ErrInvalidInput)
	}

	if m.App != "" {
		if _, err := domain.NewAppName(m.App); err != nil {
			return nil, fmt.Errorf("manifest app: %w", err)
		}
	}

	return &m, nil
}

// Apply overlays the manifest's non-zero fields onto a recipe.
func (m *Manifest) Apply(r Recipe) Recipe {
	if m == nil {
		return r
	}
	if m.BaseImage != "" {
		r.BaseImage = m.BaseImage
	}
	if m.SourceDir != "" {
		r.SourceDir = m.SourceDir
	}
	if m.Requirements != "" {
		r.Requirements = m.Requirements
	}
	if m.Port != 0 {
		r.Port = m.Port
	}
	if len(m.Command) > 0 {
		r.Command = append([]string(nil), m.Command...)
	}
	return r
}

// HealthPath returns the probe path, defaulted.
func (m *Manifest) HealthPath() string {
	if m == nil || m.Health.Path == "" {
		return DefaultHealthPath
	}
	return m.Health.Path
}
