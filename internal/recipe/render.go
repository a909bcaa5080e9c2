package recipe

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/Dockerfile.tmpl
var dockerfileTemplate string

var renderTmpl = template.Must(template.New("dockerfile").Parse(dockerfileTemplate))

// renderData is the flattened view the template consumes. Command is
// pre-marshaled to JSON so CMD renders in exec form: the startup command
// becomes the container's PID 1 instead of a /bin/sh child.
type renderData struct {
	BaseImage      string
	Workdir        string
	SourceDir      string
	CopyDest       string
	InstallCommand string
	Port           int
	Command        string
}

// Render produces the deterministic Dockerfile text for the recipe.
// Instruction order is fixed: FROM, WORKDIR, COPY, RUN (install), EXPOSE,
// CMD. The install step always precedes the startup command.
func (r Recipe) Render() (string, error) {
	cmd, err := json.Marshal(r.Command)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	var sb strings.Builder
	data := renderData{
		BaseImage:      r.BaseImage,
		Workdir:        r.Workdir,
		SourceDir:      r.SourceDir,
		CopyDest:       r.CopyDest(),
		InstallCommand: r.InstallCommand(),
		Port:           r.Port,
		Command:        string(cmd),
	}
	if err := renderTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render dockerfile: %w", err)
	}
	return sb.String(), nil
}
