package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/gantryhq/gantry/pkg/deploystream"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// statusColored color-codes a deployment status for terminal output.
func statusColored(status string) string {
	switch status {
	case "running":
		return green(status)
	case "stopped":
		return yellow(status)
	case "failed", "expired":
		return red(status)
	default:
		return status
	}
}

var phaseLabels = map[deploystream.Phase]string{
	deploystream.PhaseValidate: "Validating",
	deploystream.PhaseBuild:    "Building image",
	deploystream.PhaseVerify:   "Verifying image contract",
	deploystream.PhaseStart:    "Starting container",
	deploystream.PhaseProbe:    "Waiting for readiness",
}

func phaseLabel(p deploystream.Phase) string {
	if label, ok := phaseLabels[p]; ok {
		return label
	}
	return string(p)
}

// deployPrinter renders deploy progress frames as they arrive. Build output
// is indented under its phase; the terminal success frame is not printed
// here because the deploy command prints its own summary from the result.
type deployPrinter struct {
	out io.Writer
}

func newDeployPrinter(out io.Writer) *deployPrinter {
	return &deployPrinter{out: out}
}

func (p *deployPrinter) frame(f deploystream.Frame) {
	switch f.Type {
	case deploystream.FrameTypePhaseStarted:
		var payload deploystream.PhaseStarted
		if f.ParsePayload(&payload) != nil {
			return
		}
		fmt.Fprintf(p.out, "%s %s...\n", cyan("→"), phaseLabel(payload.Phase))

	case deploystream.FrameTypeBuildOutput:
		var payload deploystream.BuildOutput
		if f.ParsePayload(&payload) != nil {
			return
		}
		fmt.Fprintf(p.out, "    %s\n", strings.TrimRight(payload.Line, "\n"))

	case deploystream.FrameTypePhaseCompleted:
		var payload deploystream.PhaseCompleted
		if f.ParsePayload(&payload) != nil {
			return
		}
		fmt.Fprintf(p.out, "%s %s (%s)\n", green("✓"), phaseLabel(payload.Phase), formatDuration(payload.DurationMs))

	case deploystream.FrameTypeError:
		var payload deploystream.Error
		if f.ParsePayload(&payload) != nil {
			return
		}
		if payload.Phase != "" {
			fmt.Fprintf(p.out, "%s %s failed: %s\n", red("✗"), phaseLabel(payload.Phase), payload.Message)
			return
		}
		fmt.Fprintf(p.out, "%s %s\n", red("✗"), payload.Message)
	}
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
