package recipe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gantryhq/gantry/internal/domain"
)

// instructionLine is one logical Dockerfile instruction after comment
// stripping and backslash-continuation joining.
type instructionLine struct {
	num  int // line number of the instruction's first physical line
	text string
}

// logicalLines splits Dockerfile text into logical instructions, joining
// backslash continuations and skipping blank lines and comments.
func logicalLines(text string) []instructionLine {
	var out []instructionLine
	var current strings.Builder
	currentStart := 0

	for i, line := range strings.Split(text, "\n") {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if current.Len() > 0 {
			current.WriteString(" ")
			if strings.HasSuffix(trimmed, "\\") {
				current.WriteString(strings.TrimSpace(strings.TrimSuffix(trimmed, "\\")))
				continue
			}
			current.WriteString(trimmed)
			out = append(out, instructionLine{num: currentStart, text: current.String()})
			current.Reset()
			continue
		}

		if strings.HasSuffix(trimmed, "\\") {
			currentStart = lineNum
			current.WriteString(strings.TrimSpace(strings.TrimSuffix(trimmed, "\\")))
			continue
		}

		out = append(out, instructionLine{num: lineNum, text: trimmed})
	}

	// File may end mid-continuation; keep what we have.
	if current.Len() > 0 {
		out = append(out, instructionLine{num: currentStart, text: current.String()})
	}

	return out
}

// toleratedInstructions are legal in a parsed Dockerfile but carry no recipe
// meaning. They are skipped, not rejected.
var toleratedInstructions = map[string]bool{
	"ENV":   true,
	"ARG":   true,
	"LABEL": true,
	"USER":  true,
}

var installPattern = regexp.MustCompile(`(?:^|\s)pip3?\s+install\b.*\s-r\s+(\S+)`)

// Parse recovers a Recipe from Dockerfile text. It accepts the instruction
// subset FROM/WORKDIR/COPY/RUN/EXPOSE/CMD plus tolerated metadata
// instructions, handling comments, blank lines, and backslash continuations.
//
// Single-stage files only: a second FROM is rejected. CMD must use exec form
// so the startup command runs as PID 1. When several COPY steps appear (the
// dependency-caching layout), the last one is taken as the canonical source
// copy. All violations wrap domain.ErrRecipeInvalid.
func Parse(text string) (Recipe, error) {
	lines := logicalLines(text)
	if len(lines) == 0 {
		return Recipe{}, fmt.Errorf("dockerfile has no instructions: %w", domain.ErrRecipeInvalid)
	}

	var r Recipe
	var sawFrom, sawExpose, sawCmd, sawInstall bool
	var copySrc, copyDest string
	cmdIndex, installIndex := -1, -1

	for idx, ln := range lines {
		fields := strings.Fields(ln.text)
		instr := strings.ToUpper(fields[0])
		args := fields[1:]

		if idx == 0 && instr != "FROM" {
			return Recipe{}, fmt.Errorf("line %d: first instruction must be FROM, got %s: %w", ln.num, instr, domain.ErrRecipeInvalid)
		}

		switch instr {
		case "FROM":
			if sawFrom {
				return Recipe{}, fmt.Errorf("line %d: multi-stage builds are not supported: %w", ln.num, domain.ErrRecipeInvalid)
			}
			if len(args) == 0 {
				return Recipe{}, fmt.Errorf("line %d: FROM requires an image: %w", ln.num, domain.ErrRecipeInvalid)
			}
			r.BaseImage = args[0]
			sawFrom = true

		case "WORKDIR":
			if len(args) == 0 {
				return Recipe{}, fmt.Errorf("line %d: WORKDIR requires a path: %w", ln.num, domain.ErrRecipeInvalid)
			}
			r.Workdir = args[0]

		case "COPY", "ADD":
			if len(args) > 0 && strings.HasPrefix(args[0], "--from=") {
				return Recipe{}, fmt.Errorf("line %d: multi-stage copy is not supported: %w", ln.num, domain.ErrRecipeInvalid)
			}
			if len(args) < 2 {
				return Recipe{}, fmt.Errorf("line %d: %s requires source and destination: %w", ln.num, instr, domain.ErrRecipeInvalid)
			}
			// Last copy wins: in the dependency-caching layout the final
			// COPY is the full source tree.
			copySrc = args[len(args)-2]
			copyDest = args[len(args)-1]

		case "RUN":
			if m := installPattern.FindStringSubmatch(ln.text); m != nil {
				r.Requirements = m[1]
				sawInstall = true
				installIndex = idx
			}

		case "EXPOSE":
			if sawExpose || len(args) != 1 {
				return Recipe{}, fmt.Errorf("line %d: exactly one declared port is required: %w", ln.num, domain.ErrRecipeInvalid)
			}
			port, err := parseExposePort(args[0])
			if err != nil {
				return Recipe{}, fmt.Errorf("line %d: %v: %w", ln.num, err, domain.ErrRecipeInvalid)
			}
			r.Port = port
			sawExpose = true

		case "CMD":
			if sawCmd {
				return Recipe{}, fmt.Errorf("line %d: exactly one startup command is required: %w", ln.num, domain.ErrRecipeInvalid)
			}
			cmd, err := parseExecForm(ln.text)
			if err != nil {
				return Recipe{}, fmt.Errorf("line %d: %v: %w", ln.num, err, domain.ErrRecipeInvalid)
			}
			r.Command = cmd
			sawCmd = true
			cmdIndex = idx

		case "ENTRYPOINT":
			return Recipe{}, fmt.Errorf("line %d: ENTRYPOINT is not supported, use CMD: %w", ln.num, domain.ErrRecipeInvalid)

		default:
			if !toleratedInstructions[instr] {
				return Recipe{}, fmt.Errorf("line %d: unknown instruction %s: %w", ln.num, instr, domain.ErrRecipeInvalid)
			}
		}
	}

	if !sawInstall {
		return Recipe{}, fmt.Errorf("missing dependency install step (RUN pip install -r ...): %w", domain.ErrRecipeInvalid)
	}
	if !sawCmd {
		return Recipe{}, fmt.Errorf("missing startup command: %w", domain.ErrRecipeInvalid)
	}
	if cmdIndex < installIndex {
		return Recipe{}, fmt.Errorf("dependency install step must precede the startup command: %w", domain.ErrRecipeInvalid)
	}
	if copySrc == "" {
		return Recipe{}, fmt.Errorf("missing source copy step: %w", domain.ErrRecipeInvalid)
	}
	if cleaned := strings.TrimSuffix(copyDest, "/"); cleaned != strings.TrimSuffix(r.Workdir, "/") {
		return Recipe{}, fmt.Errorf("copy destination %q must be the working directory %q: %w", copyDest, r.Workdir, domain.ErrRecipeInvalid)
	}
	r.SourceDir = copySrc

	return r, nil
}

// parseExposePort accepts "5001" or "5001/tcp".
func parseExposePort(arg string) (int, error) {
	raw, proto, found := strings.Cut(arg, "/")
	if found && proto != "tcp" {
		return 0, fmt.Errorf("unsupported protocol %q", proto)
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return port, nil
}

// parseExecForm parses `CMD ["python","run.py"]`. Shell form is rejected:
// it would make /bin/sh PID 1 instead of the startup command.
func parseExecForm(line string) ([]string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "CMD"))
	if !strings.HasPrefix(rest, "[") {
		return nil, fmt.Errorf("CMD must use exec form, e.g. [\"python\",\"run.py\"]")
	}
	var cmd []string
	if err := json.Unmarshal([]byte(rest), &cmd); err != nil {
		return nil, fmt.Errorf("invalid exec form: %v", err)
	}
	if len(cmd) == 0 {
		return nil, fmt.Errorf("CMD requires a command")
	}
	return cmd, nil
}
