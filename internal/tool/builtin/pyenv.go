package builtin

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/netreee/setup-agent/internal/tool"
)

const probeTimeout = 8 * time.Second

// versionRe extracts the first X.Y or X.Y.Z token from version output.
var versionRe = regexp.MustCompile(`\b\d+\.\d+(?:\.\d+)?\b`)

// lookPath returns the absolute path of an executable, "" when absent.
func lookPath(name string) string {
	p, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return p
}

// probeVersion runs `<path> --version` and extracts a version token. Some
// tools print the version to stderr, so both streams are inspected.
func probeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, _ := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	text := strings.TrimSpace(string(out))
	if text == "" {
		return ""
	}
	if m := versionRe.FindString(text); m != "" {
		return m
	}
	return strings.SplitN(text, "\n", 2)[0]
}

// ── pyenv_python_info ──

// PyenvPythonInfoTool probes available Python interpreters.
type PyenvPythonInfoTool struct{}

func NewPyenvPythonInfoTool() *PyenvPythonInfoTool { return &PyenvPythonInfoTool{} }

func (t *PyenvPythonInfoTool) Name() string { return "pyenv_python_info" }
func (t *PyenvPythonInfoTool) Description() string {
	return "Probe available Python interpreters and their versions"
}

func (t *PyenvPythonInfoTool) InputSchema() json.RawMessage { return tool.BuildSchema() }
func (t *PyenvPythonInfoTool) Init(_ context.Context) error { return nil }
func (t *PyenvPythonInfoTool) Close() error                 { return nil }

func (t *PyenvPythonInfoTool) Execute(ctx context.Context, _ json.RawMessage) tool.Envelope {
	seen := map[string]bool{}
	candidates := make([]map[string]any, 0, 4)
	for _, name := range []string{"python3", "python", "py"} {
		p := lookPath(name)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ver := probeVersion(ctx, p)
		entry := map[string]any{"path": p}
		if ver != "" {
			entry["version"] = ver
		} else {
			entry["version"] = nil
		}
		candidates = append(candidates, entry)
	}

	var active map[string]any
	if len(candidates) > 0 {
		active = candidates[0]
	}
	data := map[string]any{
		"active":     active,
		"candidates": candidates,
	}
	if active != nil {
		data["executable"] = active["path"]
		data["version"] = active["version"]
	} else {
		data["executable"] = nil
		data["version"] = nil
	}
	return tool.OK(t.Name(), data)
}

// ── pyenv_tool_versions ──

// PyenvToolVersionsTool probes packaging tools (uv/pip/poetry/pdm/conda/pipenv).
type PyenvToolVersionsTool struct{}

func NewPyenvToolVersionsTool() *PyenvToolVersionsTool { return &PyenvToolVersionsTool{} }

func (t *PyenvToolVersionsTool) Name() string { return "pyenv_tool_versions" }
func (t *PyenvToolVersionsTool) Description() string {
	return "Report presence and version of packaging tools (uv, pip, poetry, pdm, conda, pipenv)"
}

func (t *PyenvToolVersionsTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "tools", Type: "array", Description: "Tool names to probe", Required: true},
	)
}

func (t *PyenvToolVersionsTool) Init(_ context.Context) error { return nil }
func (t *PyenvToolVersionsTool) Close() error                 { return nil }

type toolVersionsArgs struct {
	Tools []string `json:"tools"`
}

func (t *PyenvToolVersionsTool) Execute(ctx context.Context, args json.RawMessage) tool.Envelope {
	var a toolVersionsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"tools": map[string]any{}}, tool.ErrInvalidJSON)
	}
	return tool.OK(t.Name(), map[string]any{"tools": probeTools(ctx, a.Tools)})
}

func probeTools(ctx context.Context, names []string) map[string]any {
	result := make(map[string]any, len(names))
	for _, name := range names {
		p := lookPath(name)
		if p == "" {
			result[name] = map[string]any{"exists": false}
			continue
		}
		entry := map[string]any{"exists": true, "path": p}
		if ver := probeVersion(ctx, p); ver != "" {
			entry["version"] = ver
		} else {
			entry["version"] = nil
		}
		result[name] = entry
	}
	return result
}

// ── pyenv_parse_pyproject ──

// pyprojectDoc mirrors the subset of pyproject.toml the agent reads.
type pyprojectDoc struct {
	BuildSystem struct {
		BuildBackend string `toml:"build-backend"`
	} `toml:"build-system"`
	Project struct {
		Name                 string              `toml:"name"`
		Version              string              `toml:"version"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		Scripts              map[string]string   `toml:"scripts"`
	} `toml:"project"`
	Tool map[string]any `toml:"tool"`
}

func loadPyproject(path string) (*pyprojectDoc, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tool.ErrNotAFile
	}
	var doc pyprojectDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, tool.ErrParse
	}
	return &doc, ""
}

func (d *pyprojectDoc) hasToolSection(name string) bool {
	_, ok := d.Tool[name]
	return ok
}

// PyenvParsePyprojectTool extracts the key facts from pyproject.toml.
type PyenvParsePyprojectTool struct{}

func NewPyenvParsePyprojectTool() *PyenvParsePyprojectTool { return &PyenvParsePyprojectTool{} }

func (t *PyenvParsePyprojectTool) Name() string { return "pyenv_parse_pyproject" }
func (t *PyenvParsePyprojectTool) Description() string {
	return "Parse pyproject.toml: project name, build backend, dependencies, tool sections"
}

func (t *PyenvParsePyprojectTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pyproject_path", Type: "string", Description: "Path to pyproject.toml (defaults to <project root>/pyproject.toml)"},
	)
}

func (t *PyenvParsePyprojectTool) Init(_ context.Context) error { return nil }
func (t *PyenvParsePyprojectTool) Close() error                 { return nil }

type parsePyprojectArgs struct {
	PyprojectPath string `json:"pyproject_path"`
}

func (t *PyenvParsePyprojectTool) Execute(_ context.Context, args json.RawMessage) tool.Envelope {
	var a parsePyprojectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"path": "", "exists": false}, tool.ErrInvalidJSON)
	}
	target := a.PyprojectPath
	if target == "" {
		base := os.Getenv("PROJECT_ROOT")
		if base == "" {
			base = workspaceRoot()
		}
		target = filepath.Join(base, "pyproject.toml")
	}
	p, errKind := resolveAndGuard(target)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"path": target, "exists": false}, errKind)
	}
	if _, err := os.Stat(p); err != nil {
		// Absence is a valid probe outcome.
		return tool.OK(t.Name(), map[string]any{"path": p, "exists": false})
	}

	doc, parseErr := loadPyproject(p)
	if parseErr != "" {
		return tool.Fail(t.Name(), map[string]any{"path": p, "exists": true}, parseErr)
	}

	return tool.OK(t.Name(), map[string]any{
		"path":                  p,
		"exists":                true,
		"backend":               doc.BuildSystem.BuildBackend,
		"project_name":          doc.Project.Name,
		"project_version":       doc.Project.Version,
		"dependencies":          doc.Project.Dependencies,
		"has_dependencies":      len(doc.Project.Dependencies) > 0,
		"optional_dependencies": doc.Project.OptionalDependencies,
		"scripts":               doc.Project.Scripts,
		"has_poetry_section":    doc.hasToolSection("poetry"),
		"has_pdm_section":       doc.hasToolSection("pdm"),
		"has_uv_section":        doc.hasToolSection("uv"),
	})
}
