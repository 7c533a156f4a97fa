package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/netreee/setup-agent/internal/tool"
)

// installerTools are probed in every selection, in this order.
var installerTools = []string{"uv", "poetry", "pdm", "pip", "conda", "pipenv"}

// condaEnvFile mirrors the fields of environment.yml the selector reports.
type condaEnvFile struct {
	Name string `yaml:"name"`
}

// PyenvSelectInstallerTool picks the package installer for a project from
// file evidence and local tool availability. Pure rules, no LLM, no install.
type PyenvSelectInstallerTool struct{}

func NewPyenvSelectInstallerTool() *PyenvSelectInstallerTool { return &PyenvSelectInstallerTool{} }

func (t *PyenvSelectInstallerTool) Name() string { return "pyenv_select_installer" }
func (t *PyenvSelectInstallerTool) Description() string {
	return "Select the package installer (uv|poetry|pdm|conda|pip|pipenv|none) from project evidence"
}

func (t *PyenvSelectInstallerTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "project_root", Type: "string", Description: "Project directory (defaults to PROJECT_ROOT)"},
	)
}

func (t *PyenvSelectInstallerTool) Init(_ context.Context) error { return nil }
func (t *PyenvSelectInstallerTool) Close() error                 { return nil }

type selectInstallerArgs struct {
	ProjectRoot string `json:"project_root"`
}

func (t *PyenvSelectInstallerTool) Execute(ctx context.Context, args json.RawMessage) tool.Envelope {
	var a selectInstallerArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"installer": "none"}, tool.ErrInvalidJSON)
	}

	target := a.ProjectRoot
	if target == "" {
		if env := os.Getenv("PROJECT_ROOT"); env != "" {
			target = env
		} else {
			target = workspaceRoot()
		}
	}
	rootDir, errKind := resolveAndGuard(target)
	if errKind != "" {
		return tool.Fail(t.Name(), map[string]any{"installer": "none"}, errKind)
	}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(rootDir, name))
		return err == nil
	}
	anyExists := func(names ...string) bool {
		for _, n := range names {
			if exists(n) {
				return true
			}
		}
		return false
	}

	evidence := map[string]any{
		"pyproject":    filepath.Join(rootDir, "pyproject.toml"),
		"poetry_lock":  exists("poetry.lock"),
		"pdm_lock":     anyExists("pdm.lock", "pdm.lock.json", "pdm.lock.yml"),
		"uv_lock":      anyExists("uv.lock", "uv.lock.json"),
		"requirements": anyExists("requirements.txt", "requirements.in", "requirements-dev.txt"),
		"conda_env":    anyExists("environment.yml", "environment.yaml"),
		"pipfile":      anyExists("Pipfile", "Pipfile.lock"),
	}

	// Declared tool sections and build backend from pyproject, when present.
	declared := map[string]bool{"uv": false, "poetry": false, "pdm": false}
	var backend string
	var deps []string
	pyprojectPath := filepath.Join(rootDir, "pyproject.toml")
	if _, err := os.Stat(pyprojectPath); err == nil {
		if doc, parseErr := loadPyproject(pyprojectPath); parseErr == "" {
			declared["uv"] = doc.hasToolSection("uv")
			declared["poetry"] = doc.hasToolSection("poetry")
			declared["pdm"] = doc.hasToolSection("pdm")
			backend = doc.BuildSystem.BuildBackend
			deps = doc.Project.Dependencies
		}
	}
	evidence["tool_declared"] = declared
	evidence["build_backend"] = backend

	// environment.yml gets parsed so the evidence names the conda env.
	var condaEnvName string
	if evidence["conda_env"] == true {
		for _, name := range []string{"environment.yml", "environment.yaml"} {
			data, err := os.ReadFile(filepath.Join(rootDir, name))
			if err != nil {
				continue
			}
			var envFile condaEnvFile
			if yaml.Unmarshal(data, &envFile) == nil && envFile.Name != "" {
				condaEnvName = envFile.Name
				evidence["conda_env_name"] = condaEnvName
			}
			break
		}
	}

	toolsInfo := probeTools(ctx, installerTools)
	evidence["tools"] = toolsInfo
	has := func(name string) bool {
		entry, _ := toolsInfo[name].(map[string]any)
		ok, _ := entry["exists"].(bool)
		return ok
	}

	installer := "none"
	var reasons []string
	switch {
	case declared["uv"] || evidence["uv_lock"] == true:
		if has("uv") {
			installer = "uv"
			reasons = append(reasons, "tool.uv or uv.lock present and uv is installed")
		} else {
			reasons = append(reasons, "uv recommended but not installed")
		}
	case declared["poetry"] || evidence["poetry_lock"] == true:
		if has("poetry") {
			installer = "poetry"
			reasons = append(reasons, "tool.poetry or poetry.lock present and poetry is installed")
		} else {
			reasons = append(reasons, "poetry recommended but not installed")
		}
	case declared["pdm"] || evidence["pdm_lock"] == true:
		if has("pdm") {
			installer = "pdm"
			reasons = append(reasons, "tool.pdm or pdm.lock present and pdm is installed")
		} else {
			reasons = append(reasons, "pdm recommended but not installed")
		}
	case evidence["pipfile"] == true:
		if has("pipenv") {
			installer = "pipenv"
			reasons = append(reasons, "Pipfile or Pipfile.lock present and pipenv is installed")
		} else {
			reasons = append(reasons, "pipenv recommended but not installed")
		}
	case evidence["conda_env"] == true && has("conda"):
		installer = "conda"
		if condaEnvName != "" {
			reasons = append(reasons, fmt.Sprintf("environment.yml present (env %q) and conda is installed", condaEnvName))
		} else {
			reasons = append(reasons, "environment.yml present and conda is installed")
		}
	case evidence["requirements"] == true:
		if has("uv") {
			installer = "uv"
			reasons = append(reasons, "requirements file present, preferring uv")
		} else if has("pip") {
			installer = "pip"
			reasons = append(reasons, "requirements file present, using pip")
		}
	default:
		if len(deps) > 0 {
			if has("uv") {
				installer = "uv"
				reasons = append(reasons, "pyproject declares dependencies and uv is installed")
			} else if has("pip") {
				installer = "pip"
				reasons = append(reasons, "pyproject declares dependencies, using pip")
			}
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no clear evidence found, returning none")
	}

	return tool.OK(t.Name(), map[string]any{
		"installer": installer,
		"reason":    strings.Join(reasons, "; "),
		"evidence":  evidence,
	})
}
