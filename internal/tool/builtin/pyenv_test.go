package builtin

import (
	"context"
	"testing"

	"github.com/netreee/setup-agent/internal/tool"
)

const samplePyproject = `
[build-system]
requires = ["hatchling"]
build-backend = "hatchling.build"

[project]
name = "demo"
version = "0.1.0"
dependencies = ["requests>=2.0", "click"]

[project.optional-dependencies]
dev = ["pytest"]

[project.scripts]
demo = "demo.cli:main"

[tool.uv]
dev-dependencies = ["ruff"]
`

func TestParsePyproject(t *testing.T) {
	setupWorkspace(t, map[string]string{"demo/pyproject.toml": samplePyproject})
	parse := NewPyenvParsePyprojectTool()

	env := parse.Execute(context.Background(), mustJSON(t, map[string]any{
		"pyproject_path": "demo/pyproject.toml",
	}))
	if !env.OK {
		t.Fatalf("parse failed: %+v", env)
	}
	if env.Str("project_name") != "demo" || env.Str("project_version") != "0.1.0" {
		t.Errorf("project = %q %q", env.Str("project_name"), env.Str("project_version"))
	}
	if env.Str("backend") != "hatchling.build" {
		t.Errorf("backend = %q", env.Str("backend"))
	}
	deps := env.Data["dependencies"].([]string)
	if len(deps) != 2 || deps[0] != "requests>=2.0" {
		t.Errorf("dependencies = %v", deps)
	}
	if !env.Bool("has_dependencies") || !env.Bool("has_uv_section") || env.Bool("has_poetry_section") {
		t.Errorf("section flags wrong: %+v", env.Data)
	}
}

func TestParsePyproject_Missing(t *testing.T) {
	setupWorkspace(t, nil)
	env := NewPyenvParsePyprojectTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"pyproject_path": "pyproject.toml",
	}))
	if !env.OK || env.Bool("exists") {
		t.Errorf("missing pyproject must be ok with exists=false, got %+v", env)
	}
}

func TestParsePyproject_Malformed(t *testing.T) {
	setupWorkspace(t, map[string]string{"pyproject.toml": "[project\nname ="})
	env := NewPyenvParsePyprojectTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"pyproject_path": "pyproject.toml",
	}))
	if env.OK || env.Error != tool.ErrParse {
		t.Errorf("expected parse_error, got %+v", env)
	}
}

func TestSelectInstaller_Evidence(t *testing.T) {
	setupWorkspace(t, map[string]string{
		"demo/pyproject.toml":  samplePyproject,
		"demo/uv.lock":         "",
		"demo/environment.yml": "name: demo-env\ndependencies:\n  - python=3.11\n",
	})
	env := NewPyenvSelectInstallerTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"project_root": "demo",
	}))
	if !env.OK {
		t.Fatalf("select failed: %+v", env)
	}
	evidence := env.Data["evidence"].(map[string]any)
	if evidence["uv_lock"] != true {
		t.Error("uv_lock evidence missing")
	}
	if evidence["conda_env"] != true || evidence["conda_env_name"] != "demo-env" {
		t.Errorf("conda evidence = %v / %v", evidence["conda_env"], evidence["conda_env_name"])
	}
	declared := evidence["tool_declared"].(map[string]bool)
	if !declared["uv"] || declared["poetry"] {
		t.Errorf("declared = %v", declared)
	}
	// uv.lock + tool.uv dominate the rule chain: the installer is uv when the
	// binary exists on this host, otherwise none with an explanatory reason.
	installer := env.Str("installer")
	if installer != "uv" && installer != "none" {
		t.Errorf("installer = %q", installer)
	}
	if env.Str("reason") == "" {
		t.Error("reason must not be empty")
	}
}

func TestSelectInstaller_RequirementsFallback(t *testing.T) {
	setupWorkspace(t, map[string]string{"demo/requirements.txt": "requests\n"})
	env := NewPyenvSelectInstallerTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"project_root": "demo",
	}))
	if !env.OK {
		t.Fatalf("select failed: %+v", env)
	}
	switch env.Str("installer") {
	case "uv", "pip", "none":
	default:
		t.Errorf("installer = %q", env.Str("installer"))
	}
	evidence := env.Data["evidence"].(map[string]any)
	if evidence["requirements"] != true {
		t.Error("requirements evidence missing")
	}
}

func TestSelectInstaller_NoEvidence(t *testing.T) {
	setupWorkspace(t, map[string]string{"demo/main.py": "print('hi')\n"})
	env := NewPyenvSelectInstallerTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"project_root": "demo",
	}))
	if !env.OK || env.Str("installer") != "none" {
		t.Errorf("expected installer none, got %+v", env)
	}
}

func TestToolVersions_MissingTool(t *testing.T) {
	setupWorkspace(t, nil)
	env := NewPyenvToolVersionsTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"tools": []string{"definitely-not-a-real-tool-xyz"},
	}))
	if !env.OK {
		t.Fatalf("tool_versions failed: %+v", env)
	}
	tools := env.Data["tools"].(map[string]any)
	entry := tools["definitely-not-a-real-tool-xyz"].(map[string]any)
	if entry["exists"] != false {
		t.Errorf("entry = %v", entry)
	}
}

func TestPythonInfo_EnvelopeShape(t *testing.T) {
	setupWorkspace(t, nil)
	env := NewPyenvPythonInfoTool().Execute(context.Background(), nil)
	if !env.OK {
		t.Fatalf("python_info failed: %+v", env)
	}
	if _, present := env.Data["candidates"]; !present {
		t.Error("candidates missing")
	}
	if _, present := env.Data["active"]; !present {
		t.Error("active missing")
	}
}
