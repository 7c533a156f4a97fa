package agent

import (
	"strings"
	"testing"
)

const sampleReadme = `# DemoKit

A toolkit for demonstrating things quickly.

## Requirements

Python >= 3.10

## Install

- pip install demokit
- poetry add demokit

## Usage

python -m demokit
pytest -x

See the [docs](https://demokit.example.org/docs) for details.
`

func TestExtractReadmeInfo(t *testing.T) {
	info := ExtractReadmeInfo(sampleReadme)

	if info["project_name"] != "DemoKit" {
		t.Errorf("project_name = %v", info["project_name"])
	}
	desc, _ := info["description"].(string)
	if !strings.Contains(desc, "toolkit for demonstrating") {
		t.Errorf("description = %q", desc)
	}
	install, _ := info["install_cmds"].([]string)
	if len(install) != 2 {
		t.Errorf("install_cmds = %v", install)
	}
	run, _ := info["run_cmds"].([]string)
	if len(run) < 2 {
		t.Errorf("run_cmds = %v", run)
	}
	if info["python_min_version"] != "3.10" {
		t.Errorf("python_min_version = %v", info["python_min_version"])
	}
	links, _ := info["links"].([]string)
	if len(links) != 1 || !strings.HasPrefix(links[0], "https://demokit.example.org") {
		t.Errorf("links = %v", links)
	}
}

func TestExtractReadmeInfo_Empty(t *testing.T) {
	if info := ExtractReadmeInfo("   "); len(info) != 0 {
		t.Errorf("empty readme should yield no info, got %v", info)
	}
}

func TestExtractReadmeInfo_DeduplicatesCommands(t *testing.T) {
	text := "# X\n\nbody\n\npip install x\npip install x\n"
	info := ExtractReadmeInfo(text)
	cmds, _ := info["install_cmds"].([]string)
	if len(cmds) != 1 {
		t.Errorf("install_cmds = %v", cmds)
	}
}
