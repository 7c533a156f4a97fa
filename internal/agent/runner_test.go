package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/tool"
)

func TestRunner_EndToEnd(t *testing.T) {
	root := t.TempDir()
	t.Setenv("REPO_ROOT", root)
	t.Setenv("PROJECT_ROOT", "")
	writeFile(t, root, "requirements.txt", "requests\n")

	registry := tool.NewRegistry()
	registerReadOnlyTools(registry)

	provider := &scriptedProvider{responses: []string{
		// discover: one listing, then finish
		"Thought: look around\nAction: files_list(path=\".\")",
		"Thought: enough\nAction: finish",
		// discover summary
		"Plain requirements.txt project; pip install -r is the way.",
		// plan
		`{"title": "verify", "steps": [{"title": "confirm requirements", "instruction": "confirm the requirements file exists"}]}`,
		// decide
		`{"action": "call_tool", "tool_name": "files_exists", "tool_args": {"path": "requirements.txt"}}`,
		// observe
		`{"route": "end", "success": true, "notes": "requirements present"}`,
	}}

	var lines []string
	runner := &Runner{
		Provider:       provider,
		Prompts:        prompt.NewLoader(""),
		Registry:       registry,
		ShellName:      "bash",
		RecursionLimit: 60,
		Progress: func(format string, args ...any) {
			lines = append(lines, format)
		},
	}

	if err := runner.Run(context.Background(), "confirm this project's requirements"); err != nil {
		t.Fatalf("runner failed: %v", err)
	}
	if len(lines) == 0 {
		t.Error("no progress lines emitted")
	}
}

func TestRunner_FailsWithoutObserverEnd(t *testing.T) {
	root := t.TempDir()
	t.Setenv("REPO_ROOT", root)
	t.Setenv("PROJECT_ROOT", "")

	registry := tool.NewRegistry()
	registerReadOnlyTools(registry)

	// Discover finishes immediately; the main loop never ends and runs into
	// the recursion limit.
	provider := &scriptedProvider{responses: []string{
		"Thought: skip\nAction: finish",
		"Nothing discovered.",
	}}

	runner := &Runner{
		Provider:       provider,
		Prompts:        prompt.NewLoader(""),
		Registry:       registry,
		ShellName:      "bash",
		RecursionLimit: 10,
	}

	err := runner.Run(context.Background(), "unachievable goal")
	if err == nil {
		t.Fatal("expected an error when the observer never asserts end")
	}
	if !strings.Contains(err.Error(), "without completion") {
		t.Errorf("error = %v", err)
	}
}
