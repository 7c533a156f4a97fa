package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/prompt"
)

func runDecide(t *testing.T, state *AgentState, responses ...string) core.Action {
	t.Helper()
	// The decide node exports REPO_ROOT/PROJECT_ROOT; register a restore so
	// tests do not leak process env into each other.
	t.Setenv("REPO_ROOT", os.Getenv("REPO_ROOT"))
	t.Setenv("PROJECT_ROOT", os.Getenv("PROJECT_ROOT"))
	provider := &scriptedProvider{responses: responses}
	node := core.NewNode[AgentState, DecidePrep, Decision](
		NewDecideNode(provider, prompt.NewLoader("")), 0)
	return node.Run(context.Background(), state)
}

func TestDecideNode_CallTool(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "list", Instruction: "list the workspace root"}}

	action := runDecide(t, state,
		`{"action": "call_tool", "tool_name": "files_list", "tool_args": {"path": "."}}`)

	if action != core.ActionExecute {
		t.Fatalf("action = %q", action)
	}
	d := state.LastDecision
	if d == nil || d.Action != ActionCallTool || d.ToolName != "files_list" {
		t.Fatalf("decision = %+v", d)
	}
	if d.Timeout != defaultStepTimeout {
		t.Errorf("timeout = %d", d.Timeout)
	}
}

func TestDecideNode_Replan(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "s", Instruction: "i"}}

	action := runDecide(t, state, `{"action": "replan"}`)

	if action != core.ActionPlan {
		t.Fatalf("action = %q", action)
	}
	if !state.ReplanRequested || state.Route != RoutePlan {
		t.Errorf("state = replan:%v route:%q", state.ReplanRequested, state.Route)
	}
}

func TestDecideNode_UnparseableFallsBackToStepInstruction(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "install", Instruction: "install all dependencies"}}

	action := runDecide(t, state, "sorry, I cannot decide")

	if action != core.ActionExecute {
		t.Fatalf("action = %q", action)
	}
	d := state.LastDecision
	if d.Action != ActionCallInstruction || d.NLInstruction != "install all dependencies" {
		t.Fatalf("decision = %+v", d)
	}
	// "install" marks a long-running intent.
	if d.Timeout != longStepTimeout {
		t.Errorf("timeout = %d", d.Timeout)
	}
}

func TestDecideNode_NoStepUnparseableReplans(t *testing.T) {
	state := newTestState("goal") // empty plan, cursor past end

	action := runDecide(t, state, "garbage")

	if action != core.ActionPlan {
		t.Fatalf("action = %q", action)
	}
}

func TestDecideNode_FactGuardRewritesClone(t *testing.T) {
	projectRoot := t.TempDir()
	state := newTestState("goal")
	state.Facts["project_root"] = projectRoot
	state.Task.Steps = []Step{{ID: 1, Title: "clone", Instruction: "clone the repository"}}

	action := runDecide(t, state,
		`{"action": "call_instruction", "nl_instruction": "clone the repository into the workspace", "timeout": 1800}`)

	if action != core.ActionExecute {
		t.Fatalf("action = %q", action)
	}
	d := state.LastDecision
	if d.Action != ActionCallTool || d.ToolName != "git_repo_status" {
		t.Fatalf("clone not rewritten: %+v", d)
	}
	if d.ToolArgs["path"] != projectRoot {
		t.Errorf("guard path = %v", d.ToolArgs["path"])
	}
}

func TestDecideNode_FactGuardSkipsWhenDirMissing(t *testing.T) {
	state := newTestState("goal")
	state.Facts["project_root"] = filepath.Join(t.TempDir(), "ghost")
	state.Task.Steps = []Step{{ID: 1, Title: "clone", Instruction: "clone the repository"}}

	runDecide(t, state,
		`{"action": "call_tool", "tool_name": "git_ensure_cloned", "tool_args": {"url": "https://x/y.git"}}`)

	if state.LastDecision.ToolName != "git_ensure_cloned" {
		t.Errorf("guard fired for a missing directory: %+v", state.LastDecision)
	}
}

func TestDecideNode_ExportsRootEnvVars(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("REPO_ROOT", "stale")
	t.Setenv("PROJECT_ROOT", "stale")
	state := newTestState("goal")
	state.Facts["repo_root"] = ws
	state.Facts["project_root"] = filepath.Join(ws, "demo")
	state.Task.Steps = []Step{{ID: 1, Title: "s", Instruction: "echo ok"}}

	runDecide(t, state, `{"action": "call_instruction", "nl_instruction": "echo ok"}`)

	if os.Getenv("REPO_ROOT") != ws {
		t.Errorf("REPO_ROOT = %q", os.Getenv("REPO_ROOT"))
	}
	if os.Getenv("PROJECT_ROOT") != filepath.Join(ws, "demo") {
		t.Errorf("PROJECT_ROOT = %q", os.Getenv("PROJECT_ROOT"))
	}
}

func TestTimeoutForIntent(t *testing.T) {
	cases := []struct {
		instruction string
		stepTimeout int
		want        int
	}{
		{"git clone the repo", 0, longStepTimeout},
		{"run pip install -r requirements.txt", 0, longStepTimeout},
		{"git pull latest changes", 0, longStepTimeout},
		{"list the files", 0, defaultStepTimeout},
		{"git clone the repo", 90, 90}, // explicit step timeout wins
	}
	for _, c := range cases {
		if got := timeoutForIntent(c.instruction, c.stepTimeout); got != c.want {
			t.Errorf("timeoutForIntent(%q, %d) = %d, want %d", c.instruction, c.stepTimeout, got, c.want)
		}
	}
}

func TestParseDecision_ToolWithoutNameReplans(t *testing.T) {
	d := parseDecision(`{"action": "call_tool", "tool_args": {}}`, DecidePrep{StepInstruction: "x"})
	if d.Action != ActionReplan {
		t.Errorf("decision = %+v", d)
	}
}
