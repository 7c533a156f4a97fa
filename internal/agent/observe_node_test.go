package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/netreee/setup-agent/internal/core"
	"github.com/netreee/setup-agent/internal/prompt"
	"github.com/netreee/setup-agent/internal/tool"
)

func runObserve(t *testing.T, state *AgentState, responses ...string) core.Action {
	t.Helper()
	t.Setenv("REPO_ROOT", "/ws")
	provider := &scriptedProvider{responses: responses}
	node := core.NewNode[AgentState, ObservePrep, RouteDecision](
		NewObserveNode(provider, prompt.NewLoader("")), 0)
	return node.Run(context.Background(), state)
}

func okShellResult(command string, exitCode int) *tool.Envelope {
	env := tool.OK("run_instruction", map[string]any{
		"exit_code": exitCode,
		"stdout":    "",
		"command":   command,
	})
	env.OK = exitCode == 0
	if exitCode != 0 {
		env.Error = "nonzero_exit"
	}
	return &env
}

func TestObserve_DecideAdvancesOnSuccess(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "step one", Instruction: "x"}, {ID: 2, Title: "step two", Instruction: "y"}}
	state.LastResult = okShellResult("echo ok", 0)

	action := runObserve(t, state, `{"route": "decide", "success": true, "notes": "fine"}`)

	if action != core.ActionDecide {
		t.Fatalf("action = %q", action)
	}
	if state.CurrentStepIndex != 1 {
		t.Errorf("cursor = %d", state.CurrentStepIndex)
	}
	if !state.HasFinished("step one") {
		t.Error("successful step not recorded in finished titles")
	}
}

func TestObserve_DecideHoldsOnFailure(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "step one", Instruction: "x"}}
	state.LastResult = okShellResult("false", 1)

	runObserve(t, state, `{"route": "decide", "success": false, "notes": "failed"}`)

	if state.CurrentStepIndex != 0 {
		t.Errorf("cursor advanced on failure: %d", state.CurrentStepIndex)
	}
	if state.HasFinished("step one") {
		t.Error("failed step must not be finished")
	}
}

// When the LLM omits success, the envelope decides: ok=true advances.
func TestObserve_EnvelopeSuccessFallback(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "probe", Instruction: "x"}}
	env := tool.OK("files_exists", map[string]any{"exists": true, "path": "/ws/x"})
	state.LastResult = &env

	runObserve(t, state, `{"route": "decide", "notes": "no explicit success"}`)

	if state.CurrentStepIndex != 1 {
		t.Errorf("cursor = %d", state.CurrentStepIndex)
	}
}

func TestObserve_SkipAlwaysAdvances(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "pointless", Instruction: "x"}}
	state.LastResult = okShellResult("false", 1)

	runObserve(t, state, `{"route": "skip_step", "success": false, "notes": "already satisfied"}`)

	if state.CurrentStepIndex != 1 {
		t.Errorf("skip_step must advance: %d", state.CurrentStepIndex)
	}
}

func TestObserve_RepeatHoldsThenForcesPlan(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "flaky", Instruction: "x"}}
	state.LastResult = okShellResult("flaky-cmd", 1)

	// Two repeats stay on the step and route back to decide.
	for i := 0; i < 2; i++ {
		action := runObserve(t, state, `{"route": "repeat_step", "success": false, "notes": "transient"}`)
		if action != core.ActionDecide {
			t.Fatalf("repeat %d action = %q", i, action)
		}
		if state.CurrentStepIndex != 0 {
			t.Fatalf("repeat advanced the cursor")
		}
	}

	// The third repeat of the same title crosses the threshold: forced plan.
	action := runObserve(t, state, `{"route": "repeat_step", "success": false, "notes": "transient"}`)
	if action != core.ActionPlan {
		t.Fatalf("third repeat action = %q", action)
	}
	if !strings.Contains(state.Observation, "repeat_throttled") {
		t.Errorf("observation = %q", state.Observation)
	}
}

func TestObserve_EndCompletes(t *testing.T) {
	state := newTestState("goal")
	state.LastResult = okShellResult("echo done", 0)

	action := runObserve(t, state, `{"route": "end", "success": true, "notes": "all done"}`)

	if action != core.ActionEnd {
		t.Fatalf("action = %q", action)
	}
	if !state.Complete || state.Failed {
		t.Errorf("complete=%v failed=%v", state.Complete, state.Failed)
	}
}

// Scenario: mode switch applied once per episode; the second suggestion in
// the same episode is throttled.
func TestObserve_ModeSwitchThrottle(t *testing.T) {
	state := newTestState("goal")
	state.LastResult = okShellResult("probe", 0)
	if state.Episode != 1 {
		t.Fatalf("episode = %d", state.Episode)
	}

	action := runObserve(t, state, `{"route": "decide", "mode": "execute", "success": true, "notes": "ready"}`)
	if action != core.ActionPlan {
		t.Fatalf("mode switch must trigger a re-plan, got %q", action)
	}
	if state.Mode != ModeExecute || state.Episode != 2 {
		t.Fatalf("mode=%q episode=%d", state.Mode, state.Episode)
	}

	// Second suggestion within the new episode: ignored, noted, no increment.
	state.LastResult = okShellResult("probe2", 0)
	runObserve(t, state, `{"route": "decide", "mode": "execute", "success": true, "notes": "again"}`)
	if state.Episode != 2 {
		t.Errorf("episode incremented twice: %d", state.Episode)
	}
	if !strings.Contains(state.Observation, "mode_switch_throttled") {
		t.Errorf("observation = %q", state.Observation)
	}
}

func TestObserve_ReplanThrottledWithinEpisode(t *testing.T) {
	state := newTestState("goal")
	state.Task.Steps = []Step{{ID: 1, Title: "s", Instruction: "x"}}
	state.LastResult = okShellResult("x", 1)

	// First observer-driven re-plan of the episode passes.
	action := runObserve(t, state, `{"route": "plan", "success": false, "notes": "plan is stale"}`)
	if action != core.ActionPlan {
		t.Fatalf("first plan action = %q", action)
	}

	// Second within the same episode downgrades to decide.
	action = runObserve(t, state, `{"route": "plan", "success": false, "notes": "still stale"}`)
	if action != core.ActionDecide {
		t.Fatalf("second plan action = %q", action)
	}
	if !strings.Contains(state.Observation, "replan_throttled") {
		t.Errorf("observation = %q", state.Observation)
	}
}

func TestObserve_FactsDeltaMergedAndMigrated(t *testing.T) {
	state := newTestState("goal")
	state.LastResult = okShellResult("probe", 0)

	runObserve(t, state, `{
		"route": "decide", "success": true, "notes": "facts",
		"facts_delta": {"repo_path": "/ws", "project_root": "repo_root/demo", "has_pyproject": true}
	}`)

	if state.Facts.Str("repo_root") != "/ws" {
		t.Errorf("repo_root = %q", state.Facts.Str("repo_root"))
	}
	if state.Facts.Str("project_root") != filepath.Clean("/ws/demo") {
		t.Errorf("project_root = %q", state.Facts.Str("project_root"))
	}
	if state.Facts.Str("project_name") != "demo" {
		t.Errorf("project_name = %q", state.Facts.Str("project_name"))
	}
	if state.Facts.Str("exec_root") != "/ws" {
		t.Errorf("exec_root = %q", state.Facts.Str("exec_root"))
	}
	if _, legacy := state.Facts["repo_path"]; legacy {
		t.Error("legacy key survived")
	}
}

func TestObserve_GitClonePostProcessing_Shell(t *testing.T) {
	state := newTestState("goal")
	state.Facts["project_root"] = "repo_root/placeholder"
	state.LastResult = okShellResult(
		`git clone https://github.com/example/demo.git (Join-Path $env:REPO_ROOT 'demo')`, 0)

	runObserve(t, state, `{"route": "decide", "success": true, "notes": "cloned"}`)

	if state.Facts.Str("project_root") != filepath.Clean("/ws/demo") {
		t.Errorf("project_root = %q", state.Facts.Str("project_root"))
	}
	if state.Facts.Str("project_name") != "demo" {
		t.Errorf("project_name = %q", state.Facts.Str("project_name"))
	}
	if state.Facts.Str("repo_root") != "/ws" {
		t.Errorf("repo_root = %q", state.Facts.Str("repo_root"))
	}
}

func TestObserve_GitClonePostProcessing_EnsureCloned(t *testing.T) {
	state := newTestState("goal")
	env := tool.OK("git_ensure_cloned", map[string]any{
		"existed": false, "cloned": true,
		"repo_root": "/ws", "project_root": "/ws/demo", "project_name": "demo",
	})
	state.LastResult = &env

	runObserve(t, state, `{"route": "decide", "success": true, "notes": "cloned"}`)

	if state.Facts.Str("project_root") != filepath.Clean("/ws/demo") {
		t.Errorf("project_root = %q", state.Facts.Str("project_root"))
	}
	if state.Facts.Str("project_name") != "demo" {
		t.Errorf("project_name = %q", state.Facts.Str("project_name"))
	}
}

func TestObserve_ReadmePostProcessing(t *testing.T) {
	state := newTestState("goal")
	env := tool.OK("files_read", map[string]any{
		"path":    "/ws/demo/README.md",
		"content": "# Demo\n\nA demo project.\n\n## Install\n\n- pip install demo\n",
	})
	state.LastResult = &env

	runObserve(t, state, `{"route": "decide", "success": true, "notes": "read readme"}`)

	if state.ReadmeInfo == nil {
		t.Fatal("readme info missing")
	}
	if state.ReadmeInfo["project_name"] != "Demo" {
		t.Errorf("project_name = %v", state.ReadmeInfo["project_name"])
	}
	if !state.Facts.Bool("has_readme") || !state.Facts.Bool("readme_read") {
		t.Error("readme facts not set")
	}
	cmds, _ := state.ReadmeInfo["install_cmds"].([]string)
	if len(cmds) == 0 || !strings.Contains(cmds[0], "pip install") {
		t.Errorf("install_cmds = %v", cmds)
	}
}

func TestObserve_UnparseableDefaultsToDecide(t *testing.T) {
	state := newTestState("goal")
	state.LastResult = okShellResult("x", 0)

	action := runObserve(t, state, "not json at all")

	if action != core.ActionDecide {
		t.Errorf("action = %q", action)
	}
}
