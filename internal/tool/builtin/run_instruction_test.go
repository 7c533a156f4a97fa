package builtin

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/shell"
)

// scriptedProvider returns canned completions in order.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Complete(_ context.Context, _ string, _ llm.Params) (string, error) {
	if p.calls >= len(p.responses) {
		return "", nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

func (p *scriptedProvider) Model() string { return "scripted" }

func newRunInstructionFixture(t *testing.T, provider llm.Provider) *RunInstructionTool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bash-backed run_instruction tests run on POSIX hosts only")
	}
	setupWorkspace(t, nil)
	manager := shell.NewManager(shell.Bash{}, 30*time.Second)
	t.Cleanup(manager.CloseAll)
	return NewRunInstructionTool(manager, provider)
}

func TestRunInstruction_LiteralCommandPassesThrough(t *testing.T) {
	provider := &scriptedProvider{}
	tl := newRunInstructionFixture(t, provider)

	env := tl.Execute(context.Background(), mustJSON(t, map[string]any{
		"intent": "echo hello-agent",
	}))
	if !env.OK {
		t.Fatalf("execute failed: %+v", env)
	}
	if provider.calls != 0 {
		t.Error("literal command must not invoke the translator")
	}
	if !strings.Contains(env.Str("stdout"), "hello-agent") {
		t.Errorf("stdout = %q", env.Str("stdout"))
	}
	if env.Str("session_token") == "" {
		t.Error("session_token missing")
	}
	if env.Int("exit_code", -1) != 0 {
		t.Errorf("exit_code = %d", env.Int("exit_code", -1))
	}
}

func TestRunInstruction_TranslatesNaturalLanguage(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"echo translated-output"}}
	tl := newRunInstructionFixture(t, provider)

	env := tl.Execute(context.Background(), mustJSON(t, map[string]any{
		"intent": "print a friendly greeting to the console",
	}))
	if !env.OK {
		t.Fatalf("execute failed: %+v", env)
	}
	if provider.calls != 1 {
		t.Errorf("translator calls = %d", provider.calls)
	}
	if !strings.Contains(env.Str("stdout"), "translated-output") {
		t.Errorf("stdout = %q", env.Str("stdout"))
	}
}

func TestRunInstruction_TimeoutSynthesizesResultAndNewSession(t *testing.T) {
	tl := newRunInstructionFixture(t, &scriptedProvider{})

	env := tl.Execute(context.Background(), mustJSON(t, map[string]any{
		"intent": "sleep 5", "timeout": 1,
	}))
	if env.OK {
		t.Fatal("timeout must produce ok=false")
	}
	if env.Int("exit_code", 0) != 124 || !env.Bool("timed_out") {
		t.Errorf("synthetic result = %+v", env.Data)
	}
	if !strings.Contains(env.Str("stdout"), "Timed out after 1s") {
		t.Errorf("stdout = %q", env.Str("stdout"))
	}
	deadToken := env.Str("session_token")

	// The session died with the timeout; the follow-up call gets a new one.
	env2 := tl.Execute(context.Background(), mustJSON(t, map[string]any{
		"intent": "echo recovered", "session_token": deadToken,
	}))
	if !env2.OK {
		t.Fatalf("recovery run failed: %+v", env2)
	}
	if env2.Str("session_token") == deadToken {
		t.Error("expected a fresh session token after timeout")
	}
}

func TestRunInstruction_SessionReuse(t *testing.T) {
	tl := newRunInstructionFixture(t, &scriptedProvider{})

	env := tl.Execute(context.Background(), mustJSON(t, map[string]any{"intent": "export PROBE=xyz"}))
	if !env.OK {
		t.Fatalf("first run: %+v", env)
	}
	token := env.Str("session_token")

	env2 := tl.Execute(context.Background(), mustJSON(t, map[string]any{
		"intent": "echo $PROBE", "session_token": token,
	}))
	if !env2.OK {
		t.Fatalf("second run: %+v", env2)
	}
	if env2.Str("session_token") != token {
		t.Error("expected session reuse")
	}
	if !strings.Contains(env2.Str("stdout"), "xyz") {
		t.Errorf("session state lost: %q", env2.Str("stdout"))
	}
}

func TestRunInstruction_LegacyArgAlias(t *testing.T) {
	tl := newRunInstructionFixture(t, &scriptedProvider{})

	env := tl.Execute(context.Background(), mustJSON(t, map[string]any{
		"nl_instruction": "echo legacy-alias",
	}))
	if !env.OK || !strings.Contains(env.Str("stdout"), "legacy-alias") {
		t.Errorf("legacy alias run = %+v", env)
	}
}
