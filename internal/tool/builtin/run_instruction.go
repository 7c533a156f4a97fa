package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/netreee/setup-agent/internal/llm"
	"github.com/netreee/setup-agent/internal/shell"
	"github.com/netreee/setup-agent/internal/tool"
	"github.com/netreee/setup-agent/internal/trace"
)

const defaultInstructionTimeout = 60 * time.Second

// psCommandPrefixes mark text that is already a PowerShell command and needs
// no translation.
var psCommandPrefixes = []string{
	"$", "Get-", "Set-", "New-", "Remove-", "Test-", "Write-",
	"echo", "cd", "mkdir", "dir", "if", "foreach",
	"git ", "pip ", "python ", "uv ", "poetry ", "pdm ", "conda ",
}

// shCommandPrefixes mark text that is already a POSIX command.
var shCommandPrefixes = []string{
	"$", "./", "echo", "cd", "mkdir", "ls", "cat", "cp", "mv", "export",
	"git ", "pip ", "pip3 ", "python ", "python3 ", "uv ", "poetry ", "pdm ",
	"conda ", "make ", "bash ", "sh ", "pytest", "source ",
}

// RunInstructionTool executes a natural-language instruction in the
// persistent shell session: NL → command translation (LLM, skipped when the
// text already looks like a command), sanitization, then execution under the
// marker-sentinel protocol.
type RunInstructionTool struct {
	manager  *shell.Manager
	provider llm.Provider
}

// NewRunInstructionTool creates the shell wrapper tool.
func NewRunInstructionTool(manager *shell.Manager, provider llm.Provider) *RunInstructionTool {
	return &RunInstructionTool{manager: manager, provider: provider}
}

func (t *RunInstructionTool) Name() string { return "run_instruction" }
func (t *RunInstructionTool) Description() string {
	return "Translate a natural-language instruction into a shell command and run it in the persistent session"
}

func (t *RunInstructionTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "intent", Type: "string", Description: "Natural-language instruction or literal command", Required: true},
		tool.SchemaParam{Name: "timeout", Type: "integer", Description: "Command timeout in seconds (default 60)"},
		tool.SchemaParam{Name: "session_token", Type: "string", Description: "Reuse an existing shell session"},
	)
}

func (t *RunInstructionTool) Init(_ context.Context) error { return nil }

// Close tears down every session the manager owns.
func (t *RunInstructionTool) Close() error {
	t.manager.CloseAll()
	return nil
}

type runInstructionArgs struct {
	Intent        string `json:"intent"`
	NLInstruction string `json:"nl_instruction"` // legacy alias for intent
	Timeout       int    `json:"timeout"`
	SessionToken  string `json:"session_token"`
}

func (t *RunInstructionTool) Execute(ctx context.Context, args json.RawMessage) tool.Envelope {
	var a runInstructionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Fail(t.Name(), map[string]any{"exit_code": 1, "stdout": "", "command": ""}, tool.ErrInvalidJSON)
	}
	intent := strings.TrimSpace(a.Intent)
	if intent == "" {
		intent = strings.TrimSpace(a.NLInstruction)
	}
	if intent == "" {
		return tool.Fail(t.Name(), map[string]any{"exit_code": 1, "stdout": "", "command": ""}, tool.ErrInvalidJSON)
	}

	timeout := defaultInstructionTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Second
	}

	env := t.envSnapshot()
	command := t.translate(ctx, intent, env)
	trace.Note("run_instruction", "translated_command", command)

	token, result, err := t.manager.Run(ctx, a.SessionToken, command, timeout, env)
	if err != nil {
		return tool.Fail(t.Name(), map[string]any{
			"exit_code":     1,
			"stdout":        "",
			"command":       command,
			"session_token": a.SessionToken,
		}, fmt.Sprintf("%T: %v", err, err))
	}

	data := map[string]any{
		"exit_code":     result.ExitCode,
		"stdout":        result.Stdout,
		"command":       result.Command,
		"start_dir":     result.StartDir,
		"end_dir":       result.EndDir,
		"timed_out":     result.TimedOut,
		"session_token": token,
	}
	if result.TimedOut {
		return tool.Envelope{OK: false, Tool: t.Name(), Data: data, Error: "timeout"}
	}
	return tool.OK(t.Name(), data)
}

// envSnapshot builds the root paths passed to the session from the process
// environment (the decide node refreshes these from facts before each call).
func (t *RunInstructionTool) envSnapshot() shell.EnvSnapshot {
	return shell.EnvSnapshot{
		RepoRoot:    workspaceRoot(),
		ProjectRoot: os.Getenv("PROJECT_ROOT"),
	}
}

// translate turns a natural-language instruction into a single shell command.
// Text that already looks like a command passes through; LLM failures fall
// back to the raw instruction so execution still proceeds.
func (t *RunInstructionTool) translate(ctx context.Context, intent string, env shell.EnvSnapshot) string {
	if t.looksLikeCommand(intent) {
		return intent
	}
	if t.provider == nil {
		return intent
	}

	prompt := t.buildTranslatePrompt(intent, env)
	out, err := t.provider.Complete(ctx, prompt, llm.Params{Temperature: 0.2, MaxTokens: 300})
	if err != nil {
		trace.Note("run_instruction", "translate_error", err.Error())
		return intent
	}
	cmd := strings.TrimSpace(out)
	cmd = strings.Trim(cmd, "`")
	if cmd == "" {
		return intent
	}
	// Models occasionally return a fenced block despite instructions.
	if strings.HasPrefix(cmd, "```") {
		lines := strings.Split(cmd, "\n")
		var body []string
		for _, l := range lines {
			if strings.HasPrefix(strings.TrimSpace(l), "```") {
				continue
			}
			body = append(body, l)
		}
		cmd = strings.TrimSpace(strings.Join(body, "\n"))
	}
	if cmd == "" {
		return intent
	}
	return cmd
}

func (t *RunInstructionTool) looksLikeCommand(text string) bool {
	prefixes := shCommandPrefixes
	if t.manager.Dialect().Name() == "powershell" {
		prefixes = psCommandPrefixes
	}
	trimmed := strings.TrimSpace(text)
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func (t *RunInstructionTool) buildTranslatePrompt(intent string, env shell.EnvSnapshot) string {
	if t.manager.Dialect().Name() == "powershell" {
		return fmt.Sprintf(`You are a helpful assistant that translates natural language into a single, self-contained PowerShell command.
Rules:
- Output ONLY the command, no explanation, no quotes around the entire command.
- Do not use interactive tools (vim, nano, notepad).
- Never emit absolute disk-rooted paths (like C:\ or D:\). Build all paths from $env:REPO_ROOT, or $env:PROJECT_ROOT if set.
- Prefer Join-Path with -LiteralPath when specifying file/dir arguments.
- For project-scoped operations (install/edit/read within the target project), refer to $env:PROJECT_ROOT if available.
- For editable install, prefer: pip install -e $env:PROJECT_ROOT
- Examples of correct path handling:
  * Get-Content -LiteralPath (Join-Path $env:REPO_ROOT 'demo\README.md') -Raw
  * pip install -r (Join-Path $env:REPO_ROOT 'demo\requirements.txt')
  * pip install -e $env:PROJECT_ROOT

User request: %s`, intent)
	}
	return fmt.Sprintf(`You are a helpful assistant that translates natural language into a single, self-contained bash command.
Rules:
- Output ONLY the command, no explanation, no markdown fences.
- Do not use interactive tools (vim, nano, less).
- Never emit absolute paths outside the workspace. Build all paths from "$REPO_ROOT", or "$PROJECT_ROOT" if set.
- For project-scoped operations (install/edit/read within the target project), refer to "$PROJECT_ROOT" if available.
- For editable install, prefer: pip install -e "$PROJECT_ROOT"
- Examples of correct path handling:
  * cat "$REPO_ROOT/demo/README.md"
  * pip install -r "$REPO_ROOT/demo/requirements.txt"
  * pip install -e "$PROJECT_ROOT"

User request: %s`, intent)
}
