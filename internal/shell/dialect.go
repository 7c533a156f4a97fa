// Package shell owns the persistent interactive shell sessions the agent
// drives: dialect abstraction (PowerShell on Windows, bash on POSIX),
// marker-sentinel command framing, the session manager, and the command
// sanitizer applied to every LLM-generated command line.
package shell

import (
	"fmt"
	"runtime"
	"strings"
)

// Dialect abstracts the differences between the host shells the agent can
// drive. All methods are pure string builders; process management lives in
// Session.
type Dialect interface {
	// Name identifies the dialect ("powershell" or "bash").
	Name() string

	// Argv returns the interpreter command line for a persistent session
	// reading commands from stdin.
	Argv() []string

	// InitScript returns the commands issued once at session startup:
	// null prompt, env-var injection, cd to the workspace root.
	InitScript(env EnvSnapshot) []string

	// Wrap frames a command with stderr merging and the marker sentinel that
	// carries the exit code back over the shared stdout stream.
	Wrap(command, marker string) string

	// EnvAssign returns a statement assigning an environment variable inside
	// the session.
	EnvAssign(key, value string) string

	// PwdCommand returns a command printing the current working directory as
	// a single line.
	PwdCommand() string

	// EnvRef returns the dialect's reference syntax for an environment
	// variable (e.g. "$env:REPO_ROOT" vs "$REPO_ROOT").
	EnvRef(name string) string

	// JoinPath returns an expression joining an environment-variable root
	// with a relative path, quoting the relative part.
	JoinPath(envName, rel string) string
}

// EnvSnapshot carries the root paths injected into every session and
// consulted by the sanitizer. ProjectRoot may be empty before discovery.
type EnvSnapshot struct {
	RepoRoot    string
	ProjectRoot string
}

// DefaultDialect selects the host dialect: PowerShell on Windows, bash
// everywhere else.
func DefaultDialect() Dialect {
	if runtime.GOOS == "windows" {
		return PowerShell{}
	}
	return Bash{}
}

// ── PowerShell ──

// PowerShell drives a persistent `powershell -NoProfile -NoExit -Command -`
// process.
type PowerShell struct{}

func (PowerShell) Name() string { return "powershell" }

func (PowerShell) Argv() []string {
	return []string{"powershell", "-NoProfile", "-NoExit", "-Command", "-"}
}

func (d PowerShell) InitScript(env EnvSnapshot) []string {
	// The null prompt keeps output parsing from tripping over "PS C:\>" lines.
	cmds := []string{"function prompt {''}"}
	if env.RepoRoot != "" {
		cmds = append(cmds, d.EnvAssign("REPO_ROOT", env.RepoRoot))
	}
	if env.ProjectRoot != "" {
		cmds = append(cmds, d.EnvAssign("PROJECT_ROOT", env.ProjectRoot))
	}
	if env.RepoRoot != "" {
		cmds = append(cmds, "Set-Location -LiteralPath $env:REPO_ROOT")
	}
	return cmds
}

func (PowerShell) Wrap(command, marker string) string {
	// $LASTEXITCODE only reflects external processes; cmdlet-only commands
	// fall back to $? (True→0, False→1).
	return fmt.Sprintf(
		"$ErrorActionPreference='Continue'; $global:LASTEXITCODE=$null; %s 2>&1 | Out-Host; "+
			"$code = if ($LASTEXITCODE -ne $null) { $LASTEXITCODE } else { if ($?) { 0 } else { 1 } }; "+
			"Write-Output \"%s:$code\" | Out-Host",
		command, marker,
	)
}

func (PowerShell) EnvAssign(key, value string) string {
	return fmt.Sprintf("$env:%s = '%s'", key, psQuote(value))
}

func (PowerShell) PwdCommand() string {
	return "Get-Location | Select-Object -ExpandProperty Path"
}

func (PowerShell) EnvRef(name string) string { return "$env:" + name }

func (PowerShell) JoinPath(envName, rel string) string {
	return fmt.Sprintf("(Join-Path $env:%s '%s')", envName, psQuote(rel))
}

// psQuote escapes a value for a single-quoted PowerShell string.
func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ── bash ──

// Bash drives a persistent `bash --noprofile --norc` process reading
// commands from stdin.
type Bash struct{}

func (Bash) Name() string { return "bash" }

func (Bash) Argv() []string {
	return []string{"bash", "--noprofile", "--norc"}
}

func (d Bash) InitScript(env EnvSnapshot) []string {
	cmds := []string{"PS1=''"}
	if env.RepoRoot != "" {
		cmds = append(cmds, d.EnvAssign("REPO_ROOT", env.RepoRoot))
	}
	if env.ProjectRoot != "" {
		cmds = append(cmds, d.EnvAssign("PROJECT_ROOT", env.ProjectRoot))
	}
	if env.RepoRoot != "" {
		cmds = append(cmds, `cd -- "$REPO_ROOT"`)
	}
	return cmds
}

func (Bash) Wrap(command, marker string) string {
	// Grouping keeps compound commands (a && b; c) under one redirection and
	// one $? capture.
	return fmt.Sprintf(`{ %s ; } 2>&1; echo "%s:$?"`, command, marker)
}

func (Bash) EnvAssign(key, value string) string {
	return fmt.Sprintf("export %s='%s'", key, shQuote(value))
}

func (Bash) PwdCommand() string { return "pwd" }

func (Bash) EnvRef(name string) string { return "$" + name }

func (Bash) JoinPath(envName, rel string) string {
	return fmt.Sprintf(`"$%s/%s"`, envName, rel)
}

// shQuote escapes a value for a single-quoted POSIX string.
func shQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}
