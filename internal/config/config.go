// Package config resolves process configuration from the environment.
//
// The agent has deliberately little configuration of its own: the workspace
// root, shell timeouts, and the recursion limit. Everything LLM-related lives
// in internal/llm/openai.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// Defaults for the runtime knobs below.
const (
	DefaultRecursionLimit   = 100
	DefaultLineTimeoutSecs  = 600
	DefaultShellTimeoutSecs = 60
)

// WorkspaceRoot resolves the workspace root directory (the containment
// boundary for all filesystem activity).
//
// Priority: REPO_ROOT > AGENT_WORK_DIR > current working directory.
// The result is absolute, except that "." is returned when the current
// working directory cannot be determined.
func WorkspaceRoot() string {
	for _, key := range []string{"REPO_ROOT", "AGENT_WORK_DIR"} {
		if v := os.Getenv(key); v != "" {
			if abs, err := filepath.Abs(v); err == nil {
				return abs
			}
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		// No cwd at all; "." keeps callers functional.
		return "."
	}
	return cwd
}

// LineTimeoutSecs returns the per-line read timeout for shell sessions,
// in seconds. Networked installs and large clones may be silent for long
// stretches, so the default is generous.
func LineTimeoutSecs() int {
	return getEnvIntOrDefault("SHELL_LINE_TIMEOUT", DefaultLineTimeoutSecs)
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
		log.Printf("[Config] WARNING: invalid value for %s=%q, using default %d", key, v, defaultValue)
	}
	return defaultValue
}
