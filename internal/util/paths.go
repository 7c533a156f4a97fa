package util

import (
	"path/filepath"
	"strings"
)

// rootPlaceholderPrefixes are the spellings LLM output uses to refer to the
// workspace root before it knows the absolute path.
var rootPlaceholderPrefixes = []string{
	"$env:REPO_ROOT\\", "$env:REPO_ROOT/",
	"%REPO_ROOT%\\", "%REPO_ROOT%/",
	"$REPO_ROOT/",
}

// ExpandRoot expands workspace-root placeholders in a path value:
// "repo_root/x", "$env:REPO_ROOT\x", "%REPO_ROOT%/x" and the bare
// placeholder forms all resolve against root. Absolute paths and plain
// relative paths pass through unchanged.
func ExpandRoot(path, root string) string {
	s := strings.TrimSpace(path)
	r := strings.TrimSpace(root)
	if r == "" {
		return s
	}
	if s == "" {
		return r
	}

	lowered := strings.ToLower(s)
	if strings.HasPrefix(lowered, "repo_root/") || strings.HasPrefix(lowered, "repo_root\\") {
		return filepath.Join(r, s[len("repo_root/"):])
	}
	for _, prefix := range rootPlaceholderPrefixes {
		if strings.HasPrefix(s, prefix) {
			return filepath.Join(r, s[len(prefix):])
		}
	}
	switch s {
	case "repo_root", "$env:REPO_ROOT", "%REPO_ROOT%", "$REPO_ROOT", ".":
		return r
	}
	return s
}
