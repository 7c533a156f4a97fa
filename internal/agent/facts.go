package agent

import (
	"encoding/json"
	"path/filepath"

	"github.com/netreee/setup-agent/internal/util"
)

// Facts is the canonical key/value store consulted by planner and decider.
// Downstream nodes may trust only the canonical keys below; legacy synonyms
// are migrated on every merge.
type Facts map[string]any

// legacyKeyAliases maps legacy fact keys to their canonical replacements.
var legacyKeyAliases = map[string]string{
	"repo_path":  "repo_root",
	"clone_path": "project_root",
	"work_dir":   "", // dropped outright
}

// Str reads a string fact, "" when absent or mistyped.
func (f Facts) Str(key string) string {
	s, _ := f[key].(string)
	return s
}

// Bool reads a boolean fact.
func (f Facts) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// JSON renders the facts for prompt injection, capped at n bytes.
func (f Facts) JSON(n int) string {
	b, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	s := string(b)
	if n > 0 && len(s) > n {
		s = s[:n]
	}
	return s
}

// Merge applies a delta last-writer-wins, migrating legacy keys to canonical
// ones. Legacy keys never survive a merge.
func (f Facts) Merge(delta map[string]any) {
	for k, v := range delta {
		if canonical, isLegacy := legacyKeyAliases[k]; isLegacy {
			if canonical != "" && f[canonical] == nil {
				f[canonical] = v
			}
			continue
		}
		f[k] = v
	}
	for legacy := range legacyKeyAliases {
		delete(f, legacy)
	}
}

// Normalize re-establishes the canonical path facts after a merge:
//   - repo_root: absolute; workRoot is the fallback when unset
//   - project_root: placeholder-expanded and absolute; derived from
//     project_name when only the name is known
//   - project_name: derived from project_root when unset
//   - exec_root: defaults to repo_root
func (f Facts) Normalize(workRoot string) {
	repoRoot := f.Str("repo_root")
	if repoRoot == "" {
		repoRoot = workRoot
	}
	if !filepath.IsAbs(repoRoot) {
		repoRoot = filepath.Join(workRoot, repoRoot)
	}
	repoRoot = filepath.Clean(repoRoot)
	f["repo_root"] = repoRoot

	projectRoot := f.Str("project_root")
	if projectRoot != "" {
		projectRoot = util.ExpandRoot(projectRoot, repoRoot)
		if !filepath.IsAbs(projectRoot) {
			projectRoot = filepath.Join(repoRoot, projectRoot)
		}
		f["project_root"] = filepath.Clean(projectRoot)
	} else if name := f.Str("project_name"); name != "" {
		f["project_root"] = filepath.Join(repoRoot, name)
	}

	if f.Str("project_root") != "" && f.Str("project_name") == "" {
		f["project_name"] = filepath.Base(f.Str("project_root"))
	}

	execRoot := f.Str("exec_root")
	if execRoot == "" {
		f["exec_root"] = repoRoot
	} else {
		execRoot = util.ExpandRoot(execRoot, repoRoot)
		if !filepath.IsAbs(execRoot) {
			execRoot = filepath.Join(repoRoot, execRoot)
		}
		f["exec_root"] = filepath.Clean(execRoot)
	}
}
