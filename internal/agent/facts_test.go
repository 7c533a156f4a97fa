package agent

import (
	"path/filepath"
	"testing"
)

func TestFacts_MergeMigratesLegacyKeys(t *testing.T) {
	f := Facts{}
	f.Merge(map[string]any{
		"repo_path":  "/ws",
		"clone_path": "/ws/demo",
		"work_dir":   "/somewhere",
		"custom":     42,
	})
	if f.Str("repo_root") != "/ws" {
		t.Errorf("repo_root = %q", f.Str("repo_root"))
	}
	if f.Str("project_root") != "/ws/demo" {
		t.Errorf("project_root = %q", f.Str("project_root"))
	}
	for _, legacy := range []string{"repo_path", "clone_path", "work_dir"} {
		if _, present := f[legacy]; present {
			t.Errorf("legacy key %q survived the merge", legacy)
		}
	}
	if f["custom"] != 42 {
		t.Error("non-legacy keys must pass through")
	}
}

func TestFacts_MergeCanonicalWins(t *testing.T) {
	f := Facts{"repo_root": "/canonical"}
	f.Merge(map[string]any{"repo_path": "/legacy"})
	if f.Str("repo_root") != "/canonical" {
		t.Errorf("legacy value overwrote canonical: %q", f.Str("repo_root"))
	}
}

func TestFacts_NormalizePlaceholderRoundTrip(t *testing.T) {
	f := Facts{
		"repo_root":    "/ws",
		"project_root": "repo_root/foo",
	}
	f.Normalize("/ws")
	want := filepath.Clean("/ws/foo")
	if f.Str("project_root") != want {
		t.Errorf("project_root = %q, want %q", f.Str("project_root"), want)
	}
}

func TestFacts_NormalizeDerivesProjectRootFromName(t *testing.T) {
	f := Facts{"repo_root": "/ws", "project_name": "demo"}
	f.Normalize("/ws")
	if f.Str("project_root") != filepath.Clean("/ws/demo") {
		t.Errorf("project_root = %q", f.Str("project_root"))
	}
}

func TestFacts_NormalizeDerivesNameFromProjectRoot(t *testing.T) {
	f := Facts{"repo_root": "/ws", "project_root": "/ws/demo"}
	f.Normalize("/ws")
	if f.Str("project_name") != "demo" {
		t.Errorf("project_name = %q", f.Str("project_name"))
	}
}

func TestFacts_NormalizeExecRootDefaults(t *testing.T) {
	f := Facts{"repo_root": "/ws"}
	f.Normalize("/ws")
	if f.Str("exec_root") != filepath.Clean("/ws") {
		t.Errorf("exec_root = %q", f.Str("exec_root"))
	}

	f2 := Facts{"repo_root": "/ws", "exec_root": "repo_root/sub"}
	f2.Normalize("/ws")
	if f2.Str("exec_root") != filepath.Clean("/ws/sub") {
		t.Errorf("expanded exec_root = %q", f2.Str("exec_root"))
	}
}

func TestFacts_NormalizeRepoRootAlwaysAbsolute(t *testing.T) {
	f := Facts{"repo_root": "rel/dir"}
	f.Normalize("/anchor")
	if !filepath.IsAbs(f.Str("repo_root")) {
		t.Errorf("repo_root not absolute: %q", f.Str("repo_root"))
	}
	f2 := Facts{}
	f2.Normalize("/anchor")
	if f2.Str("repo_root") != filepath.Clean("/anchor") {
		t.Errorf("repo_root fallback = %q", f2.Str("repo_root"))
	}
}

func TestFacts_Accessors(t *testing.T) {
	f := Facts{"has_pyproject": true, "project_name": "demo", "n": 3}
	if !f.Bool("has_pyproject") || f.Bool("missing") {
		t.Error("Bool accessor wrong")
	}
	if f.Str("project_name") != "demo" || f.Str("n") != "" {
		t.Error("Str accessor wrong")
	}
	if f.JSON(0) == "" || f.JSON(5) == "" {
		t.Error("JSON accessor wrong")
	}
	if len(f.JSON(5)) != 5 {
		t.Errorf("JSON cap not applied: %q", f.JSON(5))
	}
}
