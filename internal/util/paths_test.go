package util

import (
	"path/filepath"
	"testing"
)

func TestExpandRoot(t *testing.T) {
	root := filepath.FromSlash("/ws")
	cases := []struct{ in, want string }{
		{"repo_root/foo", filepath.FromSlash("/ws/foo")},
		{"REPO_ROOT", "REPO_ROOT"}, // bare uppercase is not a placeholder spelling
		{"repo_root", "/ws"},
		{"$env:REPO_ROOT/foo", filepath.FromSlash("/ws/foo")},
		{"%REPO_ROOT%/foo", filepath.FromSlash("/ws/foo")},
		{"$REPO_ROOT/foo", filepath.FromSlash("/ws/foo")},
		{"$env:REPO_ROOT", "/ws"},
		{".", "/ws"},
		{"", "/ws"},
		{"plain/rel", "plain/rel"},
		{"/abs/path", "/abs/path"},
	}
	for _, c := range cases {
		if got := ExpandRoot(c.in, root); got != c.want {
			t.Errorf("ExpandRoot(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExpandRoot_EmptyRoot(t *testing.T) {
	if got := ExpandRoot("repo_root/foo", ""); got != "repo_root/foo" {
		t.Errorf("empty root must pass through, got %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("héllo wörld", 5); got != "héllo..." {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("anything", 0); got != "anything" {
		t.Errorf("got %q", got)
	}
}
