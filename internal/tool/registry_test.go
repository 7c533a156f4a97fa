package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args json.RawMessage) Envelope
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "fake tool" }
func (f *fakeTool) InputSchema() json.RawMessage { return BuildSchema() }
func (f *fakeTool) Init(_ context.Context) error { return nil }
func (f *fakeTool) Close() error                 { return nil }

func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) Envelope {
	return f.execute(ctx, args)
}

func TestRegistry_RegisterAndCall(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo", execute: func(_ context.Context, args json.RawMessage) Envelope {
		return OK("echo", map[string]any{"args": string(args)})
	}})

	env := r.Call(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	if !env.OK || env.Str("args") != `{"x":1}` {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestRegistry_CallUnknownTool(t *testing.T) {
	r := NewRegistry()
	env := r.Call(context.Background(), "nope", nil)
	if env.OK || env.Error != ErrUnknownTool {
		t.Errorf("expected unknown_tool failure, got %+v", env)
	}
}

func TestRegistry_CallRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "boom", execute: func(_ context.Context, _ json.RawMessage) Envelope {
		panic("kaboom")
	}})

	env := r.Call(context.Background(), "boom", nil)
	if env.OK {
		t.Fatal("panicking tool must yield ok=false")
	}
	if env.Error == "" || env.Data == nil {
		t.Errorf("panic must map to a well-formed envelope: %+v", env)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		r.Register(&fakeTool{name: n, execute: func(_ context.Context, _ json.RawMessage) Envelope {
			return OK(n, nil)
		}})
	}
	list := r.List()
	if len(list) != 3 || list[0].Name() != "alpha" || list[2].Name() != "zeta" {
		names := make([]string, len(list))
		for i, tl := range list {
			names[i] = tl.Name()
		}
		t.Errorf("list not sorted: %v", names)
	}
}

func TestRegistry_GenerateToolsPrompt(t *testing.T) {
	r := NewRegistry()
	if got := r.GenerateToolsPrompt(); got != "(no tools available)" {
		t.Errorf("empty registry prompt = %q", got)
	}
	r.Register(&fakeTool{name: "files_exists", execute: nil})
	prompt := r.GenerateToolsPrompt()
	if !strings.Contains(prompt, "files_exists") {
		t.Errorf("prompt missing tool name: %q", prompt)
	}
}
