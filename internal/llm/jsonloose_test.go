package llm

import "testing"

func TestParseLooseJSON_Direct(t *testing.T) {
	obj := ParseLooseJSON(`{"route": "decide", "notes": "ok"}`)
	if obj == nil {
		t.Fatal("expected object, got nil")
	}
	if Str(obj, "route") != "decide" {
		t.Errorf("route = %q", Str(obj, "route"))
	}
}

func TestParseLooseJSON_Fenced(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"title\": \"setup\", \"steps\": []}\n```\nDone."
	obj := ParseLooseJSON(text)
	if obj == nil {
		t.Fatal("expected object from fenced block")
	}
	if Str(obj, "title") != "setup" {
		t.Errorf("title = %q", Str(obj, "title"))
	}
}

func TestParseLooseJSON_BraceSpan(t *testing.T) {
	text := `The decision is {"action": "replan"} as discussed.`
	obj := ParseLooseJSON(text)
	if obj == nil {
		t.Fatal("expected object from brace span")
	}
	if Str(obj, "action") != "replan" {
		t.Errorf("action = %q", Str(obj, "action"))
	}
}

func TestParseLooseJSON_Garbage(t *testing.T) {
	for _, text := range []string{"", "   ", "{ not json", "[1,2,3]", "plain prose"} {
		if obj := ParseLooseJSON(text); obj != nil {
			t.Errorf("ParseLooseJSON(%q) = %v, want nil", text, obj)
		}
	}
}

func TestParseLooseJSON_NestedBraces(t *testing.T) {
	text := `prefix {"outer": {"inner": 1}, "n": 2} suffix`
	obj := ParseLooseJSON(text)
	if obj == nil {
		t.Fatal("expected object")
	}
	if Int(obj, "n", -1) != 2 {
		t.Errorf("n = %d", Int(obj, "n", -1))
	}
	if Obj(obj, "outer") == nil {
		t.Error("outer object missing")
	}
}

func TestAccessors_Mistyped(t *testing.T) {
	obj := map[string]any{"s": 5, "n": "x", "o": "y", "l": "z"}
	if Str(obj, "s") != "" {
		t.Error("Str on non-string should be empty")
	}
	if Int(obj, "n", 7) != 7 {
		t.Error("Int on non-number should fall back")
	}
	if Obj(obj, "o") != nil {
		t.Error("Obj on non-object should be nil")
	}
	if List(obj, "l") != nil {
		t.Error("List on non-array should be nil")
	}
	if Str(nil, "k") != "" || Int(nil, "k", 3) != 3 {
		t.Error("nil object accessors should use zero/fallback")
	}
}
