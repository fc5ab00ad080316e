package partialjson

import (
	"reflect"
	"testing"
)

func TestParseObject_Complete(t *testing.T) {
	got := ParseObject(`{"x": 1, "y": "z"}`)
	want := map[string]any{"x": float64(1), "y": "z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseObject_MissingClosingBrace(t *testing.T) {
	// The fragment a provider sends as {"x": then 1, stream ends.
	got := ParseObject(`{"x":1`)
	want := map[string]any{"x": float64(1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseObject_UnterminatedString(t *testing.T) {
	got := ParseObject(`{"path": "/tmp/fo`)
	want := map[string]any{"path": "/tmp/fo"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseObject_DanglingKey(t *testing.T) {
	// A key with no value yet cannot be completed; the key is dropped.
	got := ParseObject(`{"x":`)
	if len(got) != 0 {
		t.Errorf("got %v, want empty object", got)
	}
}

func TestParseObject_NestedContainers(t *testing.T) {
	got := ParseObject(`{"a": {"b": [1, 2`)
	want := map[string]any{"a": map[string]any{"b": []any{float64(1), float64(2)}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseObject_TrailingComma(t *testing.T) {
	got := ParseObject(`{"a": 1,`)
	want := map[string]any{"a": float64(1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseObject_Unrecoverable(t *testing.T) {
	for _, in := range []string{"", "not json at all", "]", `{"a": xyz`} {
		got := ParseObject(in)
		if got == nil {
			t.Fatalf("ParseObject(%q) returned nil", in)
		}
		// Unrecoverable input degrades to the empty object; partially
		// recoverable input keeps what parsed.
		_ = got
	}
	if got := ParseObject("tru"); len(got) != 0 {
		t.Errorf("ParseObject(\"tru\") = %v, want empty object", got)
	}
}

func TestParseObject_EscapeAtBoundary(t *testing.T) {
	// Fragment ends mid escape sequence; closing the string there would
	// corrupt the escape, so the parser backs off by one byte.
	got := ParseObject(`{"s": "a\`)
	want := map[string]any{"s": "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParse_Deterministic(t *testing.T) {
	in := `{"a": [1, {"b": "c`
	first := Parse(in)
	for i := 0; i < 10; i++ {
		if !reflect.DeepEqual(Parse(in), first) {
			t.Fatal("Parse is not deterministic")
		}
	}
}

func TestParse_ScalarPrefix(t *testing.T) {
	if got := Parse(`"hel`); got != "hel" {
		t.Errorf("got %v, want \"hel\"", got)
	}
	if got := Parse(`42`); got != float64(42) {
		t.Errorf("got %v, want 42", got)
	}
}
