package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/calderhq/agentloop/pkg/ai"
)

func defWithSchema(schema string) ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "t",
		Description: "test tool",
		Parameters:  json.RawMessage(schema),
	}
}

func TestValidateAndCoerce_ValidPassesThrough(t *testing.T) {
	def := defWithSchema(`{
		"type":"object",
		"properties":{"name":{"type":"string"},"count":{"type":"integer"}},
		"required":["name","count"]
	}`)

	in := map[string]any{"name": "foo", "count": float64(3)}
	args, err := ValidateAndCoerce(def, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["name"] != "foo" || args["count"] != float64(3) {
		t.Errorf("args mutated: %v", args)
	}
}

func TestValidateAndCoerce_RepairsQuotedInteger(t *testing.T) {
	def := defWithSchema(`{
		"type":"object",
		"properties":{"offset":{"type":"integer"}},
		"required":["offset"]
	}`)

	// Models sometimes quote numeric values.
	args, err := ValidateAndCoerce(def, map[string]any{"offset": "5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	switch v := args["offset"].(type) {
	case int64:
		if v != 5 {
			t.Errorf("offset = %v, want 5", v)
		}
	case float64:
		if v != 5 {
			t.Errorf("offset = %v, want 5", v)
		}
	default:
		t.Errorf("offset type = %T, want numeric; value = %v", args["offset"], args["offset"])
	}
}

func TestValidateAndCoerce_RepairsNumberToString(t *testing.T) {
	def := defWithSchema(`{
		"type":"object",
		"properties":{"path":{"type":"string"}},
		"required":["path"]
	}`)

	args, err := ValidateAndCoerce(def, map[string]any{"path": float64(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["path"] != "42" {
		t.Errorf("path = %v, want \"42\"", args["path"])
	}
}

func TestValidateAndCoerce_RepairsBoolString(t *testing.T) {
	def := defWithSchema(`{
		"type":"object",
		"properties":{"force":{"type":"boolean"}},
		"required":["force"]
	}`)

	args, err := ValidateAndCoerce(def, map[string]any{"force": "True"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["force"] != true {
		t.Errorf("force = %v, want true", args["force"])
	}
}

func TestValidateAndCoerce_MissingRequired(t *testing.T) {
	def := defWithSchema(`{
		"type":"object",
		"properties":{"name":{"type":"string"}},
		"required":["name"]
	}`)

	_, err := ValidateAndCoerce(def, map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing required field")
	}
	if !strings.Contains(err.Error(), `tool "t"`) {
		t.Errorf("error does not name the tool: %v", err)
	}
}

func TestValidateAndCoerce_NoSchemaAcceptsAnything(t *testing.T) {
	for _, schema := range []string{"", "not json"} {
		args, err := ValidateAndCoerce(defWithSchema(schema), map[string]any{"x": 1})
		if err != nil {
			t.Fatalf("schema %q: unexpected error: %v", schema, err)
		}
		if args["x"] != 1 {
			t.Errorf("schema %q: args[x] = %v, want 1", schema, args["x"])
		}
	}
}
