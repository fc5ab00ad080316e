package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/calderhq/agentloop/pkg/ai"
)

// ValidateAndCoerce checks args against the JSON Schema a tool definition
// declares for its parameters. When validation fails it retries once with
// obvious type mismatches repaired (quoted numbers, "true"/"false" strings,
// numbers where a string is expected) so a model's sloppy argument encoding
// does not turn into a failed call.
//
// A definition with no schema, or one that does not compile, accepts the
// arguments as-is.
func ValidateAndCoerce(def ai.ToolDefinition, args map[string]any) (map[string]any, error) {
	as, ok := compileArgSchema(def.Parameters)
	if !ok {
		return args, nil
	}
	if as.check(args) == nil {
		return args, nil
	}
	repaired := as.repair(args)
	if err := as.check(repaired); err != nil {
		argsJSON, _ := json.MarshalIndent(args, "", "  ")
		return nil, fmt.Errorf("tool %q: arguments rejected by schema: %v\nreceived:\n%s",
			def.Name, err, argsJSON)
	}
	return repaired, nil
}

// argSchema pairs a compiled schema with the declared top-level property
// types the repair pass keys off.
type argSchema struct {
	compiled  *jsonschema.Schema
	propTypes map[string]string
}

// compileArgSchema builds an argSchema from raw schema bytes. A fresh
// compiler is used per call so tool schemas never collide on resource URLs.
func compileArgSchema(raw json.RawMessage) (*argSchema, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/args"
	if err := c.AddResource(url, doc); err != nil {
		return nil, false
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, false
	}

	var decl struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(raw, &decl)
	propTypes := make(map[string]string, len(decl.Properties))
	for name, p := range decl.Properties {
		propTypes[name] = p.Type
	}
	return &argSchema{compiled: compiled, propTypes: propTypes}, true
}

// check round-trips args through JSON so the validator sees the same value
// shapes the wire carries.
func (as *argSchema) check(args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return as.compiled.Validate(inst)
}

// repair returns a copy of args with top-level values nudged toward their
// declared types. Only unambiguous conversions are applied; anything else
// passes through untouched for the second validation to judge.
func (as *argSchema) repair(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for name, v := range args {
		out[name] = repairValue(v, as.propTypes[name])
	}
	return out
}

func repairValue(v any, declared string) any {
	switch declared {
	case "integer":
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return int64(n)
			}
		}
	case "number":
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return n
			}
		}
	case "string":
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64)
		case int64:
			return strconv.FormatInt(n, 10)
		case json.Number:
			return n.String()
		}
	case "boolean":
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return v
}
