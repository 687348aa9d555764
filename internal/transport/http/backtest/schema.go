package backtesthttp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// runRequestSchema 约束 POST /api/backtest/runs 的请求体。
const runRequestSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "label":   {"type": "string", "maxLength": 64},
    "profile": {"type": "string"},
    "export":  {"type": "boolean"},
    "strategy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "trend_length":                 {"type": "integer", "minimum": 1},
        "trend_multiplier":             {"type": "number", "exclusiveMinimum": 0},
        "pip_size":                     {"type": "number", "exclusiveMinimum": 0},
        "max_entry_stop_distance_pips": {"type": "number", "exclusiveMinimum": 0},
        "entry_hours": {
          "oneOf": [
            {"type": "string"},
            {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 24}, "minItems": 2, "maxItems": 2}
          ]
        },
        "allowed_sides": {
          "type": "array",
          "items": {"type": "string", "enum": ["long", "short", "both"]}
        },
        "tradable_dates":      {"type": "array", "items": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"}},
        "tradable_dates_file": {"type": "string"}
      }
    }
  }
}`

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("run_request.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("run_request.json")
}

// validateBody 解码 JSON 并按 schema 校验，返回通用 map 供后续解码。
func validateBody(schema *jsonschema.Schema, body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}
	out, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("request body must be an object")
	}
	return out, nil
}
