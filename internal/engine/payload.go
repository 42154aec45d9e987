package engine

import (
	"encoding/json"
	"fmt"
	"maps"
)

// stringify renders v as JSON, falling back to fmt formatting when v
// cannot be encoded. It never fails.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(json.RawMessage); ok {
		return string(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// decodeParams parses stored execution parameters. Unparsable text yields an empty map.
func decodeParams(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// mergeParams overlays execution parameters on the step's declared ones.
// Execution values win on key collision.
func mergeParams(step, execution map[string]any) map[string]any {
	out := make(map[string]any, len(step)+len(execution))
	maps.Copy(out, step)
	maps.Copy(out, execution)
	return out
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
