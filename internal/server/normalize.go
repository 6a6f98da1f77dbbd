package server

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// envelopeKeys are wrapper keys some protocol adapters nest the real
// arguments under, in lookup order.
var envelopeKeys = []string{"arguments", "args", "params", "input"}

// maxUnwrapDepth bounds envelope unwrapping on self-nesting payloads.
const maxUnwrapDepth = 8

// rawCommandPaths are probed on the serialized request when normalization
// did not surface a command.
var rawCommandPaths = []string{
	"command",
	"arguments.command",
	"args.command",
	"params.command",
	"params.arguments.command",
	"input.command",
}

// Normalize flattens a loosely-typed argument bag into one record. It never
// fails: anything it cannot interpret becomes an empty record.
func Normalize(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return unwrap(v)
	case string:
		return fromString(v)
	case json.RawMessage:
		return fromJSON(v)
	case []byte:
		return fromJSON(v)
	default:
		return map[string]any{}
	}
}

func fromString(s string) map[string]any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{}
	}
	if obj, ok := decodeObject(trimmed); ok {
		return unwrap(obj)
	}
	return map[string]any{"command": s}
}

func fromJSON(data []byte) map[string]any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return map[string]any{}
	}
	switch val := v.(type) {
	case map[string]any:
		return unwrap(val)
	case string:
		return fromString(val)
	default:
		return map[string]any{}
	}
}

func decodeObject(s string) (map[string]any, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// unwrap descends through envelope keys. At every level the remaining outer
// fields are merged over the inner record, so the outer value wins.
func unwrap(record map[string]any) map[string]any {
	current := record
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		key, inner, ok := envelope(current)
		if !ok {
			break
		}
		merged := make(map[string]any, len(inner)+len(current))
		for k, v := range inner {
			merged[k] = v
		}
		for k, v := range current {
			if k == key {
				continue
			}
			merged[k] = v
		}
		current = merged
	}
	return current
}

func envelope(record map[string]any) (string, map[string]any, bool) {
	for _, key := range envelopeKeys {
		switch v := record[key].(type) {
		case map[string]any:
			return key, v, true
		case string:
			if obj, ok := decodeObject(strings.TrimSpace(v)); ok {
				return key, obj, true
			}
		}
	}
	return "", nil, false
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// numberArg accepts a JSON number, a Go integer, or a numeric string.
func numberArg(args map[string]any, key string) (float64, bool) {
	var n float64
	switch v := args[key].(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// maxDurationMs is the largest millisecond count a time.Duration holds.
const maxDurationMs = int64(math.MaxInt64 / int64(time.Millisecond))

// durationMsArg reads a positive millisecond count under key. Absent or
// non-positive values report ok=false; values too large for a Duration are
// an error.
func durationMsArg(args map[string]any, key string) (time.Duration, bool, error) {
	n, ok := numberArg(args, key)
	if !ok || n <= 0 {
		return 0, false, nil
	}
	if n > float64(maxDurationMs) {
		return 0, false, fmt.Errorf("%s out of range: %.0f exceeds %d", key, n, maxDurationMs)
	}
	return time.Duration(n) * time.Millisecond, true, nil
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

// resolveCommand picks the command text: the normalized command field, the
// legacy cmd field, a lookup over the raw request, then fallback.
func resolveCommand(args map[string]any, raw any, fallback string) string {
	for _, key := range []string{"command", "cmd"} {
		if cmd := stringArg(args, key); strings.TrimSpace(cmd) != "" {
			return cmd
		}
	}
	if data := rawJSON(raw); len(data) > 0 {
		for _, path := range rawCommandPaths {
			res := gjson.GetBytes(data, path)
			if res.Type == gjson.String && strings.TrimSpace(res.Str) != "" {
				return res.Str
			}
		}
	}
	return fallback
}

func rawJSON(raw any) []byte {
	switch v := raw.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return v
	case []byte:
		return v
	case string:
		if gjson.Valid(v) {
			return []byte(v)
		}
		return nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return data
	}
}

// rawType names the JSON kind of raw for diagnostics.
func rawType(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64, json.Number:
		return "number"
	case json.RawMessage:
		return gjsonType(gjson.ParseBytes(v))
	case []byte:
		return gjsonType(gjson.ParseBytes(v))
	default:
		return fmt.Sprintf("%T", raw)
	}
}

func gjsonType(res gjson.Result) string {
	switch {
	case res.IsObject():
		return "object"
	case res.IsArray():
		return "array"
	}
	switch res.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	default:
		return "null"
	}
}
