package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// extractor attempts to read a scanned cell as one portable type. ok reports
// whether the attempt succeeded; a successful attempt may yield nil.
type extractor struct {
	tag string
	try func(v any, dbType string) (out any, ok bool)
}

// extractors run in this order for every cell; the first success wins.
var extractors = []extractor{
	{tag: "text", try: extractText},
	{tag: "integer", try: extractInt},
	{tag: "float", try: extractFloat},
	{tag: "boolean", try: extractBool},
	{tag: "json", try: extractJSON},
}

// fallbacks run after every extractor failed.
var fallbacks = []extractor{
	{tag: "json-text", try: parseJSONText},
	{tag: "raw-text", try: rawText},
}

// convertValue maps one scanned cell to null, string, int64, float64, bool or
// json.RawMessage. It never fails; unconvertible cells become nil.
func convertValue(v any, dbType string) any {
	if v == nil {
		return nil
	}
	for _, e := range extractors {
		if out, ok := e.try(v, dbType); ok {
			return out
		}
	}
	for _, e := range fallbacks {
		if out, ok := e.try(v, dbType); ok {
			return out
		}
	}
	return nil
}

func isJSONType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "JSON", "JSONB":
		return true
	}
	return false
}

func extractText(v any, dbType string) (any, bool) {
	s, ok := v.(string)
	if !ok || isJSONType(dbType) {
		return nil, false
	}
	return s, true
}

func extractInt(v any, _ string) (any, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return nil, false
}

func extractFloat(v any, _ string) (any, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, true
	}
	return f, true
}

func extractBool(v any, _ string) (any, bool) {
	b, ok := v.(bool)
	return b, ok
}

func extractJSON(v any, dbType string) (any, bool) {
	if !isJSONType(dbType) {
		return nil, false
	}
	var raw []byte
	switch s := v.(type) {
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	case map[string]any, []any:
		b, err := json.Marshal(s)
		if err != nil {
			return nil, false
		}
		raw = b
	default:
		return nil, false
	}
	if !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(raw), true
}

func parseJSONText(v any, _ string) (any, bool) {
	var raw []byte
	switch s := v.(type) {
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return nil, false
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(raw), true
}

func rawText(v any, _ string) (any, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		if utf8.Valid(s) {
			return string(s), true
		}
	case time.Time:
		return s.Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return s.String(), true
	}
	return nil, false
}
