package agents

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"strings"
)

// ModelClient generates text from a system prompt and a user prompt.
type ModelClient interface {
	GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNilModel is returned by agent constructors given a nil model client.
var ErrNilModel = errors.New("model client is required")

// extractJSON returns the first balanced JSON object or array found in raw.
// Markdown code fences around the JSON are tolerated.
func extractJSON(raw string) (string, bool) {
	start := strings.IndexAny(raw, "{[")
	for start >= 0 {
		if end, ok := matchJSON(raw[start:]); ok {
			candidate := raw[start : start+end]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexAny(raw[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchJSON returns the length of the balanced value starting at s[0].
func matchJSON(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// decodeReply decodes the JSON embedded in a model reply into v.
// It reports false when the reply carries no JSON of the expected shape.
func decodeReply(raw string, v any) bool {
	payload, ok := extractJSON(raw)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(payload), v) == nil
}

// decodeList decodes a JSON array from a reply, also accepting an object that
// wraps the array under key.
func decodeList[T any](raw, key string) ([]T, bool) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, false
	}
	var list []T
	if err := json.Unmarshal([]byte(payload), &list); err == nil {
		return list, true
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
		return nil, false
	}
	inner, ok := wrapped[key]
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal(inner, &list); err != nil {
		return nil, false
	}
	return list, true
}

// canonical maps v onto one of allowed, ignoring case and separators, or def.
func canonical[T ~string](v, def T, allowed ...T) T {
	norm := normalizeToken(string(v))
	for _, a := range allowed {
		if normalizeToken(string(a)) == norm {
			return a
		}
	}
	return def
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// formatContext renders a context map as stable "key: value" lines.
func formatContext(ctx map[string]string) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := sortedKeys(ctx)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(ctx[k])
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
