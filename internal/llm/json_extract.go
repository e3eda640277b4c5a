package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencePattern matches a markdown fence with an optional language tag.
// Captures: (1) language, (2) body
var fencePattern = regexp.MustCompile("(?s)```(\\w*)[ \\t]*\\r?\\n(.*?)\\r?\\n?```")

// ExtractJSON pulls the first JSON value out of a model response. Fenced
// blocks tagged json (or untagged) win over bare objects in the prose.
func ExtractJSON(response string) (string, error) {
	for _, m := range fencePattern.FindAllStringSubmatch(response, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		body := strings.TrimSpace(m[2])
		if (strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")) && json.Valid([]byte(body)) {
			return body, nil
		}
	}

	for start := 0; start < len(response); {
		i := strings.IndexAny(response[start:], "{[")
		if i < 0 {
			break
		}
		i += start
		if candidate := balanced(response[i:]); candidate != "" && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		start = i + 1
	}

	return "", fmt.Errorf("no valid JSON object found in response")
}

// balanced returns the prefix of s up to the bracket closing s[0], honoring
// string literals. It returns "" if the bracket never closes.
func balanced(s string) string {
	open := s[0]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// ExtractJSONAs extracts JSON from response and decodes it into T.
func ExtractJSONAs[T any](response string) (T, error) {
	var result T
	raw, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}
