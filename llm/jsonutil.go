package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fenceRe matches a whole response wrapped in a ``` or ~~~ fence
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches an opening fence whose closing fence was truncated
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// invalidJSONEscapeRe matches a backslash not starting a valid JSON escape
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// StripMarkdownFences removes a markdown code fence around s
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// extractJSON trims prose before the first '{' or '[' and after its last closer
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

// DecodeJSON decodes model output into v. It tolerates markdown fences,
// surrounding prose and regex-style backslashes inside strings.
func DecodeJSON(raw string, v any) error {
	s := StripMarkdownFences(raw)
	if s == "" {
		return fmt.Errorf("llm: empty JSON payload")
	}

	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}

	candidates := []string{fixInvalidJSONEscapes(s), extractJSON(s)}
	candidates = append(candidates, fixInvalidJSONEscapes(candidates[1]))
	for _, c := range candidates {
		if c == s {
			continue
		}
		if json.Unmarshal([]byte(c), v) == nil {
			return nil
		}
	}
	return fmt.Errorf("llm: decode JSON: %w", err)
}
