package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedScores is the structured result coerced out of the judge's
// free-text response.
type ParsedScores struct {
	Scores   map[string]float64 `json:"scores"`
	Feedback string             `json:"feedback"`
}

// ParseError marks a judge response that could not be coerced to
// structured scores. It is never silently defaulted to a 50/50 split.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "unparseable judge response: " + e.Reason
}

// ParseResponse extracts the scores object from a judge response. The
// response may be wrapped in markdown code fences (with or without a
// language tag) or preceded by explanatory prose; the JSON object is found
// by balanced-brace scanning so nested braces inside feedback text don't
// truncate it.
func ParseResponse(raw string) (*ParsedScores, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Reason: "empty response"}
	}

	obj, err := extractJSONObject(trimmed)
	if err != nil {
		return nil, err
	}

	var parsed ParsedScores
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(parsed.Scores) == 0 {
		return nil, &ParseError{Reason: "missing scores key"}
	}
	return &parsed, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// tracking string literals and escapes so braces inside feedback don't
// terminate the scan early.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", &ParseError{Reason: "no JSON object found"}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", &ParseError{Reason: "unbalanced braces"}
}
