package battle

import (
	"errors"
	"html"
	"regexp"
	"strings"
)

const (
	// Byte ceiling applied to the cleaned prompt before entity escaping.
	MaxPromptBytes = 500
	MinPromptLen   = 3
)

var (
	ErrPromptTooShort = errors.New("prompt is too short")
	ErrPromptTooLong  = errors.New("prompt is too long")
	ErrInjection      = errors.New("prompt contains disallowed instructions")
	// Returned when a participant submits the challenge text itself.
	ErrCopyPaste = errors.New("be more creative, don't just repeat the challenge")
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Phrases that mark an attempt to steer the downstream generator or judge.
// Matched case-insensitively against the cleaned prompt.
var injectionSignatures = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard previous",
	"disregard all prior",
	"you are now",
	"new instructions:",
	"system prompt",
	"act as if",
	"<script",
	"javascript:",
	"onerror=",
	"data:text/html",
}

// SanitizePrompt cleans raw user input: markup stripped, control characters
// removed, whitespace collapsed, length capped, entities escaped on the way
// out. The round trip is idempotent: sanitizing an already-sanitized prompt
// returns it unchanged.
func SanitizePrompt(raw string) string {
	s := html.UnescapeString(raw)
	s = tagPattern.ReplaceAllString(s, "")
	s = stripControl(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = truncateBytes(s, MaxPromptBytes)
	return html.EscapeString(s)
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ValidatePrompt runs the anti-abuse checks against a sanitized prompt:
// length bounds, injection signatures, and exact copy-paste of the
// challenge text (case/whitespace-insensitive), each with its own error.
func ValidatePrompt(sanitized, challengeText string) error {
	if len(normalizeForCompare(sanitized)) < MinPromptLen {
		return ErrPromptTooShort
	}
	if len(sanitized) > MaxPromptBytes*2 {
		return ErrPromptTooLong
	}
	lower := strings.ToLower(html.UnescapeString(sanitized))
	for _, sig := range injectionSignatures {
		if strings.Contains(lower, sig) {
			return ErrInjection
		}
	}
	if normalizeForCompare(sanitized) == normalizeForCompare(challengeText) {
		return ErrCopyPaste
	}
	return nil
}

func normalizeForCompare(s string) string {
	s = html.UnescapeString(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}
