package domain

import (
	"regexp"
	"strings"
	"unicode"
)

const handleMarker = "@"

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{5,32}$`)

// TargetHandle is a normalized account handle: 5 to 32 characters of [a-zA-Z0-9_].
type TargetHandle string

func (h TargetHandle) String() string { return string(h) }

// ValidHandle reports whether s is a well-formed handle without any marker.
func ValidHandle(s string) bool {
	return handlePattern.MatchString(s)
}

// ParseTargets splits free text on commas, whitespace and newlines and returns the
// well-formed handles in first-seen order together with the rejected tokens.
func ParseTargets(raw string) (valid []TargetHandle, invalid []string) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return parseTokens(tokens)
}

// ParseTargetLines treats every line as one token. Used for uploaded files.
func ParseTargetLines(lines []string) (valid []TargetHandle, invalid []string) {
	return parseTokens(lines)
}

// ParseTargetFile splits file content on newlines and parses each line.
func ParseTargetFile(content []byte) (valid []TargetHandle, invalid []string) {
	return ParseTargetLines(strings.Split(string(content), "\n"))
}

func parseTokens(tokens []string) ([]TargetHandle, []string) {
	valid := make([]TargetHandle, 0, len(tokens))
	var invalid []string
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		raw := strings.TrimSpace(tok)
		if raw == "" {
			continue
		}
		handle := strings.TrimSpace(strings.TrimPrefix(raw, handleMarker))
		if handle == "" {
			continue
		}
		if !ValidHandle(handle) {
			invalid = append(invalid, raw)
			continue
		}
		// Handles are case-insensitive on the platform.
		key := strings.ToLower(handle)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		valid = append(valid, TargetHandle(handle))
	}
	return valid, invalid
}
