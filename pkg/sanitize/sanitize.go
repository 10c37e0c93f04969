package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StripControlCharacters removes control characters from input, keeping
// newlines and tabs
func StripControlCharacters(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// MessageText normalizes user-written text: invalid UTF-8 is replaced,
// control characters are stripped, and surrounding whitespace is trimmed
func MessageText(input string) string {
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "�")
	}
	return strings.TrimSpace(StripControlCharacters(input))
}

// ValidateStringLength checks that input has between minLen and maxLen runes
func ValidateStringLength(input string, minLen, maxLen int) bool {
	length := utf8.RuneCountInString(input)
	return length >= minLen && length <= maxLen
}
