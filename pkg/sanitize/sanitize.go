package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// DisplayName cleans a client-supplied display name: HTML tags and control
// characters are dropped, whitespace runs collapse to one space.
func DisplayName(input string) string {
	input = StripHTML(input)
	input = StripControlCharacters(whitespaceRegex.ReplaceAllString(input, " "))
	return strings.TrimSpace(input)
}

// StripHTML removes all HTML tags
func StripHTML(input string) string {
	return htmlTagRegex.ReplaceAllString(input, "")
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateStringLength checks if the character count is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(input)
	return n >= minLen && n <= maxLen
}

