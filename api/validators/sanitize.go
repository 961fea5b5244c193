package validators

import "strings"

// SanitizeString trims whitespace and bounds length. Truncation is
// rune-aware; buyer and attendee names are routinely non-ASCII.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= maxLen {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:maxLen]))
}
