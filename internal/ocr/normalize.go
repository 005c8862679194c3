package ocr

import (
	"regexp"
	"strings"
)

var newlineRun = regexp.MustCompile(`\s*\n\s*`)

// Normalize collapses every newline together with its surrounding whitespace
// into a single space and trims the result.
func Normalize(text string) string {
	return strings.TrimSpace(newlineRun.ReplaceAllString(text, " "))
}
