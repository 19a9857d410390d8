package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength bounds stored free text such as notes and skip reasons.
const MaxTextLength = 2000

var sanitizer = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user text, trims it and caps its length.
func SanitizeText(input string) string {
	out := strings.TrimSpace(sanitizer.Sanitize(input))
	if r := []rune(out); len(r) > MaxTextLength {
		out = string(r[:MaxTextLength])
	}
	return out
}
