package worker

import (
	"regexp"
	"strings"
)

// reservedChars are the characters SPEC_FULL.md §4.7 requires replacing in a
// published filename because they are reserved on at least one common
// filesystem.
const reservedChars = `<>:"/\|?*`

var controlCharRe = regexp.MustCompile(`[\x00-\x1f\x7f]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// cleanTitle produces a filesystem-safe filename stem from a source name:
// collapse whitespace (tabs and newlines included) to single spaces, strip
// the remaining control characters, replace reserved characters with
// underscores, and trim to 240 characters.
func cleanTitle(name string) string {
	cleaned := whitespaceRe.ReplaceAllString(name, " ")
	cleaned = controlCharRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	var b strings.Builder
	for _, r := range cleaned {
		if strings.ContainsRune(reservedChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	runes := []rune(b.String())
	if len(runes) > 240 {
		runes = runes[:240]
	}
	return string(runes)
}
