package admission

import (
	"strings"
	"unicode/utf8"
)

const (
	ellipsis = "..."
	// minBodyRunes is the smallest body kept when tags must also fit
	minBodyRunes = 100
)

// Compose joins the body and tags and fits the result into maxRunes. The
// body is shortened first; tags are dropped only when the body would fall
// under minBodyRunes.
func Compose(body string, tags []string, maxRunes int) string {
	body = strings.TrimSpace(body)
	suffix := ""
	if len(tags) > 0 {
		suffix = "\n\n" + strings.Join(tags, " ")
	}
	if maxRunes <= 0 {
		return body + suffix
	}

	total := utf8.RuneCountInString(body) + utf8.RuneCountInString(suffix)
	if total <= maxRunes {
		return body + suffix
	}

	available := maxRunes - utf8.RuneCountInString(suffix)
	if available >= minBodyRunes {
		return Truncate(body, available) + suffix
	}
	return Truncate(body, maxRunes)
}

// Truncate shortens text to maxRunes including a trailing ellipsis. It cuts
// at the last space when that keeps at least 80% of the allowed length.
func Truncate(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	if maxRunes <= len(ellipsis) {
		return string(runes[:maxRunes])
	}

	cut := runes[:maxRunes-len(ellipsis)]
	for i := len(cut) - 1; i > maxRunes*8/10; i-- {
		if cut[i] == ' ' {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRight(string(cut), " \n") + ellipsis
}
