package filter

import (
	"regexp"
	"strings"
)

// Rejection reasons
const (
	ReasonSpam           = "spam"
	ReasonNoKeywordMatch = "no-keyword-match"
	ReasonEmpty          = "empty"
)

// DisabledSentinels are configuration values that turn the keyword filter off
var DisabledSentinels = []string{"*", "disabled"}

// DefaultStripPatterns are promotional line markers removed from emitted text
var DefaultStripPatterns = []string{
	"t.me/",
	"Подписаться",
	"КиберТопор",
	"ТОПОР",
	"Подпишись",
	"Канал:",
}

var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// Verdict is the content decision for one message
type Verdict struct {
	Forward bool
	Reason  string
	Matched []string
}

// Forwarded builds an accepting verdict
func Forwarded(matched ...string) Verdict {
	return Verdict{Forward: true, Matched: matched}
}

// Rejected builds a rejecting verdict
func Rejected(reason string, matched ...string) Verdict {
	return Verdict{Forward: false, Reason: reason, Matched: matched}
}

// Filter decides whether message text may be forwarded. It holds an
// immutable snapshot of its term lists and is safe for concurrent use.
type Filter struct {
	keywords      []string
	spamKeywords  []string
	stripPatterns []string
}

// New creates a filter. An empty keyword list, or a list holding only a
// disabled sentinel, accepts every non-spam message.
func New(keywords, spamKeywords, stripPatterns []string) *Filter {
	if isDisabled(keywords) {
		keywords = nil
	}
	return &Filter{
		keywords:      normalizeTerms(keywords),
		spamKeywords:  normalizeTerms(spamKeywords),
		stripPatterns: normalizeTerms(stripPatterns),
	}
}

// NewFromRules creates a filter from a rules snapshot
func NewFromRules(r Rules) *Filter {
	return New(r.Keywords, r.SpamKeywords, r.StripPatterns)
}

func isDisabled(keywords []string) bool {
	if len(keywords) != 1 {
		return false
	}
	k := strings.ToLower(strings.TrimSpace(keywords[0]))
	for _, s := range DisabledSentinels {
		if k == s {
			return true
		}
	}
	return false
}

// KeywordsEnabled reports whether a keyword match is required
func (f *Filter) KeywordsEnabled() bool {
	return len(f.keywords) > 0
}

// Decide runs the spam check and then the keyword check
func (f *Filter) Decide(text string) Verdict {
	normalized := Normalize(text)
	if normalized == "" {
		return Rejected(ReasonEmpty)
	}

	for _, spam := range f.spamKeywords {
		if strings.Contains(normalized, spam) {
			return Rejected(ReasonSpam, spam)
		}
	}

	if !f.KeywordsEnabled() {
		return Forwarded()
	}

	matched := f.match(normalized)
	if len(matched) == 0 {
		return Rejected(ReasonNoKeywordMatch)
	}
	return Forwarded(matched...)
}

// Matches returns the configured keywords found in text
func (f *Filter) Matches(text string) []string {
	return f.match(Normalize(text))
}

func (f *Filter) match(normalized string) []string {
	var matched []string
	for _, kw := range f.keywords {
		if strings.Contains(normalized, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// Clean removes promotional lines and collapses runs of blank lines. The
// admission decision never depends on it.
func (f *Filter) Clean(text string) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if f.promotional(line) {
			continue
		}
		kept = append(kept, line)
	}

	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))
	return excessiveNewlines.ReplaceAllString(cleaned, "\n\n")
}

func (f *Filter) promotional(line string) bool {
	normalized := Normalize(line)
	for _, p := range f.stripPatterns {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
