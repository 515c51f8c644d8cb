package enrich

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MaxTags bounds the number of tags attached to one message
const MaxTags = 4

// Enricher derives an ordered list of hashtags from message text
type Enricher interface {
	Enrich(ctx context.Context, text string) ([]string, error)
}

// Fallback runs the primary enricher under a timeout and falls back to the
// secondary on error or when the primary returns no tags. It never fails.
type Fallback struct {
	primary   Enricher
	secondary Enricher
	timeout   time.Duration
	log       *zap.Logger
}

// NewFallback creates a fallback enricher. A nil primary always uses the secondary.
func NewFallback(primary, secondary Enricher, timeout time.Duration, log *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, timeout: timeout, log: log}
}

// Enrich returns the primary tags, else the secondary tags, else none
func (f *Fallback) Enrich(ctx context.Context, text string) ([]string, error) {
	if f.primary != nil {
		pctx := ctx
		if f.timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, f.timeout)
			defer cancel()
		}
		tags, err := f.primary.Enrich(pctx, text)
		if err == nil && len(tags) > 0 {
			return limit(tags), nil
		}
		if err != nil {
			f.log.Warn("Tag enrichment failed, using rules", zap.Error(err))
		}
	}
	if f.secondary == nil {
		return nil, nil
	}
	tags, err := f.secondary.Enrich(ctx, text)
	if err != nil {
		f.log.Warn("Rule tagging failed", zap.Error(err))
		return nil, nil
	}
	return limit(tags), nil
}

// ParseTags extracts hashtags from free text, keeping order and dropping repeats
func ParseTags(raw string) []string {
	var tags []string
	seen := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t' || r == ';'
	}) {
		field = strings.Trim(field, `"'.[]`)
		if !strings.HasPrefix(field, "#") || len(field) < 2 {
			continue
		}
		key := strings.ToLower(field)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, field)
	}
	return tags
}

func limit(tags []string) []string {
	if len(tags) > MaxTags {
		return tags[:MaxTags]
	}
	return tags
}
