package filter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TagRule maps a hashtag to the terms that trigger it
type TagRule struct {
	Tag  string   `yaml:"tag"`
	When []string `yaml:"when"`
}

// Rules is the static rule snapshot loaded at startup
type Rules struct {
	Keywords      []string  `yaml:"keywords"`
	SpamKeywords  []string  `yaml:"spam_keywords"`
	StripPatterns []string  `yaml:"strip_patterns"`
	Tags          []TagRule `yaml:"tags"`
	DefaultTag    string    `yaml:"default_tag"`
}

// LoadRules reads a YAML rules file
func LoadRules(path string) (Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return r, nil
}

// Merge appends the term lists of other. Tag rules of other are appended and
// its default tag wins when set.
func (r Rules) Merge(other Rules) Rules {
	out := Rules{
		Keywords:      append(append([]string{}, r.Keywords...), other.Keywords...),
		SpamKeywords:  append(append([]string{}, r.SpamKeywords...), other.SpamKeywords...),
		StripPatterns: append(append([]string{}, r.StripPatterns...), other.StripPatterns...),
		Tags:          append(append([]TagRule{}, r.Tags...), other.Tags...),
		DefaultTag:    r.DefaultTag,
	}
	if other.DefaultTag != "" {
		out.DefaultTag = other.DefaultTag
	}
	return out
}
