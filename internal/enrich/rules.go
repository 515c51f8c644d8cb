package enrich

import (
	"context"
	"strings"

	"github.com/mackka2k/tg-news-listener/internal/filter"
)

// DefaultTag is used when no rule matches
const DefaultTag = "#Naujienos"

// DefaultTagRules is the built-in topic table
var DefaultTagRules = []filter.TagRule{
	{Tag: "#AI", When: []string{"ai", "gpt", "llm", "neural", "нейросеть", "ии", "искусственный интеллект"}},
	{Tag: "#Technologijos", When: []string{"tech", "apple", "google", "microsoft", "iphone", "телефон", "гаджет", "технологи"}},
	{Tag: "#Karas", When: []string{"war", "ukraine", "russia", "nato", "война", "украина", "всу", "рф", "армия"}},
	{Tag: "#Politika", When: []string{"biden", "putin", "trump", "zelensky", "политика", "закон", "президент", "выборы"}},
	{Tag: "#Kripto", When: []string{"crypto", "bitcoin", "btc", "eth", "крипта", "биткоин", "майнинг", "blockchain"}},
	{Tag: "#Mokslas", When: []string{"science", "space", "nasa", "mars", "наука", "космос", "ученые", "исследование"}},
	{Tag: "#Lietuva", When: []string{"lietuva", "vilnius", "lithuania", "литва", "вильнюс", "каунас"}},
	{Tag: "#Rusija", When: []string{"russia", "moscow", "kremlin", "россия", "москва", "кремль"}},
	{Tag: "#Sveikata", When: []string{"health", "medicine", "vaccine", "здоровье", "медицина", "вакцина"}},
	{Tag: "#Kriminalai", When: []string{"crime", "arrest", "police", "преступление", "арест", "полиция"}},
	{Tag: "#Žaidimai", When: []string{"game", "gaming", "playstation", "xbox", "игра", "геймин"}},
}

type compiledRule struct {
	tag   string
	terms []string
}

// RuleTagger assigns tags by substring match against a rule table
type RuleTagger struct {
	rules      []compiledRule
	defaultTag string
}

// NewRuleTagger creates a tagger. Empty rules use DefaultTagRules and an empty
// default tag uses DefaultTag.
func NewRuleTagger(rules []filter.TagRule, defaultTag string) *RuleTagger {
	if len(rules) == 0 {
		rules = DefaultTagRules
	}
	if strings.TrimSpace(defaultTag) == "" {
		defaultTag = DefaultTag
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		var terms []string
		for _, w := range r.When {
			if n := filter.Normalize(w); n != "" {
				terms = append(terms, n)
			}
		}
		if r.Tag == "" || len(terms) == 0 {
			continue
		}
		compiled = append(compiled, compiledRule{tag: r.Tag, terms: terms})
	}
	return &RuleTagger{rules: compiled, defaultTag: defaultTag}
}

// Enrich returns up to MaxTags matching tags in table order
func (t *RuleTagger) Enrich(ctx context.Context, text string) ([]string, error) {
	normalized := filter.Normalize(text)
	var tags []string
	for _, r := range t.rules {
		for _, term := range r.terms {
			if strings.Contains(normalized, term) {
				tags = append(tags, r.tag)
				break
			}
		}
		if len(tags) >= MaxTags {
			break
		}
	}
	if len(tags) == 0 {
		return []string{t.defaultTag}, nil
	}
	return tags, nil
}
