package enrich

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// minLLMTextRunes skips the model for very short texts
	minLLMTextRunes = 50
	maxPromptRunes  = 1000
)

const systemPrompt = `You tag news posts for a Lithuanian news channel.
Reply with 3 or 4 concise Lithuanian hashtags that name generic topic categories, separated by spaces, for example: #Karas #Technologijos
Reply with hashtags only.`

// ErrNoTags is returned when the model reply holds no hashtag
var ErrNoTags = errors.New("enrich: model returned no tags")

// Generator is the part of an eino chat model used for tagging
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ArkConfig configures the Ark chat model
type ArkConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Region  string
}

// NewArkModel builds an Ark chat model
func NewArkModel(ctx context.Context, c ArkConfig) (model.ChatModel, error) {
	if c.APIKey == "" || c.Model == "" {
		return nil, errors.New("enrich: ark api key and model are required")
	}
	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  c.APIKey,
		Model:   c.Model,
		BaseURL: c.BaseURL,
		Region:  c.Region,
	})
}

// LLMTagger asks a chat model for hashtags
type LLMTagger struct {
	model Generator
}

// NewLLMTagger creates a tagger over an eino chat model
func NewLLMTagger(m Generator) *LLMTagger {
	return &LLMTagger{model: m}
}

// Enrich returns the model's hashtags. Texts under 50 runes yield no tags.
func (t *LLMTagger) Enrich(ctx context.Context, text string) ([]string, error) {
	if utf8.RuneCountInString(text) < minLLMTextRunes {
		return nil, nil
	}

	msg, err := t.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(truncateRunes(text, maxPromptRunes)),
	}, model.WithTemperature(0.3), model.WithMaxTokens(100))
	if err != nil {
		return nil, fmt.Errorf("enrich: generate: %w", err)
	}
	if msg == nil {
		return nil, ErrNoTags
	}

	tags := ParseTags(msg.Content)
	if len(tags) == 0 {
		return nil, ErrNoTags
	}
	return limit(tags), nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
