package consumer

import (
	"context"

	"github.com/mackka2k/tg-news-listener/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes into events
type MessageParser interface {
	Parse(body []byte) (*domain.MessageEvent, error)
}

// Processor runs one inbound message through admission
type Processor interface {
	Process(ctx context.Context, ev domain.MessageEvent) domain.Outcome
	Halted() bool
}
