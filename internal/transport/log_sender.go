package transport

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// maxKeptSent bounds the history kept by LogSender
const maxKeptSent = 100

// LogSender logs messages instead of sending them. It keeps the most recent
// sent texts for inspection.
type LogSender struct {
	mu   sync.Mutex
	sent []Sent
	log  *zap.Logger
}

// Sent is one message accepted by LogSender
type Sent struct {
	TargetID string
	Text     string
}

// NewLogSender creates a dry-run sender
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send records the message
func (s *LogSender) Send(ctx context.Context, targetID, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, Sent{TargetID: targetID, Text: text})
	if len(s.sent) > maxKeptSent {
		s.sent = append(s.sent[:0:0], s.sent[len(s.sent)-maxKeptSent:]...)
	}
	s.mu.Unlock()

	s.log.Info("Dry run send",
		zap.String("target", targetID),
		zap.Int("length", utf8.RuneCountInString(text)))
	return nil
}

// Sent returns a copy of the recorded messages, oldest first
func (s *LogSender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}
