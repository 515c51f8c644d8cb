package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mackka2k/tg-news-listener/internal/domain"
)

// JSONMessageParser implements MessageParser for JSON-formatted inbound messages
type JSONMessageParser struct{}

// NewJSONMessageParser creates a new JSON message parser
func NewJSONMessageParser() *JSONMessageParser {
	return &JSONMessageParser{}
}

// Parse parses a JSON message body into a MessageEvent. A missing arrived_at
// leaves ArrivedAt zero for the caller to fill in.
func (p *JSONMessageParser) Parse(body []byte) (*domain.MessageEvent, error) {
	var msgBody map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&msgBody); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("failed to unmarshal message body: trailing data")
	}

	sourceID, err := getIDField(msgBody, "source_id")
	if err != nil {
		return nil, err
	}
	messageID, err := getIDField(msgBody, "message_id")
	if err != nil {
		return nil, err
	}
	arrivedAt, err := getTimeField(msgBody, "arrived_at")
	if err != nil {
		return nil, err
	}

	event := &domain.MessageEvent{
		SourceID:  sourceID,
		MessageID: messageID,
		Text:      getStringField(msgBody, "text"),
		ArrivedAt: arrivedAt,
	}

	return event, nil
}

// Helper functions for extracting fields from parsed JSON
func getStringField(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

// getIDField accepts string and integer identifiers. Numbers must be
// integers that fit in int64.
func getIDField(m map[string]interface{}, key string) (string, error) {
	switch val := m[key].(type) {
	case string:
		return strings.TrimSpace(val), nil
	case json.Number:
		n, err := strconv.ParseInt(val.String(), 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid %s: %s is not an integer id", key, val)
		}
		return strconv.FormatInt(n, 10), nil
	}
	return "", nil
}

// getTimeField accepts RFC 3339 strings and unix seconds
func getTimeField(m map[string]interface{}, key string) (time.Time, error) {
	switch val := m[key].(type) {
	case string:
		if val == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		return t, nil
	case json.Number:
		secs, err := val.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if secs <= 0 {
			return time.Time{}, nil
		}
		return time.Unix(int64(secs), 0).UTC(), nil
	}
	return time.Time{}, nil
}
