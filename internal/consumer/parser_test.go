package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMessageParser_Parse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantSource string
		wantID     string
		wantText   string
		wantTime   time.Time
	}{
		{
			name:       "string ids and RFC 3339 time",
			body:       `{"source_id":"-100123","message_id":"42","text":"Breaking: AI news","arrived_at":"2024-05-01T12:00:00Z"}`,
			wantSource: "-100123",
			wantID:     "42",
			wantText:   "Breaking: AI news",
			wantTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:       "numeric ids and unix time",
			body:       `{"source_id":-100123,"message_id":42,"text":"x","arrived_at":1714564800}`,
			wantSource: "-100123",
			wantID:     "42",
			wantText:   "x",
			wantTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:       "ids beyond float precision",
			body:       `{"source_id":-1001234567890123456,"message_id":9007199254740993,"text":"x"}`,
			wantSource: "-1001234567890123456",
			wantID:     "9007199254740993",
			wantText:   "x",
		},
		{
			name:       "missing arrival time",
			body:       `{"source_id":"a","message_id":"1","text":"x"}`,
			wantSource: "a",
			wantID:     "1",
			wantText:   "x",
		},
		{
			name:     "missing identity is left for admission",
			body:     `{"text":"x"}`,
			wantText: "x",
		},
	}

	parser := NewJSONMessageParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parser.Parse([]byte(tt.body))
			require.NoError(t, err)

			assert.Equal(t, tt.wantSource, ev.SourceID)
			assert.Equal(t, tt.wantID, ev.MessageID)
			assert.Equal(t, tt.wantText, ev.Text)
			assert.True(t, tt.wantTime.Equal(ev.ArrivedAt), "arrived_at %v", ev.ArrivedAt)
		})
	}
}

func TestJSONMessageParser_Parse_Errors(t *testing.T) {
	parser := NewJSONMessageParser()

	_, err := parser.Parse([]byte(`{invalid`))
	assert.Error(t, err)

	_, err = parser.Parse([]byte(`{"source_id":"a","message_id":"1","arrived_at":"yesterday"}`))
	assert.ErrorContains(t, err, "arrived_at")
}

func TestJSONMessageParser_Parse_RejectsNonIntegerIDs(t *testing.T) {
	parser := NewJSONMessageParser()

	tests := []struct {
		name string
		body string
		key  string
	}{
		{name: "fractional message id", body: `{"source_id":"a","message_id":42.5,"text":"x"}`, key: "message_id"},
		{name: "exponent source id", body: `{"source_id":1e3,"message_id":"1","text":"x"}`, key: "source_id"},
		{name: "overflowing message id", body: `{"source_id":"a","message_id":99999999999999999999,"text":"x"}`, key: "message_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.body))
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestJSONMessageParser_Parse_TrailingData(t *testing.T) {
	parser := NewJSONMessageParser()

	_, err := parser.Parse([]byte(`{"source_id":"a","message_id":"1"} {"x":1}`))

	assert.Error(t, err)
}
