package domain

import "time"

// MessageEvent is one inbound message received from a source feed
type MessageEvent struct {
	SourceID  string    `json:"source_id"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// Fingerprint is the identity of a message used for exact dedup
type Fingerprint struct {
	SourceID  string
	MessageID string
}

// FingerprintOf derives the fingerprint of an event
func FingerprintOf(ev MessageEvent) Fingerprint {
	return Fingerprint{SourceID: ev.SourceID, MessageID: ev.MessageID}
}

// String renders the fingerprint as "source/message"
func (f Fingerprint) String() string {
	return f.SourceID + "/" + f.MessageID
}

// Valid reports whether both parts of the fingerprint are set
func (f Fingerprint) Valid() bool {
	return f.SourceID != "" && f.MessageID != ""
}

// FingerprintRecord is a persisted fingerprint of an emitted message
type FingerprintRecord struct {
	Fingerprint Fingerprint
	Text        string
	RecordedAt  time.Time
}

// DailyCounter is the emission count of one calendar date
type DailyCounter struct {
	Date  string
	Count int
}
