package domain

import "time"

// State is a step of the admission state machine
type State string

const (
	StateReceived          State = "received"
	StateDeduplicated      State = "deduplicated"
	StateFiltered          State = "filtered"
	StateQuotaChecked      State = "quota_checked"
	StateRateLimited       State = "rate_limited"
	StateSent              State = "sent"
	StateCommitted         State = "committed"
	StateRejectedDuplicate State = "rejected_duplicate"
	StateRejectedContent   State = "rejected_content"
	StateRejectedQuota     State = "rejected_quota"
	StateFailed            State = "failed"
)

// Terminal reports whether no transition leaves the state
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRejectedDuplicate, StateRejectedContent, StateRejectedQuota, StateFailed:
		return true
	}
	return false
}

// Kind classifies why a message did not reach the committed state
type Kind string

const (
	KindNone               Kind = ""
	KindRejectedDuplicate  Kind = "rejected_duplicate"
	KindRejectedContent    Kind = "rejected_content"
	KindRejectedQuota      Kind = "rejected_quota"
	KindTransportRetryable Kind = "transport_retryable"
	KindTransportFatal     Kind = "transport_fatal"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindAborted            Kind = "aborted"
)

// Outcome is the terminal result of one admission run
type Outcome struct {
	ID          string
	Fingerprint Fingerprint
	State       State
	Kind        Kind
	Reason      string
	Attempts    int
	DailyCount  int
	// EmittedUnrecorded is set when the message was sent but its fingerprint
	// could not be persisted. A later duplicate emission is possible.
	EmittedUnrecorded bool
	// Requeue asks the inbound transport to redeliver the message.
	Requeue    bool
	Err        error
	ReceivedAt time.Time
	FinishedAt time.Time
}

// Committed reports whether the message was emitted and recorded
func (o Outcome) Committed() bool {
	return o.State == StateCommitted
}

// ErrorString returns the error text or an empty string
func (o Outcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
