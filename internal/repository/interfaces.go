package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mackka2k/tg-news-listener/internal/domain"
)

var (
	// ErrStorageUnavailable wraps every I/O failure of a store
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrLimitReached is returned by IncrementIfBelow when the counter is at its limit
	ErrLimitReached = errors.New("counter limit reached")
)

// MaxRecordedTextRunes bounds the text kept next to a recorded fingerprint
const MaxRecordedTextRunes = 500

// SchemaVersion is the latest schema version known to this build
const SchemaVersion = 2

// FingerprintStore is the persisted set of emitted message identities
type FingerprintStore interface {
	// HasSeen reports whether the fingerprint was recorded
	HasSeen(ctx context.Context, fp domain.Fingerprint) (bool, error)

	// Record persists the fingerprint. Recording an existing fingerprint succeeds without change.
	Record(ctx context.Context, fp domain.Fingerprint, text string, at time.Time) error
}

// CounterStore holds per-date emission counters
type CounterStore interface {
	// IncrementIfBelow atomically increments the counter for date when it is
	// below limit and returns the new count, or ErrLimitReached without mutation
	IncrementIfBelow(ctx context.Context, date string, limit int) (int, error)

	// Decrement atomically lowers a positive counter and returns the new count
	Decrement(ctx context.Context, date string) (int, error)

	// Count returns the counter for date, zero when never written
	Count(ctx context.Context, date string) (int, error)
}

// StatsReader exposes read-only totals for operators
type StatsReader interface {
	// TotalEmissions returns the number of fingerprints ever recorded
	TotalEmissions(ctx context.Context) (int64, error)

	// Count returns the counter for date
	Count(ctx context.Context, date string) (int, error)
}

// Store is the durable backend of the admission pipeline
type Store interface {
	FingerprintStore
	CounterStore
	StatsReader

	// InitSchema applies pending forward migrations
	InitSchema(ctx context.Context) error

	// CurrentSchemaVersion returns the applied schema version
	CurrentSchemaVersion(ctx context.Context) (int, error)

	// Ping checks if the backend is reachable
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// Pruner removes fingerprints recorded before a cutoff
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// OutcomeQuery represents outcome metrics query parameters
type OutcomeQuery struct {
	State   string
	From    int64
	To      int64
	GroupBy string
}

// OutcomeGroupResult represents aggregated outcomes for a specific group
type OutcomeGroupResult struct {
	GroupValue string
	TotalCount uint64
}

// OutcomeMetrics is the result of an outcome metrics query
type OutcomeMetrics struct {
	TotalCount   uint64
	UniqueSource uint64
	Groups       []OutcomeGroupResult
}

// OutcomeRepository is the append-only audit log of terminal outcomes
type OutcomeRepository interface {
	// InsertBatch inserts a batch of outcomes
	InsertBatch(ctx context.Context, outcomes []*domain.Outcome) (int, error)

	// InitSchema creates tables if they don't exist
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the repository and releases resources
	Close() error

	// GetOutcomeMetrics retrieves aggregated outcome counts
	GetOutcomeMetrics(ctx context.Context, query OutcomeQuery) (*OutcomeMetrics, error)
}

// TruncateText cuts text to MaxRecordedTextRunes runes
func TruncateText(text string) string {
	n := 0
	for i := range text {
		if n == MaxRecordedTextRunes {
			return text[:i]
		}
		n++
	}
	return text
}
