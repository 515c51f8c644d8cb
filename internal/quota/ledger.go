package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// DateLayout is the key format of daily counters
const DateLayout = "2006-01-02"

// ErrQuotaExceeded is returned when the daily limit is already consumed
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// Slot is a reserved unit of the daily budget
type Slot struct {
	Date  string
	Count int
}

// Ledger reserves emission budget per calendar date. The reservation is the
// increment itself; there is no separate commit.
type Ledger struct {
	store    repository.CounterStore
	limit    int
	location *time.Location
}

// NewLedger creates a ledger. Dates are computed in location, which is fixed
// for the lifetime of the process.
func NewLedger(store repository.CounterStore, limit int, location *time.Location) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("quota: store must not be nil")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("quota: limit must be positive, got %d", limit)
	}
	if location == nil {
		location = time.Local
	}
	return &Ledger{store: store, limit: limit, location: location}, nil
}

// Limit returns the daily limit
func (l *Ledger) Limit() int {
	return l.limit
}

// Location returns the timezone of date keys
func (l *Ledger) Location() *time.Location {
	return l.location
}

// DateOf returns the counter key for t
func (l *Ledger) DateOf(t time.Time) string {
	return t.In(l.location).Format(DateLayout)
}

// TryReserve atomically takes one slot of today's budget
func (l *Ledger) TryReserve(ctx context.Context, now time.Time) (Slot, error) {
	date := l.DateOf(now)
	count, err := l.store.IncrementIfBelow(ctx, date, l.limit)
	if errors.Is(err, repository.ErrLimitReached) {
		return Slot{Date: date, Count: count}, fmt.Errorf("%w: %d/%d on %s", ErrQuotaExceeded, count, l.limit, date)
	}
	if err != nil {
		return Slot{}, fmt.Errorf("quota: reserve %s: %w", date, err)
	}
	return Slot{Date: date, Count: count}, nil
}

// Release returns a slot to the budget of its date
func (l *Ledger) Release(ctx context.Context, slot Slot) error {
	if slot.Date == "" {
		return nil
	}
	if _, err := l.store.Decrement(ctx, slot.Date); err != nil {
		return fmt.Errorf("quota: release %s: %w", slot.Date, err)
	}
	return nil
}

// Today returns the counter for the date of now
func (l *Ledger) Today(ctx context.Context, now time.Time) (int, error) {
	count, err := l.store.Count(ctx, l.DateOf(now))
	if err != nil {
		return 0, fmt.Errorf("quota: read today: %w", err)
	}
	return count, nil
}
