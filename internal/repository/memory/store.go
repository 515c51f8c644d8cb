package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// Store is an in-process repository.Store. Writes are serialized behind one
// lock, reads share it.
type Store struct {
	mu           sync.RWMutex
	fingerprints map[domain.Fingerprint]domain.FingerprintRecord
	counters     map[string]int
	total        int64
	version      int
	closed       bool
	log          *zap.Logger
}

// NewStore creates an empty store
func NewStore(log *zap.Logger) *Store {
	return &Store{
		fingerprints: make(map[domain.Fingerprint]domain.FingerprintRecord),
		counters:     make(map[string]int),
		log:          log,
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("memory store closed: %w", repository.ErrStorageUnavailable)
	}
	return nil
}

// InitSchema marks the store as migrated to the latest version
func (s *Store) InitSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.version < repository.SchemaVersion {
		s.log.Info("Migrating memory store schema",
			zap.Int("from", s.version),
			zap.Int("to", repository.SchemaVersion))
		s.version = repository.SchemaVersion
	}
	return nil
}

// CurrentSchemaVersion returns the applied version
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.version, nil
}

// HasSeen reports whether fp was recorded
func (s *Store) HasSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	_, ok := s.fingerprints[fp]
	return ok, nil
}

// Record stores fp once. Repeated calls are no-ops.
func (s *Store) Record(ctx context.Context, fp domain.Fingerprint, text string, at time.Time) error {
	if !fp.Valid() {
		return fmt.Errorf("invalid fingerprint %q", fp.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.fingerprints[fp]; ok {
		return nil
	}
	s.fingerprints[fp] = domain.FingerprintRecord{
		Fingerprint: fp,
		Text:        repository.TruncateText(text),
		RecordedAt:  at,
	}
	s.total++
	return nil
}

// IncrementIfBelow increments date's counter when it is below limit
func (s *Store) IncrementIfBelow(ctx context.Context, date string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := s.counters[date]
	if count >= limit {
		return count, repository.ErrLimitReached
	}
	count++
	s.counters[date] = count
	return count, nil
}

// Decrement lowers date's counter when positive
func (s *Store) Decrement(ctx context.Context, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := s.counters[date]
	if count > 0 {
		count--
		s.counters[date] = count
	}
	return count, nil
}

// Count returns date's counter
func (s *Store) Count(ctx context.Context, date string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.counters[date], nil
}

// TotalEmissions returns the number of fingerprints ever recorded. Pruning
// does not lower it.
func (s *Store) TotalEmissions(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.total, nil
}

// Lookup returns the stored record for fp
func (s *Store) Lookup(fp domain.Fingerprint) (domain.FingerprintRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.fingerprints[fp]
	return rec, ok
}

// Prune removes fingerprints recorded before the cutoff
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	removed := 0
	for fp, rec := range s.fingerprints {
		if rec.RecordedAt.Before(before) {
			delete(s.fingerprints, fp)
			removed++
		}
	}
	return removed, nil
}

// Ping fails once the store is closed
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Close marks the store closed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.log.Info("Memory store closed", zap.Int("fingerprints", len(s.fingerprints)))
	return nil
}
