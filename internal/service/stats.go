package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/dto"
	"github.com/mackka2k/tg-news-listener/internal/quota"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// ErrHalted is returned by Ready once the admission pipeline stopped intake
var ErrHalted = errors.New("admission pipeline halted")

// Pinger checks backend reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsService builds the operator view of the admission pipeline
type StatsService struct {
	reader  repository.StatsReader
	pinger  Pinger
	ledger  *quota.Ledger
	halted  func() bool
	started time.Time
	now     func() time.Time
	log     *zap.Logger
}

// NewStatsService creates a new stats service. halted may be nil for
// processes that do not run the orchestrator.
func NewStatsService(reader repository.StatsReader, pinger Pinger, ledger *quota.Ledger, halted func() bool, log *zap.Logger) *StatsService {
	if halted == nil {
		halted = func() bool { return false }
	}
	return &StatsService{
		reader:  reader,
		pinger:  pinger,
		ledger:  ledger,
		halted:  halted,
		started: time.Now(),
		now:     time.Now,
		log:     log,
	}
}

// Stats returns today's budget usage and lifetime totals
func (s *StatsService) Stats(ctx context.Context) (*dto.StatsResponse, error) {
	now := s.now()

	today, err := s.ledger.Today(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read today's counter: %w", err)
	}

	total, err := s.reader.TotalEmissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total emissions: %w", err)
	}

	halted := s.halted()
	limit := s.ledger.Limit()

	return &dto.StatsResponse{
		Date:           s.ledger.DateOf(now),
		TodayCount:     today,
		DailyLimit:     limit,
		Remaining:      max(limit-today, 0),
		TotalEmissions: total,
		UptimeSeconds:  int64(now.Sub(s.started) / time.Second),
		Ready:          !halted,
		Halted:         halted,
	}, nil
}

// Ready reports whether the pipeline can admit messages
func (s *StatsService) Ready(ctx context.Context) error {
	if s.halted() {
		return ErrHalted
	}
	if err := s.pinger.Ping(ctx); err != nil {
		s.log.Warn("Readiness check failed", zap.Error(err))
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}
