package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// Janitor prunes fingerprints older than the retention on a fixed interval
type Janitor struct {
	pruner    repository.Pruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewJanitor creates a janitor
func NewJanitor(pruner repository.Pruner, retention, interval time.Duration, log *zap.Logger) *Janitor {
	return &Janitor{
		pruner:    pruner,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log,
	}
}

// Start runs until ctx is done
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("Janitor shutting down")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce prunes a single time and returns the number of removed fingerprints
func (j *Janitor) RunOnce(ctx context.Context) int {
	cutoff := j.now().Add(-j.retention)
	removed, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		j.log.Error("Failed to prune fingerprints", zap.Error(err))
		return 0
	}
	if removed > 0 {
		j.log.Info("Pruned fingerprints",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed
}
