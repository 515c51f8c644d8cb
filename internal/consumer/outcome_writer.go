package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// OutcomeWriterConfig configures the outcome writer
type OutcomeWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// OutcomeWriter batches terminal outcomes into the audit log. A nil
// repository drains the channel without writing.
type OutcomeWriter struct {
	repository repository.OutcomeRepository
	config     OutcomeWriterConfig
	log        *zap.Logger
}

// NewOutcomeWriter creates a new outcome writer
func NewOutcomeWriter(repo repository.OutcomeRepository, config OutcomeWriterConfig, log *zap.Logger) *OutcomeWriter {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 100
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 5 * time.Second
	}
	return &OutcomeWriter{
		repository: repo,
		config:     config,
		log:        log,
	}
}

// Start consumes outcomes until in is closed or ctx is done, flushing by size and timeout
func (w *OutcomeWriter) Start(ctx context.Context, in <-chan *domain.Outcome) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*domain.Outcome, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Outcome writer shutting down")
			w.flushFinal(ctx, batch)
			return

		case outcome, ok := <-in:
			if !ok {
				w.log.Info("Outcome writer input channel closed")
				w.flushFinal(ctx, batch)
				return
			}

			batch = append(batch, outcome)

			if len(batch) >= w.config.MaxBatchSize {
				w.log.Debug("Outcome batch size threshold reached", zap.Int("batch_size", len(batch)))
				w.writeBatch(ctx, batch)
				batch = make([]*domain.Outcome, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.log.Debug("Outcome batch timeout reached", zap.Int("outcome_count", len(batch)))
				w.writeBatch(ctx, batch)
				batch = make([]*domain.Outcome, 0, w.config.MaxBatchSize)
			}
		}
	}
}

// flushFinal writes the last batch on a context that survives shutdown
func (w *OutcomeWriter) flushFinal(ctx context.Context, batch []*domain.Outcome) {
	if len(batch) == 0 {
		return
	}
	w.log.Info("Flushing final outcome batch", zap.Int("outcome_count", len(batch)))
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	w.writeBatch(fctx, batch)
}

// writeBatch inserts a batch. Outcomes are already settled on the queue, so a
// failed write is logged and dropped.
func (w *OutcomeWriter) writeBatch(ctx context.Context, outcomes []*domain.Outcome) {
	if len(outcomes) == 0 || w.repository == nil {
		return
	}

	insertedCount, err := w.repository.InsertBatch(ctx, outcomes)
	if err != nil {
		w.log.Error("Failed to insert outcome batch",
			zap.Error(err),
			zap.Int("outcome_count", len(outcomes)))
		return
	}

	if insertedCount != len(outcomes) {
		w.log.Warn("Partial outcome insert",
			zap.Int("inserted", insertedCount),
			zap.Int("expected", len(outcomes)))
		return
	}

	w.log.Debug("Inserted outcomes", zap.Int("count", insertedCount))
}
