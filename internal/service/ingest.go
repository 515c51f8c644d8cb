package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/dto"
	"github.com/mackka2k/tg-news-listener/internal/queue"
	"github.com/mackka2k/tg-news-listener/internal/repository"
	"github.com/mackka2k/tg-news-listener/internal/repository/clickhouse"
)

// maxClockSkew is how far in the future arrived_at may be
const maxClockSkew = time.Minute

// maxHourlyRange bounds hourly grouping of outcome metrics
const maxHourlyRange = 90 * 24 * time.Hour

// ErrAuditDisabled is returned for metric queries without an audit repository
var ErrAuditDisabled = errors.New("outcome audit log is not configured")

// ValidationError marks a request rejected before touching the queue or audit log
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IngestService publishes inbound messages and queries the outcome audit log
type IngestService struct {
	publisher  queue.QueuePublisher
	repository repository.OutcomeRepository
	now        func() time.Time
	log        *zap.Logger
}

// NewIngestService creates a new ingest service. repo may be nil when the
// audit log is disabled.
func NewIngestService(publisher queue.QueuePublisher, repo repository.OutcomeRepository, log *zap.Logger) *IngestService {
	return &IngestService{
		publisher:  publisher,
		repository: repo,
		now:        time.Now,
		log:        log,
	}
}

// PublishMessage validates a message and publishes it to the inbound queue
func (s *IngestService) PublishMessage(ctx context.Context, req *dto.PublishMessageRequest) (string, error) {
	now := s.now()

	ev := domain.MessageEvent{
		SourceID:  strings.TrimSpace(req.SourceID),
		MessageID: strings.TrimSpace(req.MessageID),
		Text:      req.Text,
		ArrivedAt: now.UTC(),
	}

	fp := domain.FingerprintOf(ev)
	if !fp.Valid() {
		return "", invalid("source_id and message_id must not be blank")
	}

	if req.ArrivedAt > 0 {
		arrived := time.Unix(req.ArrivedAt, 0).UTC()
		if arrived.After(now.Add(maxClockSkew)) {
			s.log.Warn("Arrival time validation failed: future timestamp",
				zap.Int64("arrived_at", req.ArrivedAt),
				zap.Int64("current_time", now.Unix()),
				zap.String("fingerprint", fp.String()))
			return "", invalid("arrived_at cannot be in the future: %d > %d", req.ArrivedAt, now.Unix())
		}
		ev.ArrivedAt = arrived
	}

	if err := s.publisher.PublishMessage(ctx, &ev); err != nil {
		return "", fmt.Errorf("failed to publish message to queue: %w", err)
	}

	return fp.String(), nil
}

// PublishBulkMessages publishes each message and collects per-message errors
func (s *IngestService) PublishBulkMessages(ctx context.Context, reqs []dto.PublishMessageRequest) ([]string, []string, error) {
	var fingerprints []string
	var errs []string

	for i := range reqs {
		fp, err := s.PublishMessage(ctx, &reqs[i])
		if err != nil {
			errs = append(errs, fmt.Sprintf("message %d: %s", i, err.Error()))
			s.log.Warn("Failed to publish message in bulk",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		fingerprints = append(fingerprints, fp)
	}

	return fingerprints, errs, nil
}

// GetOutcomeMetrics retrieves aggregated admission outcomes from the audit log
func (s *IngestService) GetOutcomeMetrics(ctx context.Context, req *dto.GetOutcomeMetricsRequest) (*dto.GetOutcomeMetricsResponse, error) {
	if s.repository == nil {
		return nil, ErrAuditDisabled
	}

	if req.From > req.To {
		s.log.Warn("Invalid time range for outcome metrics",
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		return nil, invalid("from timestamp must be less than or equal to to timestamp")
	}

	if req.State != "" && !domain.State(req.State).Terminal() {
		return nil, invalid("invalid state value: %s", req.State)
	}

	if req.GroupBy != "" {
		if !clickhouse.ValidGroupBy(req.GroupBy) {
			s.log.Warn("Invalid group_by value", zap.String("group_by", req.GroupBy))
			return nil, invalid("invalid group_by value: %s (supported: state, kind, reason, source, hour, day)", req.GroupBy)
		}

		rangeDuration := time.Duration(req.To-req.From) * time.Second
		if req.GroupBy == "hour" && rangeDuration > maxHourlyRange {
			return nil, invalid("time range too large for hourly grouping (max 90 days, got %d days)",
				int64(rangeDuration/(24*time.Hour)))
		}
	}

	query := repository.OutcomeQuery{
		State:   req.State,
		From:    req.From,
		To:      req.To,
		GroupBy: req.GroupBy,
	}

	s.log.Debug("Querying outcome metrics",
		zap.String("state", req.State),
		zap.Int64("from", req.From),
		zap.Int64("to", req.To),
		zap.String("group_by", req.GroupBy))

	result, err := s.repository.GetOutcomeMetrics(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome metrics from repository: %w", err)
	}

	response := &dto.GetOutcomeMetricsResponse{
		State:        req.State,
		From:         req.From,
		To:           req.To,
		TotalCount:   result.TotalCount,
		UniqueSource: result.UniqueSource,
		GroupBy:      req.GroupBy,
		Groups:       make([]dto.OutcomeGroupData, 0, len(result.Groups)),
	}

	for _, group := range result.Groups {
		response.Groups = append(response.Groups, dto.OutcomeGroupData{
			GroupValue: group.GroupValue,
			TotalCount: group.TotalCount,
		})
	}

	return response, nil
}
