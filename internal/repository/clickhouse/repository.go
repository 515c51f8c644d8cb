package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// OutcomesTable is the audit table of terminal admission outcomes
const OutcomesTable = "admission_outcomes"

// GroupBy values accepted by GetOutcomeMetrics
var groupByFields = map[string]struct {
	selectField string
	groupBy     string
	orderBy     string
}{
	"state":  {"state", "state", "total_count DESC"},
	"kind":   {"kind", "kind", "total_count DESC"},
	"reason": {"reason", "reason", "total_count DESC"},
	"source": {"source_id", "source_id", "total_count DESC"},
	"hour": {
		"formatDateTime(toStartOfHour(finished_at), '%Y-%m-%d %H:00:00')",
		"toStartOfHour(finished_at)",
		"group_value ASC",
	},
	"day": {
		"formatDateTime(toStartOfDay(finished_at), '%Y-%m-%d')",
		"toStartOfDay(finished_at)",
		"group_value ASC",
	},
}

// ValidGroupBy reports whether GetOutcomeMetrics supports the grouping
func ValidGroupBy(groupBy string) bool {
	_, ok := groupByFields[groupBy]
	return ok
}

// Repository implements repository.OutcomeRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse outcome repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the outcome table. Outcomes are append-only, so a plain
// MergeTree partitioned by month is enough.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + OutcomesTable + ` (
		outcome_id String,
		source_id String,
		message_id String,
		state LowCardinality(String),
		kind LowCardinality(String),
		reason LowCardinality(String),
		attempts UInt16,
		daily_count UInt32,
		emitted_unrecorded Bool,
		requeue Bool,
		error String,
		received_at DateTime64(3),
		finished_at DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (state, finished_at, source_id)
	PARTITION BY toYYYYMM(finished_at)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", OutcomesTable, err)
	}

	r.log.Info("ClickHouse schema initialized", zap.String("table", OutcomesTable))
	return nil
}

// InsertBatch inserts a batch of outcomes into ClickHouse
func (r *Repository) InsertBatch(ctx context.Context, outcomes []*domain.Outcome) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO "+OutcomesTable)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, o := range outcomes {
		if o == nil {
			continue
		}

		err := batch.Append(
			o.ID,
			o.Fingerprint.SourceID,
			o.Fingerprint.MessageID,
			string(o.State),
			string(o.Kind),
			o.Reason,
			uint16(o.Attempts),
			uint32(max(o.DailyCount, 0)),
			o.EmittedUnrecorded,
			o.Requeue,
			o.ErrorString(),
			o.ReceivedAt,
			o.FinishedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append outcome to batch: %w", err)
		}
		insertedCount++
	}

	if insertedCount == 0 {
		_ = batch.Abort()
		return 0, fmt.Errorf("no outcomes could be appended to batch")
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

// whereClause builds the filter shared by the overall and grouped queries
func whereClause(query repository.OutcomeQuery) (string, []interface{}) {
	conditions := []string{"toUnixTimestamp(finished_at) >= ?", "toUnixTimestamp(finished_at) <= ?"}
	args := []interface{}{query.From, query.To}
	if query.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, query.State)
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// GetOutcomeMetrics retrieves aggregated outcome counts from ClickHouse
func (r *Repository) GetOutcomeMetrics(ctx context.Context, query repository.OutcomeQuery) (*repository.OutcomeMetrics, error) {
	result := &repository.OutcomeMetrics{
		Groups: []repository.OutcomeGroupResult{},
	}

	where, args := whereClause(query)

	overallQuery := fmt.Sprintf(`
		SELECT
			count() AS total_count,
			uniq(source_id) AS unique_source
		FROM %s
		%s
	`, OutcomesTable, where)

	row := r.client.Conn().QueryRow(ctx, overallQuery, args...)
	if err := row.Scan(&result.TotalCount, &result.UniqueSource); err != nil {
		return nil, fmt.Errorf("failed to query overall outcome metrics: %w", err)
	}

	if query.GroupBy == "" {
		return result, nil
	}

	group, ok := groupByFields[query.GroupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported group_by value: %s", query.GroupBy)
	}

	groupedQuery := fmt.Sprintf(`
		SELECT
			%s AS group_value,
			count() AS total_count
		FROM %s
		%s
		GROUP BY %s
		ORDER BY %s
	`, group.selectField, OutcomesTable, where, group.groupBy, group.orderBy)

	rows, err := r.client.Conn().Query(ctx, groupedQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped outcome metrics: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			r.log.Error("Failed to close grouped metrics rows", zap.Error(err))
		}
	}(rows)

	for rows.Next() {
		var g repository.OutcomeGroupResult
		if err := rows.Scan(&g.GroupValue, &g.TotalCount); err != nil {
			return nil, fmt.Errorf("failed to scan grouped outcome metrics row: %w", err)
		}
		result.Groups = append(result.Groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped outcome metrics rows: %w", err)
	}

	return result, nil
}
