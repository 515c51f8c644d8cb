package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/config"
	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

// fakeConn overrides the driver methods used by the repository
type fakeConn struct {
	driver.Conn
	execs     []string
	prepared  []string
	batch     *fakeBatch
	rowQuery  string
	rowArgs   []interface{}
	row       *fakeRow
	rowsQuery string
	rows      *fakeRows
	pingErr   error
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	c.execs = append(c.execs, query)
	return nil
}

func (c *fakeConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.prepared = append(c.prepared, query)
	return c.batch, nil
}

func (c *fakeConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	c.rowQuery = query
	c.rowArgs = args
	return c.row
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	c.rowsQuery = query
	return c.rows, nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	return c.pingErr
}

func (c *fakeConn) Close() error {
	return nil
}

type fakeBatch struct {
	driver.Batch
	rows      [][]any
	appendErr error
	sendErr   error
	sent      bool
	aborted   bool
}

func (b *fakeBatch) Append(v ...any) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return b.sendErr
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

type fakeRow struct {
	driver.Row
	total, unique uint64
}

func (r *fakeRow) Scan(dest ...any) error {
	*dest[0].(*uint64) = r.total
	*dest[1].(*uint64) = r.unique
	return nil
}

type fakeRows struct {
	driver.Rows
	groups []repository.OutcomeGroupResult
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.groups)
}

func (r *fakeRows) Scan(dest ...any) error {
	g := r.groups[r.pos-1]
	*dest[0].(*string) = g.GroupValue
	*dest[1].(*uint64) = g.TotalCount
	return nil
}

func (r *fakeRows) Err() error {
	return nil
}

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

func newTestRepository(conn *fakeConn) *Repository {
	return NewRepository(&Client{connection: conn, log: zap.NewNop()}, zap.NewNop())
}

func TestRepository_InitSchema(t *testing.T) {
	conn := &fakeConn{}
	repo := newTestRepository(conn)

	require.NoError(t, repo.InitSchema(context.Background()))

	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0], "CREATE TABLE IF NOT EXISTS admission_outcomes")
	assert.Contains(t, conn.execs[0], "emitted_unrecorded Bool")
}

func TestRepository_InsertBatch(t *testing.T) {
	batch := &fakeBatch{}
	conn := &fakeConn{batch: batch}
	repo := newTestRepository(conn)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	outcomes := []*domain.Outcome{
		{
			ID:          "o-1",
			Fingerprint: domain.Fingerprint{SourceID: "a", MessageID: "1"},
			State:       domain.StateCommitted,
			Attempts:    1,
			DailyCount:  7,
			ReceivedAt:  at,
			FinishedAt:  at,
		},
		{
			ID:                "o-2",
			Fingerprint:       domain.Fingerprint{SourceID: "a", MessageID: "2"},
			State:             domain.StateFailed,
			Kind:              domain.KindStorageUnavailable,
			Reason:            "emitted-unrecorded",
			EmittedUnrecorded: true,
			Err:               errors.New("record failed"),
			ReceivedAt:        at,
			FinishedAt:        at,
		},
	}

	n, err := repo.InsertBatch(context.Background(), outcomes)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, batch.sent)
	assert.Equal(t, []string{"INSERT INTO admission_outcomes"}, conn.prepared)
	require.Len(t, batch.rows, 2)
	assert.Equal(t, []any{
		"o-1", "a", "1", "committed", "", "", uint16(1), uint32(7), false, false, "", at, at,
	}, batch.rows[0])
	assert.Equal(t, true, batch.rows[1][8])
	assert.Equal(t, "record failed", batch.rows[1][10])
}

func TestRepository_InsertBatch_Empty(t *testing.T) {
	conn := &fakeConn{}
	repo := newTestRepository(conn)

	n, err := repo.InsertBatch(context.Background(), nil)

	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, conn.prepared)
}

func TestRepository_InsertBatch_Errors(t *testing.T) {
	outcome := &domain.Outcome{ID: "o-1", State: domain.StateCommitted}

	appendFails := &fakeBatch{appendErr: errors.New("bad column")}
	_, err := newTestRepository(&fakeConn{batch: appendFails}).InsertBatch(context.Background(), []*domain.Outcome{outcome})
	assert.ErrorContains(t, err, "append")
	assert.True(t, appendFails.aborted)

	sendFails := &fakeBatch{sendErr: errors.New("connection reset")}
	_, err = newTestRepository(&fakeConn{batch: sendFails}).InsertBatch(context.Background(), []*domain.Outcome{outcome})
	assert.ErrorContains(t, err, "send")
}

func TestRepository_GetOutcomeMetrics(t *testing.T) {
	rows := &fakeRows{groups: []repository.OutcomeGroupResult{
		{GroupValue: "committed", TotalCount: 40},
		{GroupValue: "rejected_duplicate", TotalCount: 60},
	}}
	conn := &fakeConn{row: &fakeRow{total: 100, unique: 3}, rows: rows}
	repo := newTestRepository(conn)

	result, err := repo.GetOutcomeMetrics(context.Background(), repository.OutcomeQuery{
		From:    1714521600,
		To:      1714607999,
		GroupBy: "state",
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.TotalCount)
	assert.Equal(t, uint64(3), result.UniqueSource)
	assert.Equal(t, rows.groups, result.Groups)
	assert.True(t, rows.closed)
	assert.Contains(t, conn.rowsQuery, "GROUP BY state")
	assert.NotContains(t, conn.rowQuery, "state = ?")
	assert.Equal(t, []interface{}{int64(1714521600), int64(1714607999)}, conn.rowArgs)
}

func TestRepository_GetOutcomeMetrics_StateFilter(t *testing.T) {
	conn := &fakeConn{row: &fakeRow{total: 5, unique: 1}}
	repo := newTestRepository(conn)

	result, err := repo.GetOutcomeMetrics(context.Background(), repository.OutcomeQuery{
		State: "committed",
		From:  1,
		To:    2,
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.TotalCount)
	assert.Empty(t, result.Groups)
	assert.Contains(t, conn.rowQuery, "state = ?")
	assert.Equal(t, []interface{}{int64(1), int64(2), "committed"}, conn.rowArgs)
}

func TestRepository_GetOutcomeMetrics_UnsupportedGroupBy(t *testing.T) {
	conn := &fakeConn{row: &fakeRow{}}
	repo := newTestRepository(conn)

	_, err := repo.GetOutcomeMetrics(context.Background(), repository.OutcomeQuery{GroupBy: "user"})

	assert.ErrorContains(t, err, "unsupported group_by")
}

func TestValidGroupBy(t *testing.T) {
	for _, g := range []string{"state", "kind", "reason", "source", "hour", "day"} {
		assert.True(t, ValidGroupBy(g), g)
	}
	assert.False(t, ValidGroupBy("channel"))
}

func TestConnOptions(t *testing.T) {
	opts := connOptions(&config.ClickHouse{
		Host:            "ch",
		Port:            "9440",
		Database:        "audit",
		User:            "u",
		UseTLS:          true,
		MaxOpenConns:    5,
		ConnMaxLifetime: 60,
	})

	assert.Equal(t, []string{"ch:9440"}, opts.Addr)
	assert.Equal(t, "audit", opts.Auth.Database)
	assert.NotNil(t, opts.TLS)
	assert.Equal(t, time.Minute, opts.ConnMaxLifetime)
}

func TestRepository_Ping(t *testing.T) {
	repo := newTestRepository(&fakeConn{pingErr: errors.New("down")})
	assert.Error(t, repo.Ping(context.Background()))
}
