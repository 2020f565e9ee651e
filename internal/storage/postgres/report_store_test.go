package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

func sampleRecord() crawler.ReportRecord {
	return crawler.ReportRecord{
		ID:           "report-1",
		RunID:        "0190d1c2-7f3a-7b00-8000-000000000001",
		GeneratedAt:  time.Unix(1700000000, 0).UTC(),
		Strategy:     "hybrid",
		TotalCount:   3,
		SuccessCount: 2,
		FailureCount: 1,
		BlobURI:      "gs://bucket/reports/run/crawl_output.md",
		ContentHash:  "abc123",
	}
}

func TestStoreReportInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStore(mock, "")
	require.NoError(t, err)

	rec := sampleRecord()
	mock.ExpectExec("INSERT INTO crawl_reports").
		WithArgs(
			rec.ID,
			rec.RunID,
			rec.GeneratedAt,
			rec.Strategy,
			rec.TotalCount,
			rec.SuccessCount,
			rec.FailureCount,
			rec.BlobURI,
			rec.ContentHash,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreReport(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReportPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewReportStore(mock, "reports_v2")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO reports_v2").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = store.StoreReport(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "insert report")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReportValidatesRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewReportStore(mock, "")
	require.NoError(t, err)

	rec := sampleRecord()
	rec.ID = ""
	require.ErrorContains(t, store.StoreReport(context.Background(), rec), "record id")

	rec = sampleRecord()
	rec.FailureCount = 5
	require.ErrorContains(t, store.StoreReport(context.Background(), rec), "counts do not add up")

	var nilStore *ReportStore
	require.Error(t, nilStore.StoreReport(context.Background(), sampleRecord()))
	nilStore.Close()
}

func TestNewReportStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewReportStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewReportStore(mock, "reports; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
}

func TestReportStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewReportStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_reports").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPoolRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), PoolConfig{})
	require.ErrorContains(t, err, "db.dsn")

	_, err = NewPool(context.Background(), PoolConfig{DSN: "://bad"})
	require.ErrorContains(t, err, "parse postgres dsn")
}
