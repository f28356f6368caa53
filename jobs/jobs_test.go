package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/catalog"
	jobmetrics "github.com/odyssey-erp/clinic-ledger/internal/jobs"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/cache"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

type reporterStub struct {
	levels []catalog.StockLevel
	err    error
	calls  int
}

func (r *reporterStub) LowStockReport(context.Context) ([]catalog.StockLevel, error) {
	r.calls++
	return r.levels, r.err
}

type purgerStub struct {
	deleted   int64
	retention time.Duration
}

func (p *purgerStub) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	p.retention = olderThan
	return p.deleted, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocker(t *testing.T) *cache.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewLocker(rdb)
}

func TestLowStockScanRecordsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	reporter := &reporterStub{levels: []catalog.StockLevel{
		{VariantID: 1, Name: "Lidocaine 2%", StockQuantity: 3, Threshold: 10, IsActive: true, IsLow: true},
		{VariantID: 2, Name: "Gauze pack", StockQuantity: 0, Threshold: 5, IsActive: true, IsLow: true},
	}}
	job := NewLowStockScanJob(reporter, newLocker(t), discardLogger(), metrics)

	task, err := NewLowStockScanTask("cli", time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, reporter.calls)

	expected := `
# HELP clinic_low_stock_variants Variants at or below their low stock threshold at the last scan.
# TYPE clinic_low_stock_variants gauge
clinic_low_stock_variants 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "clinic_low_stock_variants"))
}

func TestLowStockScanSkipsWhenLocked(t *testing.T) {
	locker := newLocker(t)
	reporter := &reporterStub{}
	job := NewLowStockScanJob(reporter, locker, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	err := locker.RunExclusive(ctx, shared.JobLockKey(TaskLowStockScan), time.Minute, func(ctx context.Context) error {
		return job.Handle(ctx, asynq.NewTask(TaskLowStockScan, nil))
	})
	require.NoError(t, err)
	require.Zero(t, reporter.calls)
}

func TestLowStockScanPropagatesReportError(t *testing.T) {
	reporter := &reporterStub{err: errors.New("db down")}
	job := NewLowStockScanJob(reporter, nil, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, nil))
	require.EqualError(t, err, "db down")
}

func TestLowStockScanRejectsBadPayload(t *testing.T) {
	job := NewLowStockScanJob(&reporterStub{}, nil, discardLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	store := &purgerStub{deleted: 4}
	job := NewIdempotencyCleanupJob(store, 48*time.Hour, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 48*time.Hour, store.retention)

	task, err := NewIdempotencyCleanupTask(6 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6*time.Hour, store.retention)
}

func TestIdempotencyCleanupCountsPurgedKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewIdempotencyCleanupJob(&purgerStub{deleted: 7}, time.Hour, discardLogger(), metrics)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	count, err := testutil.GatherAndCount(reg, "clinic_idempotency_keys_purged_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestLowStockTaskPayload(t *testing.T) {
	at := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	task, err := NewLowStockScanTask("scheduler", at)
	require.NoError(t, err)
	require.Equal(t, TaskLowStockScan, task.Type())

	var payload LowStockScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "scheduler", payload.RequestedBy)
	require.True(t, at.Equal(payload.RequestedAt))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, discardLogger()).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
