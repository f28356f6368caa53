package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/clinic-ledger/internal/catalog"
	jobmetrics "github.com/odyssey-erp/clinic-ledger/internal/jobs"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/cache"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockReporter computes the low stock report.
type LowStockReporter interface {
	LowStockReport(ctx context.Context) ([]catalog.StockLevel, error)
}

// ExclusiveRunner runs work under a cross-process lock.
type ExclusiveRunner interface {
	RunExclusive(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// LowStockScanJob logs the variants that need reordering. Only one worker scans at a time.
type LowStockScanJob struct {
	Reporter LowStockReporter
	Locker   ExclusiveRunner
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	LockTTL  time.Duration
}

// NewLowStockScanJob wires dependencies for the scan handler.
func NewLowStockScanJob(reporter LowStockReporter, locker ExclusiveRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Reporter: reporter, Locker: locker, Logger: logger, Metrics: metrics, LockTTL: 5 * time.Minute}
}

// Handle processes low stock scan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reporter == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.logger()
	if payload.RequestedBy != "" {
		logger = logger.With(slog.String("requested_by", payload.RequestedBy))
	}

	if j.Locker == nil {
		return j.scan(ctx, logger)
	}
	err := j.Locker.RunExclusive(ctx, shared.JobLockKey(TaskLowStockScan), j.lockTTL(), func(ctx context.Context) error {
		return j.scan(ctx, logger)
	})
	if errors.Is(err, cache.ErrLocked) {
		logger.Info("low stock scan already running elsewhere, skipping")
		return nil
	}
	return err
}

func (j *LowStockScanJob) scan(ctx context.Context, logger *slog.Logger) (err error) {
	tracker := j.metrics().Track(TaskLowStockScan)
	defer func() {
		err = tracker.End(err)
	}()

	levels, err := j.Reporter.LowStockReport(ctx)
	if err != nil {
		logger.Error("load low stock report", slog.Any("error", err))
		return err
	}
	j.metrics().SetLowStock(len(levels))
	for _, level := range levels {
		logger.Warn("variant low on stock",
			slog.Int64("variant_id", level.VariantID),
			slog.String("name", level.Name),
			slog.Int("stock_quantity", level.StockQuantity),
			slog.Int("threshold", level.Threshold))
	}
	logger.Info("completed low stock scan", slog.Int("low_variants", len(levels)))
	return nil
}

func (j *LowStockScanJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return 5 * time.Minute
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
