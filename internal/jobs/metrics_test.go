package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("inventory:low_stock_scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:low_stock_scan").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("inventory:low_stock_scan")))
}

func TestGaugesAndCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetLowStock(4)
	m.AddPurged(3)
	m.AddPurged(0)

	require.Equal(t, 4.0, testutil.ToFloat64(m.lowStock))
	require.Equal(t, 3.0, testutil.ToFloat64(m.purged))

	var nilMetrics *Metrics
	nilMetrics.SetLowStock(1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
