package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/invoices/{id}")
	req := httptest.NewRequest(http.MethodGet, "/invoices/4", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `clinic_http_requests_total{code="418",route="/invoices/{id}"} 1`)
	require.Contains(t, body, `clinic_http_request_duration_seconds_bucket{route="/invoices/{id}"`)
}

func TestEventLogCountsAndLogs(t *testing.T) {
	metrics := NewMetrics()
	var buf bytes.Buffer
	events := NewEventLog(slog.New(slog.NewJSONHandler(&buf, nil)), metrics)

	evt := shared.NewLedgerEvent("invoicing.payment_recorded", "invoice", 12, 3)
	evt.Amount = "150.00"
	events.Publish(context.Background(), evt)
	events.Publish(context.Background(), shared.NewLedgerEvent("invoicing.created", "invoice", 13, 3))

	require.Contains(t, scrape(t, metrics), `clinic_ledger_events_total{event="invoicing.payment_recorded"} 1`)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"amount":"150.00"`)
	require.NotContains(t, lines[1], "amount")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.CountEvent("x")
	NewEventLog(nil, nil).Publish(context.Background(), shared.NewLedgerEvent("x", "y", 1, 1))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
