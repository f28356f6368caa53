package audithttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/audit"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newRouter(service *stubTimelineService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, service, rbac.Middleware{Logger: logger})
	handler.now = func() time.Time { return time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", handler.MountRoutes)
	return r
}

func request(target string, perms ...string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if perms == nil {
		return req
	}
	return req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 7, Name: "auditor", Permissions: perms}))
}

func TestTimelineRequiresPermission(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rec, request("/audit", shared.PermBillingView))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.TimelineRow{{ID: 1, ActorID: 7, Action: "invoice.created", Entity: "invoice", EntityID: "42"}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	rec := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rec, request("/audit?entity=invoice&entity_id=42", shared.PermAuditView))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "invoice.created")
	require.Equal(t, "2026-03-08", service.lastFilters.From.Format("2006-01-02"))
	require.Equal(t, "2026-03-15", service.lastFilters.To.Format("2006-01-02"))
	require.Equal(t, "invoice", service.lastFilters.Entity)
	require.Equal(t, "42", service.lastFilters.EntityID)
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rec, request("/audit?from=2026-03-10&to=2026-03-01", shared.PermAuditView))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{
		At:       time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		ActorID:  7,
		Action:   "payment.recorded",
		Entity:   "invoice",
		EntityID: "42",
		Meta:     map[string]any{"amount": "700.00"},
	}}}
	rec := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rec, request("/audit/export.csv?from=2026-03-01&to=2026-03-15", shared.PermAuditView))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "at,actor_id,action,entity,entity_id,meta", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "2026-03-10T09:30:00Z,7,payment.recorded,invoice,42,"))
}
