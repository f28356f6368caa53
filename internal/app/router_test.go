package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/auth"
	"github.com/odyssey-erp/clinic-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing"
	"github.com/odyssey-erp/clinic-ledger/internal/invoicing/invoicingtest"
	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *auth.TokenService) {
	t.Helper()
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := auth.NewTokenService("router-test-secret", "clinic-ledger")
	store := invoicingtest.NewStore(inventorytest.NewStore())
	billing := invoicing.NewService(store, nil, nil, invoicing.ServiceConfig{})

	router := NewRouter(RouterParams{
		Logger:           logger,
		Config:           &Config{AppEnv: "development", RateLimitPerMinute: 1000, AppRequestTimeout: time.Second},
		AuthHandler:      auth.NewHandler(logger, tokens),
		InvoicingHandler: invoicing.NewHandler(logger, billing, rbac.Middleware{Logger: logger}),
	})
	return router, tokens
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestInvoicesRequireBearerAndPermission(t *testing.T) {
	router, tokens := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	clerk, err := tokens.Issue(shared.Actor{ID: 3, Name: "clerk", Permissions: []string{shared.PermCatalogView}}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+clerk)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	cashier, err := tokens.Issue(shared.Actor{ID: 4, Name: "cashier", Permissions: []string{shared.PermBillingView}}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+cashier)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"items"`)
}
