package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/rbac"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

func newTestRouter(svc *Service, perms ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(req.Context(), shared.Actor{ID: 3, Permissions: perms})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, svc, rbac.Middleware{}).MountRoutes(r)
	return r
}

func TestHandlerCreateSupplier(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo(), nil)
	router := newTestRouter(svc, shared.PermCatalogEdit)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/suppliers", strings.NewReader(`{"name":"Apex","phone":"555","category":"PHARMACEUTICAL"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body Supplier
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, SupplierPharmaceutical, body.Category)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/suppliers", strings.NewReader(`{"name":"Other","phone":"555"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "already in use by supplier: Apex")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/suppliers", strings.NewReader(`{"phone":"1"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"name"`)
}

func TestHandlerRequiresEditPermission(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo(), nil)
	router := newTestRouter(svc, shared.PermCatalogView)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/suppliers", strings.NewReader(`{"name":"Apex"}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/suppliers/12", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "supplier #12 not found")
}

func TestHandlerProductRoutes(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil)
	router := newTestRouter(svc, shared.PermCatalogEdit)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"Floss"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/products/"+strconv.FormatInt(created.ID, 10), strings.NewReader(`{"name":"Dental Floss","is_stockable":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"is_stockable":false`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?q=floss", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Dental Floss"`)
	require.Contains(t, rec.Body.String(), `"total":1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/products/"+strconv.FormatInt(created.ID, 10), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	service, err := svc.CreateService(context.Background(), 1, BillableService{Name: "Scaling", IsActive: true})
	require.NoError(t, err)
	repo.billed[service.ID] = true
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/services/"+strconv.FormatInt(service.ID, 10), nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Cannot delete service")
}
