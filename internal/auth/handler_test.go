package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/auth"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
	_ "github.com/odyssey-erp/clinic-ledger/internal/testing/guard"
)

func newRouter(tokens *auth.TokenService) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", auth.NewHandler(nil, tokens).MountRoutes)
	return r
}

func TestMeReturnsActorFromToken(t *testing.T) {
	tokens := auth.NewTokenService("test-secret", "clinic-ledger")
	token, err := tokens.Issue(shared.Actor{ID: 42, Name: "Dr. Rao", Permissions: []string{shared.PermBillingEdit}}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	newRouter(tokens).ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		ID          int64    `json:"id"`
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, int64(42), body.ID)
	require.Equal(t, []string{shared.PermBillingEdit}, body.Permissions)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	tokens := auth.NewTokenService("test-secret", "clinic-ledger")
	foreign, err := auth.NewTokenService("other-secret", "clinic-ledger").Issue(shared.Actor{ID: 1}, time.Hour)
	require.NoError(t, err)
	expired, err := tokens.Issue(shared.Actor{ID: 1}, -time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := auth.NewTokenService("test-secret", "elsewhere").Issue(shared.Actor{ID: 1}, time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"basic":        "Basic dXNlcjpwYXNz",
		"foreign":      "Bearer " + foreign,
		"expired":      "Bearer " + expired,
		"wrong issuer": "Bearer " + wrongIssuer,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			res := httptest.NewRecorder()
			newRouter(tokens).ServeHTTP(res, req)
			require.Equal(t, http.StatusUnauthorized, res.Code)
		})
	}
}

func TestVerifyRejectsNonNumericSubject(t *testing.T) {
	tokens := auth.NewTokenService("test-secret", "")
	_, err := tokens.Issue(shared.Actor{}, time.Hour)
	require.Error(t, err)

	_, err = tokens.Verify("not-a-jwt")
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}
