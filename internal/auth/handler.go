package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

// Handler authenticates bearer tokens and exposes the current actor.
type Handler struct {
	logger *slog.Logger
	tokens *TokenService
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, tokens *TokenService) *Handler {
	return &Handler{logger: logger, tokens: tokens}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.Middleware).Get("/me", h.me)
}

// Middleware rejects requests without a valid bearer token and puts the actor in context.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err == nil {
			var actor shared.Actor
			actor, err = h.tokens.Verify(raw)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
				return
			}
		}
		if h.logger != nil && !errors.Is(err, ErrTokenMissing) {
			h.logger.Warn("auth rejected token", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, shared.ErrUnauthorized)
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":          actor.ID,
		"name":        actor.Name,
		"permissions": actor.Permissions,
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrTokenMissing
	}
	return strings.TrimSpace(token), nil
}
