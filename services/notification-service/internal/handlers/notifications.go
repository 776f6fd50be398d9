package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/events"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/notifications"
)

type Service interface {
	List(ctx context.Context, userID string, limit int, lang string) ([]notifications.View, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, id string) error
	Send(ctx context.Context, req events.NotificationRequested) (notifications.Notification, error)
}

type NotificationHandler struct {
	svc        Service
	logger     *slog.Logger
	apiKeyHash string
}

// NewNotificationHandler serves the notification feed. apiKeyHash, when set, lets internal
// callers use the admin send endpoint with an X-Api-Key instead of an admin token.
func NewNotificationHandler(svc Service, logger *slog.Logger, apiKeyHash string) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger, apiKeyHash: apiKeyHash}
}

func (h *NotificationHandler) Register(mux *http.ServeMux) {
	user := func(f http.HandlerFunc) http.Handler { return httpx.RequireUser(f) }
	mux.Handle("GET /api/v1/notifications", user(h.List))
	mux.Handle("GET /api/v1/notifications/unread-count", user(h.UnreadCount))
	mux.Handle("PATCH /api/v1/notifications/read-all", user(h.MarkAllRead))
	mux.Handle("PATCH /api/v1/notifications/{id}/read", user(h.MarkRead))
	mux.Handle("DELETE /api/v1/notifications/{id}", user(h.Delete))
	mux.Handle("POST /api/v1/admin/notifications", h.requireAdmin(http.HandlerFunc(h.Send)))
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	limit := notifications.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := h.svc.List(r.Context(), claims.Subject, limit, requestLang(r, claims))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	n, err := h.svc.UnreadCount(r.Context(), claims.Subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := h.svc.MarkRead(r.Context(), claims.Subject, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := h.svc.MarkAllRead(r.Context(), claims.Subject); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), claims.Subject, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req events.NotificationRequested
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = events.KindGeneric
	}
	n, err := h.svc.Send(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": n.ID})
}

// requireAdmin admits admin tokens, or a valid API key when one is configured.
func (h *NotificationHandler) requireAdmin(next http.Handler) http.Handler {
	byKey := httpx.RequireAPIKey(h.apiKeyHash)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			if claims.Role != auth.RoleAdmin {
				httpx.WriteError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if h.apiKeyHash == "" || r.Header.Get(httpx.APIKeyHeader) == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		byKey.ServeHTTP(w, r)
	})
}

func (h *NotificationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notifications.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, notifications.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	default:
		h.logger.Error("notification request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func requestLang(r *http.Request, claims *auth.Claims) string {
	if lang := i18n.Normalize(r.URL.Query().Get("lang")); lang != "" {
		return lang
	}
	if claims != nil && claims.Lang != "" {
		return claims.Lang
	}
	return i18n.FromAcceptLanguage(r.Header.Get("Accept-Language"))
}
