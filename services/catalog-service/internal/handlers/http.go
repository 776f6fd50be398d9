package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
)

type Repository interface {
	UpsertService(ctx context.Context, s catalog.Service) error
	ListServices(ctx context.Context) ([]catalog.Service, error)
	UpsertProvider(ctx context.Context, p catalog.Provider) error
	SetProviderActive(ctx context.Context, id string, active bool) error
	ListProviders(ctx context.Context) ([]catalog.Provider, error)
}

type Handler struct {
	repo   Repository
	logger *slog.Logger
}

func New(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/public/services", h.ListServices)
	mux.HandleFunc("GET /api/v1/public/providers", h.ListProviders)
	mux.Handle("PUT /api/v1/admin/services/{id}", httpx.RequireStaff(http.HandlerFunc(h.PutService)))
	mux.Handle("PUT /api/v1/admin/providers/{id}", httpx.RequireStaff(http.HandlerFunc(h.PutProvider)))
	mux.Handle("PATCH /api/v1/admin/providers/{id}/active", httpx.RequireStaff(http.HandlerFunc(h.SetProviderActive)))
}

type serviceResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

type providerResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.repo.ListServices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lang := i18n.Normalize(r.URL.Query().Get("lang"))
	if lang == "" {
		lang = i18n.FromAcceptLanguage(r.Header.Get("Accept-Language"))
	}
	out := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, serviceResponse{ID: s.ID, Name: s.Name.Resolve(lang), DurationMinutes: s.DurationMinutes})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// ListProviders hides inactive providers unless ?all=true.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.repo.ListProviders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	all := r.URL.Query().Get("all") == "true"
	out := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		if !p.Active && !all {
			continue
		}
		out = append(out, providerResponse{ID: p.ID, Name: p.Name, Active: p.Active})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) PutService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            i18n.Text `json:"name"`
		DurationMinutes int       `json:"duration_minutes"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc := catalog.Service{ID: strings.TrimSpace(r.PathValue("id")), Name: req.Name, DurationMinutes: req.DurationMinutes}
	if svc.ID == "" || svc.Name.Resolve("") == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id and name required")
		return
	}
	if err := catalog.ValidateService(svc); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.repo.UpsertService(r.Context(), svc); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PutProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Active *bool  `json:"active"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := catalog.Provider{ID: strings.TrimSpace(r.PathValue("id")), Name: strings.TrimSpace(req.Name), Active: true}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if p.ID == "" || p.Name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id and name required")
		return
	}
	if err := h.repo.UpsertProvider(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetProviderActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Active == nil {
		httpx.WriteError(w, http.StatusBadRequest, "active required")
		return
	}
	if err := h.repo.SetProviderActive(r.Context(), r.PathValue("id"), *req.Active); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("catalog request failed",
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"err", err,
	)
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}
