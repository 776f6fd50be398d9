package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

type Bookings interface {
	Availability(ctx context.Context, providerID, serviceID string, day time.Time) ([]int, error)
	Check(ctx context.Context, providerID, serviceID string, day time.Time, start int) (bool, error)
	Book(ctx context.Context, req booking.BookRequest) (booking.Booking, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error)
	ListForDay(ctx context.Context, day time.Time, providerID string) ([]model.Appointment, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, id string, to model.Status, actor booking.Actor) (model.Appointment, error)
	Purge(ctx context.Context, id string) error
}

type BookingHandler struct {
	bookings  Bookings
	lifecycle Lifecycle
	loc       *time.Location
	logger    *slog.Logger
}

func NewBookingHandler(bookings Bookings, lifecycle Lifecycle, loc *time.Location, logger *slog.Logger) *BookingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{bookings: bookings, lifecycle: lifecycle, loc: loc, logger: logger}
}

// Register mounts the booking routes. Authentication (httpx.WithAuth) must wrap the mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/public/availability", h.Availability)
	mux.HandleFunc("POST /api/v1/public/availability/check", h.Check)
	mux.HandleFunc("POST /api/v1/public/book", h.Create)

	mux.Handle("GET /api/v1/me/appointments", httpx.RequireUser(http.HandlerFunc(h.ListMine)))
	mux.Handle("POST /api/v1/me/appointments/{id}/cancel", httpx.RequireUser(http.HandlerFunc(h.CancelMine)))

	mux.Handle("GET /api/v1/admin/appointments", httpx.RequireStaff(http.HandlerFunc(h.ListDay)))
	mux.Handle("PATCH /api/v1/admin/appointments/{id}/status", httpx.RequireStaff(http.HandlerFunc(h.UpdateStatus)))
	mux.Handle("DELETE /api/v1/admin/appointments/{id}", httpx.RequireStaff(http.HandlerFunc(h.Delete)))
}

type customerBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type createBookingRequest struct {
	ProviderID string       `json:"provider_id"`
	ServiceID  string       `json:"service_id"`
	Date       string       `json:"date"`
	StartTime  string       `json:"start_time"`
	Customer   customerBody `json:"customer"`
}

type checkRequest struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type appointmentResponse struct {
	ID              string         `json:"id"`
	ProviderID      string         `json:"provider_id"`
	ServiceID       string         `json:"service_id"`
	Customer        model.Customer `json:"customer"`
	Date            string         `json:"date"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
	Status          string         `json:"status"`
	ReminderSentAt  string         `json:"reminder_sent_at,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

type availabilityResponse struct {
	ProviderID string   `json:"provider_id"`
	ServiceID  string   `json:"service_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if providerID == "" || serviceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id and service_id are required")
		return
	}
	day, err := availability.ParseDay(q.Get("date"), h.loc)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	slots, err := h.bookings.Availability(r.Context(), providerID, serviceID, day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, availability.FormatClock(s))
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityResponse{
		ProviderID: providerID,
		ServiceID:  serviceID,
		Date:       day.Format(availability.DayLayout),
		Slots:      out,
	})
}

func (h *BookingHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, start, err := h.parseSlot(req.Date, req.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := h.bookings.Check(r.Context(), strings.TrimSpace(req.ProviderID), strings.TrimSpace(req.ServiceID), day, start)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

// Create books an appointment. A bearer token links it to the caller; otherwise it is a guest
// booking. Replays of a known Idempotency-Key return 200 with the original appointment.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, start, err := h.parseSlot(req.Date, req.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	customer := model.Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Email: strings.TrimSpace(req.Customer.Email),
		Phone: strings.TrimSpace(req.Customer.Phone),
		Lang:  i18n.FromAcceptLanguage(r.Header.Get("Accept-Language")),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		customer.UserID = claims.Subject
		if claims.Lang != "" {
			customer.Lang = i18n.Normalize(claims.Lang)
		}
	}

	res, err := h.bookings.Book(r.Context(), booking.BookRequest{
		ProviderID:     strings.TrimSpace(req.ProviderID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Date:           day,
		StartMinute:    start,
		Customer:       customer,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toResponse(res.Appointment))
}

func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	appts, err := h.bookings.ListForUser(r.Context(), claims.Subject, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toResponses(appts)})
}

func (h *BookingHandler) CancelMine(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	appt, err := h.lifecycle.Transition(r.Context(), r.PathValue("id"), model.StatusCancelled,
		booking.Actor{Kind: booking.ActorCustomer, UserID: claims.Subject})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) ListDay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := availability.ParseDay(q.Get("date"), h.loc)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	appts, err := h.bookings.ListForDay(r.Context(), day, strings.TrimSpace(q.Get("provider_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toResponses(appts)})
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := model.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	appt, err := h.lifecycle.Transition(r.Context(), r.PathValue("id"), to,
		booking.Actor{Kind: booking.ActorStaff, UserID: claims.Subject})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Purge(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) parseSlot(date, start string) (time.Time, int, error) {
	day, err := availability.ParseDay(strings.TrimSpace(date), h.loc)
	if err != nil {
		return time.Time{}, 0, errors.New("invalid date, expected YYYY-MM-DD")
	}
	minute, err := availability.ParseClock(strings.TrimSpace(start))
	if err != nil {
		return time.Time{}, 0, errors.New("invalid start_time, expected HH:MM")
	}
	return day, minute, nil
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, apperr.ErrAvailabilityConflict):
		httpx.WriteError(w, http.StatusConflict, "time slot is no longer available")
	case errors.Is(err, apperr.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrInactiveProvider):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "provider is not accepting bookings")
	case errors.Is(err, apperr.ErrIdempotencyConflict):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "idempotency key was used with a different request")
	case errors.Is(err, apperr.ErrBusy):
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "booking is busy, retry shortly")
	default:
		// Configuration errors land here too; they are operator problems, not caller ones.
		h.logger.Error("booking request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func toResponse(a model.Appointment) appointmentResponse {
	out := appointmentResponse{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		ServiceID:       a.ServiceID,
		Customer:        a.Customer,
		Date:            a.Date.Format(availability.DayLayout),
		StartTime:       availability.FormatClock(a.StartMinute),
		EndTime:         availability.FormatClock(a.EndMinute()),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.ReminderSentAt != nil {
		out.ReminderSentAt = a.ReminderSentAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toResponses(appts []model.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toResponse(a))
	}
	return out
}
