package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/libs/events"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// fingerprintNamespace scopes request fingerprints derived with uuid.NewSHA1.
var fingerprintNamespace = uuid.MustParse("6f1f4a52-52a4-4c57-9c1b-2f0a4a3f6d10")

type Config struct {
	// HorizonDays bounds how far ahead a booking may be made. Zero disables the bound.
	HorizonDays int
	Location    *time.Location
	Now         func() time.Time
}

type Manager struct {
	store      Store
	catalog    catalog.Store
	reconciler *availability.Reconciler
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewManager(store Store, cat catalog.Store, reconciler *availability.Reconciler, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:      store,
		catalog:    cat,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		tracer:     otelx.Tracer("booking"),
	}
}

type BookRequest struct {
	ProviderID     string
	ServiceID      string
	Date           time.Time
	StartMinute    int
	Customer       model.Customer
	IdempotencyKey string
}

// Booking is the result of Book. Replayed is set when an earlier request with the same
// idempotency key already created the appointment.
type Booking struct {
	Appointment model.Appointment
	Replayed    bool
}

// Availability returns the offerable start minutes for a service with providerID on day.
func (m *Manager) Availability(ctx context.Context, providerID, serviceID string, day time.Time) ([]int, error) {
	svc, err := m.service(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return m.reconciler.ComputeAvailable(ctx, m.store, providerID, day, svc.DurationMinutes)
}

// Check is the soft pre-submit check. It takes no lock, so a true result can still lose at commit.
func (m *Manager) Check(ctx context.Context, providerID, serviceID string, day time.Time, start int) (bool, error) {
	slots, err := m.Availability(ctx, providerID, serviceID, day)
	if err != nil {
		return false, err
	}
	return availability.Contains(slots, start), nil
}

// Book re-validates the requested slot under the provider/day lock and inserts a pending
// appointment. Losing a race yields apperr.ErrAvailabilityConflict and nothing is written.
func (m *Manager) Book(ctx context.Context, req BookRequest) (res Booking, err error) {
	ctx, span := m.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("date", req.Date.Format(availability.DayLayout)),
		attribute.Int("start_minute", req.StartMinute),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := m.validate(req); err != nil {
		return Booking{}, err
	}

	svc, err := m.service(ctx, req.ServiceID)
	if err != nil {
		return Booking{}, err
	}
	provider, err := m.catalog.GetProvider(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Booking{}, fmt.Errorf("%w: provider %s", apperr.ErrNotFound, req.ProviderID)
		}
		return Booking{}, err
	}
	if !provider.Active {
		return Booking{}, fmt.Errorf("%w: %s", apperr.ErrInactiveProvider, req.ProviderID)
	}

	fingerprint := requestFingerprint(req)
	err = m.store.WithProviderDayLock(ctx, req.ProviderID, req.Date, func(ctx context.Context, tx DayTx) error {
		if req.IdempotencyKey != "" {
			rec, found, err := tx.FindIdempotency(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if rec.Fingerprint != fingerprint {
					return apperr.ErrIdempotencyConflict
				}
				appt, err := tx.Get(ctx, rec.AppointmentID)
				if err != nil {
					return err
				}
				res = Booking{Appointment: appt, Replayed: true}
				return nil
			}
		}

		slots, err := m.reconciler.ComputeAvailable(ctx, tx, req.ProviderID, req.Date, svc.DurationMinutes)
		if err != nil {
			return err
		}
		if !availability.Contains(slots, req.StartMinute) {
			return fmt.Errorf("%w: %s %s %s", apperr.ErrAvailabilityConflict, req.ProviderID,
				req.Date.Format(availability.DayLayout), availability.FormatClock(req.StartMinute))
		}

		appt, err := tx.Insert(ctx, model.Appointment{
			ID:              uuid.NewString(),
			ProviderID:      req.ProviderID,
			ServiceID:       req.ServiceID,
			Customer:        req.Customer,
			Date:            req.Date,
			StartMinute:     req.StartMinute,
			DurationMinutes: svc.DurationMinutes,
			Status:          model.StatusPending,
		})
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.SaveIdempotency(ctx, IdempotencyRecord{
				Key:           req.IdempotencyKey,
				Fingerprint:   fingerprint,
				AppointmentID: appt.ID,
			}); err != nil {
				return err
			}
		}

		evt, err := outbox.NewEvent(appt.ID, events.TypeAppointmentBooked, events.AppointmentBooked{
			AppointmentID:   appt.ID,
			ProviderID:      appt.ProviderID,
			ServiceID:       appt.ServiceID,
			UserID:          appt.Customer.UserID,
			Date:            appt.Date.Format(availability.DayLayout),
			StartTime:       availability.FormatClock(appt.StartMinute),
			DurationMinutes: appt.DurationMinutes,
		})
		if err != nil {
			return err
		}
		if err := tx.AddEvent(ctx, evt); err != nil {
			return err
		}
		res = Booking{Appointment: appt}
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	if !res.Replayed {
		m.logger.Info("appointment booked",
			"appointment_id", res.Appointment.ID,
			"provider_id", req.ProviderID,
			"date", req.Date.Format(availability.DayLayout),
			"start", availability.FormatClock(req.StartMinute),
		)
	}
	return res, nil
}

func (m *Manager) ListForUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	return m.store.ListByUser(ctx, userID, limit)
}

func (m *Manager) ListForDay(ctx context.Context, day time.Time, providerID string) ([]model.Appointment, error) {
	return m.store.ListByDay(ctx, day, providerID)
}

func (m *Manager) Get(ctx context.Context, id string) (model.Appointment, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) service(ctx context.Context, id string) (catalog.Service, error) {
	svc, err := m.catalog.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Service{}, fmt.Errorf("%w: service %s", apperr.ErrNotFound, id)
		}
		return catalog.Service{}, err
	}
	if err := catalog.ValidateService(svc); err != nil {
		return catalog.Service{}, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	return svc, nil
}

func (m *Manager) validate(req BookRequest) error {
	var problems []string
	if req.ProviderID == "" {
		problems = append(problems, "provider_id is required")
	}
	if req.ServiceID == "" {
		problems = append(problems, "service_id is required")
	}
	if req.StartMinute < 0 || req.StartMinute >= 24*60 {
		problems = append(problems, "start time is out of range")
	}
	c := req.Customer
	if c.UserID == "" {
		if strings.TrimSpace(c.Name) == "" {
			problems = append(problems, "customer name is required")
		}
		if c.Email == "" && c.Phone == "" {
			problems = append(problems, "guest bookings need an email or phone")
		}
	}

	today := availability.DayOf(m.cfg.Now(), m.cfg.Location)
	if req.Date.Before(today) {
		problems = append(problems, "date is in the past")
	}
	if m.cfg.HorizonDays > 0 && req.Date.After(today.AddDate(0, 0, m.cfg.HorizonDays)) {
		problems = append(problems, fmt.Sprintf("date is more than %d days ahead", m.cfg.HorizonDays))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperr.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// requestFingerprint derives a stable id for the booking request body.
func requestFingerprint(req BookRequest) string {
	parts := []string{
		req.ProviderID,
		req.ServiceID,
		req.Date.Format(availability.DayLayout),
		availability.FormatClock(req.StartMinute),
		req.Customer.UserID,
		strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		strings.TrimSpace(req.Customer.Phone),
		strings.TrimSpace(req.Customer.Name),
	}
	return uuid.NewSHA1(fingerprintNamespace, []byte(strings.Join(parts, "|"))).String()
}
