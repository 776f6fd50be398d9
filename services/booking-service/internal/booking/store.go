package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
)

// IdempotencyRecord ties a client supplied Idempotency-Key to the appointment it created.
// Fingerprint identifies the request body so a reused key with different content is rejected.
type IdempotencyRecord struct {
	Key           string
	Fingerprint   string
	AppointmentID string
}

// DayTx is the storage view inside the provider/day critical section. Everything done through it
// commits atomically when the callback returns nil.
type DayTx interface {
	availability.AppointmentLister
	Get(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	FindIdempotency(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error
	AddEvent(ctx context.Context, evt outbox.Event) error
}

// AppointmentTx is the storage view while one appointment row is locked.
type AppointmentTx interface {
	SetStatus(ctx context.Context, id string, to model.Status) (time.Time, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
	AddEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	availability.AppointmentLister
	// WithProviderDayLock serializes fn against every other booking for providerID on day.
	// Bookings for other providers or days never wait on it.
	WithProviderDayLock(ctx context.Context, providerID string, day time.Time, fn func(ctx context.Context, tx DayTx) error) error
	// WithAppointment locks the appointment row for the duration of fn. A missing id yields apperr.ErrNotFound.
	WithAppointment(ctx context.Context, id string, fn func(ctx context.Context, appt model.Appointment, tx AppointmentTx) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error)
	ListByDay(ctx context.Context, day time.Time, providerID string) ([]model.Appointment, error)
	Delete(ctx context.Context, id string) error
}
