package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/libs/events"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ActorKind string

const (
	ActorStaff    ActorKind = "staff"
	ActorCustomer ActorKind = "customer"
)

type Actor struct {
	Kind   ActorKind
	UserID string
}

var transitions = map[model.Status][]model.Status{
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled},
}

// CanTransition reports whether from -> to is a lifecycle edge. Terminal states have none.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Lifecycle struct {
	store   Store
	catalog catalog.Store
	logger  *slog.Logger
	now     func() time.Time
	tracer  trace.Tracer
}

func NewLifecycle(store Store, cat catalog.Store, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:   store,
		catalog: cat,
		logger:  logger,
		now:     time.Now,
		tracer:  otelx.Tracer("booking"),
	}
}

// Transition moves appointment id to status to on behalf of actor. Customers may only cancel
// their own appointments. Confirmation and staff cancellation notify the linked user, if any.
func (l *Lifecycle) Transition(ctx context.Context, id string, to model.Status, actor Actor) (out model.Appointment, err error) {
	ctx, span := l.tracer.Start(ctx, "booking.Transition", trace.WithAttributes(
		attribute.String("appointment_id", id),
		attribute.String("to", string(to)),
		attribute.String("actor", string(actor.Kind)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	err = l.store.WithAppointment(ctx, id, func(ctx context.Context, appt model.Appointment, tx AppointmentTx) error {
		if actor.Kind == ActorCustomer {
			if appt.Customer.UserID == "" || appt.Customer.UserID != actor.UserID {
				return fmt.Errorf("%w: appointment %s belongs to another customer", apperr.ErrForbidden, id)
			}
			if to != model.StatusCancelled {
				return fmt.Errorf("%w: customers may only cancel", apperr.ErrForbidden)
			}
		}
		if !CanTransition(appt.Status, to) {
			return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, appt.Status, to)
		}

		from := appt.Status
		updatedAt, err := tx.SetStatus(ctx, id, to)
		if err != nil {
			return err
		}
		appt.Status = to
		appt.UpdatedAt = updatedAt

		evt, err := outbox.NewEvent(id, events.TypeAppointmentStatus, events.AppointmentStatusChanged{
			AppointmentID: id,
			ProviderID:    appt.ProviderID,
			From:          string(from),
			To:            string(to),
			Actor:         string(actor.Kind),
			ChangedAt:     updatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := tx.AddEvent(ctx, evt); err != nil {
			return err
		}

		if kind, ok := notificationKind(to, actor); ok && appt.Customer.UserID != "" {
			if err := l.notify(ctx, tx, kind, appt); err != nil {
				return err
			}
		}
		out = appt
		return nil
	})
	return out, err
}

// Remind emits the reminder notification for a confirmed appointment at most once.
// It reports whether a notification was enqueued.
func (l *Lifecycle) Remind(ctx context.Context, id string) (bool, error) {
	sent := false
	err := l.store.WithAppointment(ctx, id, func(ctx context.Context, appt model.Appointment, tx AppointmentTx) error {
		if appt.Status != model.StatusConfirmed || appt.ReminderSentAt != nil {
			return nil
		}
		if appt.Customer.UserID != "" {
			if err := l.notify(ctx, tx, events.KindAppointmentReminder, appt); err != nil {
				return err
			}
			sent = true
		}
		return tx.MarkReminded(ctx, id, l.now())
	})
	return sent, err
}

// Purge hard-deletes an appointment regardless of its status.
func (l *Lifecycle) Purge(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	l.logger.Info("appointment purged", "appointment_id", id)
	return nil
}

func notificationKind(to model.Status, actor Actor) (string, bool) {
	switch to {
	case model.StatusConfirmed:
		return events.KindAppointmentConfirmed, true
	case model.StatusCancelled:
		// The customer who cancels already knows.
		if actor.Kind == ActorCustomer {
			return "", false
		}
		return events.KindAppointmentCancelled, true
	}
	return "", false
}

func (l *Lifecycle) notify(ctx context.Context, tx AppointmentTx, kind string, appt model.Appointment) error {
	var name i18n.Text
	if svc, err := l.catalog.GetService(ctx, appt.ServiceID); err == nil {
		name = svc.Name
	} else {
		l.logger.Warn("service lookup for notification failed", "service_id", appt.ServiceID, "err", err)
	}
	evt, err := outbox.NewEvent(appt.ID, events.TypeNotificationRequested, notificationFor(kind, appt, name))
	if err != nil {
		return err
	}
	// One customer's notifications share a partition so they arrive in order.
	evt.Key = appt.Customer.UserID
	return tx.AddEvent(ctx, evt)
}
