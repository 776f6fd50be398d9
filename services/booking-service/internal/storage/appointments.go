package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
)

const DefaultTxTimeout = 5 * time.Second

const appointmentColumns = `
	id::text, provider_id, service_id, COALESCE(user_id, ''), customer_name, customer_email,
	customer_phone, customer_lang, to_char(appointment_date, 'YYYY-MM-DD'), start_minute,
	duration_minutes, status, reminder_sent_at, created_at, updated_at`

// AppointmentRepository implements booking.Store on Postgres.
type AppointmentRepository struct {
	pool      *db.Pool
	outbox    *outbox.Repository
	loc       *time.Location
	txTimeout time.Duration
}

// NewAppointmentRepository returns a repository reading dates in loc. txTimeout bounds lock waits
// and statements inside the booking transaction.
func NewAppointmentRepository(pool *db.Pool, ob *outbox.Repository, loc *time.Location, txTimeout time.Duration) *AppointmentRepository {
	if loc == nil {
		loc = time.UTC
	}
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &AppointmentRepository{pool: pool, outbox: ob, loc: loc, txTimeout: txTimeout}
}

var _ booking.Store = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) WithProviderDayLock(ctx context.Context, providerID string, day time.Time, fn func(ctx context.Context, tx booking.DayTx) error) error {
	err := r.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := r.setTimeouts(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, dayLockKey(providerID, day)); err != nil {
			return err
		}
		return fn(ctx, &dayTx{repo: r, tx: tx})
	})
	return classify(err)
}

func (r *AppointmentRepository) WithAppointment(ctx context.Context, id string, fn func(ctx context.Context, appt model.Appointment, tx booking.AppointmentTx) error) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	err := r.pool.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := r.setTimeouts(ctx, tx); err != nil {
			return err
		}
		appt, err := r.scanOne(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if db.IsNoRows(err) {
				return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
			}
			return err
		}
		return fn(ctx, appt, &appointmentTx{repo: r, tx: tx})
	})
	return classify(err)
}

// ListActive reads outside any lock; used for display.
func (r *AppointmentRepository) ListActive(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	return r.listActive(ctx, r.pool, providerID, day)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	return r.get(ctx, r.pool, id)
}

// ListByUser returns the customer's history, cancelled appointments included, newest first.
func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// ListByDay returns every appointment on day in any status. An empty providerID means all providers.
func (r *AppointmentRepository) ListByDay(ctx context.Context, day time.Time, providerID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1::date
			AND ($2 = '' OR provider_id = $2)
		ORDER BY provider_id, start_minute
	`, day.Format(availability.DayLayout), providerID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	return nil
}

// DueReminders returns ids of confirmed, not yet reminded appointments starting in [from, to).
// Both bounds are compared as wall-clock (date, minute) pairs in the business location.
func (r *AppointmentRepository) DueReminders(ctx context.Context, from, to time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	fromDay, fromMinute := r.wallMinute(from)
	toDay, toMinute := r.wallMinute(to)
	rows, err := r.pool.Query(ctx, `
		SELECT id::text
		FROM appointments
		WHERE status = 'confirmed'
			AND reminder_sent_at IS NULL
			AND (appointment_date, start_minute) >= ($1::date, $2::int)
			AND (appointment_date, start_minute) < ($3::date, $4::int)
		ORDER BY appointment_date, start_minute
		LIMIT $5
	`, fromDay, fromMinute, toDay, toMinute, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// wallMinute returns t's calendar day in the business location and the first whole minute at or
// after t. Rounding up keeps start >= from and start < to exact for appointments on minute marks.
func (r *AppointmentRepository) wallMinute(t time.Time) (string, int) {
	t = t.In(r.loc)
	minute := t.Hour()*60 + t.Minute()
	if t.Second() > 0 || t.Nanosecond() > 0 {
		minute++
	}
	return t.Format(availability.DayLayout), minute
}

// dayLockKey names the advisory lock serializing bookings for one provider on one day.
func dayLockKey(providerID string, day time.Time) string {
	return providerID + "|" + day.Format(availability.DayLayout)
}

func (r *AppointmentRepository) setTimeouts(ctx context.Context, tx pgx.Tx) error {
	ms := strconv.FormatInt(r.txTimeout.Milliseconds(), 10) + "ms"
	_, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true), set_config('statement_timeout', $1, true)`, ms)
	return err
}

func (r *AppointmentRepository) listActive(ctx context.Context, q querier, providerID string, day time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND appointment_date = $2::date
			AND status IN ('pending', 'confirmed')
		ORDER BY start_minute
	`, providerID, day.Format(availability.DayLayout))
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *AppointmentRepository) get(ctx context.Context, q querier, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	appt, err := r.scanOne(q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Appointment{}, fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *AppointmentRepository) scanOne(row pgx.Row) (model.Appointment, error) {
	var (
		appt   model.Appointment
		day    string
		status string
	)
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.ServiceID,
		&appt.Customer.UserID,
		&appt.Customer.Name,
		&appt.Customer.Email,
		&appt.Customer.Phone,
		&appt.Customer.Lang,
		&day,
		&appt.StartMinute,
		&appt.DurationMinutes,
		&status,
		&appt.ReminderSentAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Date, err = availability.ParseDay(day, r.loc); err != nil {
		return model.Appointment{}, err
	}
	if appt.Status, err = model.ParseStatus(status); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) scanAll(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// classify maps Postgres failures inside the booking transaction onto domain errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == db.CodeExclusionViolation:
		return fmt.Errorf("%w: %s", apperr.ErrAvailabilityConflict, pgErr.ConstraintName)
	case pgErr.Code == db.CodeUniqueViolation && pgErr.TableName == "booking_idempotency_keys":
		return apperr.ErrIdempotencyConflict
	case db.IsRetryable(err):
		return fmt.Errorf("%w: %s", apperr.ErrBusy, pgErr.Message)
	}
	return err
}

type dayTx struct {
	repo *AppointmentRepository
	tx   pgx.Tx
}

func (t *dayTx) ListActive(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	return t.repo.listActive(ctx, t.tx, providerID, day)
}

func (t *dayTx) Get(ctx context.Context, id string) (model.Appointment, error) {
	return t.repo.get(ctx, t.tx, id)
}

func (t *dayTx) Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	var userID *string
	if appt.Customer.UserID != "" {
		userID = &appt.Customer.UserID
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, provider_id, service_id, user_id, customer_name, customer_email, customer_phone, customer_lang,
			 appointment_date, start_minute, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10, $11, $12)
		RETURNING created_at, updated_at
	`, appt.ID, appt.ProviderID, appt.ServiceID, userID, appt.Customer.Name, appt.Customer.Email,
		appt.Customer.Phone, appt.Customer.Lang, appt.Date.Format(availability.DayLayout), appt.StartMinute,
		appt.DurationMinutes, string(appt.Status)).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (t *dayTx) FindIdempotency(ctx context.Context, key string) (booking.IdempotencyRecord, bool, error) {
	rec := booking.IdempotencyRecord{Key: key}
	err := t.tx.QueryRow(ctx, `
		SELECT fingerprint, appointment_id::text
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1
	`, key).Scan(&rec.Fingerprint, &rec.AppointmentID)
	if err != nil {
		if db.IsNoRows(err) {
			return booking.IdempotencyRecord{}, false, nil
		}
		return booking.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (t *dayTx) SaveIdempotency(ctx context.Context, rec booking.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key, fingerprint, appointment_id)
		VALUES ($1, $2, $3)
	`, rec.Key, rec.Fingerprint, rec.AppointmentID)
	return err
}

func (t *dayTx) AddEvent(ctx context.Context, evt outbox.Event) error {
	return t.repo.outbox.Insert(ctx, t.tx, evt)
}

type appointmentTx struct {
	repo *AppointmentRepository
	tx   pgx.Tx
}

func (t *appointmentTx) SetStatus(ctx context.Context, id string, to model.Status) (time.Time, error) {
	var updatedAt time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, id, string(to)).Scan(&updatedAt)
	return updatedAt, err
}

func (t *appointmentTx) MarkReminded(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE appointments SET reminder_sent_at = $2 WHERE id = $1`, id, at)
	return err
}

func (t *appointmentTx) AddEvent(ctx context.Context, evt outbox.Event) error {
	return t.repo.outbox.Insert(ctx, t.tx, evt)
}
