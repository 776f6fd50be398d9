package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
)

// memStore is an in-memory Store. Per-key mutexes stand in for advisory locks and buffered
// writes stand in for transactions: nothing is visible until the callback returns nil.
type memStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	idem   map[string]IdempotencyRecord
	events []outbox.Event

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// lockDelay widens the critical section so races would surface without the lock.
	lockDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		appts: map[string]model.Appointment{},
		idem:  map[string]IdempotencyRecord{},
		locks: map[string]*sync.Mutex{},
	}
}

func (s *memStore) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *memStore) ListActive(_ context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.ProviderID == providerID && a.Date.Equal(day) && a.Status.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (s *memStore) WithProviderDayLock(ctx context.Context, providerID string, day time.Time, fn func(ctx context.Context, tx DayTx) error) error {
	l := s.lockFor(providerID + "|" + day.Format(availability.DayLayout))
	l.Lock()
	defer l.Unlock()

	tx := &memDayTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.lockDelay > 0 {
		time.Sleep(s.lockDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range tx.inserts {
		s.appts[a.ID] = a
	}
	for _, r := range tx.idem {
		s.idem[r.Key] = r
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *memStore) WithAppointment(ctx context.Context, id string, fn func(ctx context.Context, appt model.Appointment, tx AppointmentTx) error) error {
	l := s.lockFor("appt|" + id)
	l.Lock()
	defer l.Unlock()

	appt, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	tx := &memApptTx{}
	if err := fn(ctx, appt, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.appts[id]
	if tx.status != "" {
		a.Status = tx.status
		a.UpdatedAt = tx.updated
	}
	if tx.reminded != nil {
		a.ReminderSentAt = tx.reminded
	}
	s.appts[id] = a
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	return a, nil
}

func (s *memStore) ListByUser(_ context.Context, userID string, _ int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.Customer.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListByDay(_ context.Context, day time.Time, providerID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.Date.Equal(day) && (providerID == "" || a.ProviderID == providerID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appts[id]; !ok {
		return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	delete(s.appts, id)
	return nil
}

func (s *memStore) eventsOfType(t string) []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Event
	for _, e := range s.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type memDayTx struct {
	store   *memStore
	inserts []model.Appointment
	idem    []IdempotencyRecord
	events  []outbox.Event
}

func (tx *memDayTx) ListActive(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	out, err := tx.store.ListActive(ctx, providerID, day)
	if err != nil {
		return nil, err
	}
	for _, a := range tx.inserts {
		if a.ProviderID == providerID && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tx *memDayTx) Get(ctx context.Context, id string) (model.Appointment, error) {
	return tx.store.Get(ctx, id)
}

func (tx *memDayTx) Insert(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	tx.inserts = append(tx.inserts, appt)
	return appt, nil
}

func (tx *memDayTx) FindIdempotency(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	r, ok := tx.store.idem[key]
	return r, ok, nil
}

func (tx *memDayTx) SaveIdempotency(_ context.Context, rec IdempotencyRecord) error {
	tx.idem = append(tx.idem, rec)
	return nil
}

func (tx *memDayTx) AddEvent(_ context.Context, evt outbox.Event) error {
	tx.events = append(tx.events, evt)
	return nil
}

type memApptTx struct {
	status   model.Status
	updated  time.Time
	reminded *time.Time
	events   []outbox.Event
}

func (tx *memApptTx) SetStatus(_ context.Context, _ string, to model.Status) (time.Time, error) {
	tx.status = to
	tx.updated = time.Now()
	return tx.updated, nil
}

func (tx *memApptTx) MarkReminded(_ context.Context, _ string, at time.Time) error {
	tx.reminded = &at
	return nil
}

func (tx *memApptTx) AddEvent(_ context.Context, evt outbox.Event) error {
	tx.events = append(tx.events, evt)
	return nil
}
