package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/libs/events"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

// Monday morning; the test days below are later that week.
var testNow = time.Date(2030, 6, 3, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	store     *memStore
	manager   *Manager
	lifecycle *Lifecycle
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cat := catalog.StaticStore{
		Services: map[string]catalog.Service{
			"cut":    {ID: "cut", Name: i18n.Text{"de": "Haarschnitt", "en": "Haircut"}, DurationMinutes: 60},
			"trim":   {ID: "trim", Name: i18n.Text{"en": "Beard trim"}, DurationMinutes: 30},
			"broken": {ID: "broken", DurationMinutes: 0},
		},
		Providers: map[string]catalog.Provider{
			"p1":   {ID: "p1", Name: "Alex", Active: true},
			"p2":   {ID: "p2", Name: "Sam", Active: true},
			"gone": {ID: "gone", Name: "Kim", Active: false},
		},
	}
	now := func() time.Time { return testNow }
	reconciler := &availability.Reconciler{
		Generator: &availability.Generator{Calendar: availability.DefaultCalendar(), Step: 30, Providers: cat},
		Now:       now,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	return testEnv{
		store:     store,
		manager:   NewManager(store, cat, reconciler, Config{HorizonDays: 30, Location: time.UTC, Now: now}, logger),
		lifecycle: NewLifecycle(store, cat, logger),
	}
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := availability.ParseDay(s, time.UTC)
	if err != nil {
		t.Fatalf("parse day %q: %v", s, err)
	}
	return d
}

func userRequest(day time.Time, start int, user string) BookRequest {
	return BookRequest{
		ProviderID:  "p1",
		ServiceID:   "cut",
		Date:        day,
		StartMinute: start,
		Customer:    model.Customer{UserID: user, Name: "Customer " + user, Lang: "en"},
	}
}

func TestBook_ConcurrentSameSlotExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	env.store.lockDelay = 2 * time.Millisecond
	day := mustDay(t, "2030-06-04")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := env.manager.Book(context.Background(), userRequest(day, 10*60, fmt.Sprintf("u%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrAvailabilityConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", n-1, wins, conflicts)
	}
	appts, _ := env.store.ListActive(context.Background(), "p1", day)
	if len(appts) != 1 {
		t.Fatalf("expected one stored appointment, got %d", len(appts))
	}
	if got := len(env.store.eventsOfType(events.TypeAppointmentBooked)); got != 1 {
		t.Fatalf("expected one booked event, got %d", got)
	}
}

func TestBook_RandomSequenceNeverOverlaps(t *testing.T) {
	env := newTestEnv(t)
	days := []time.Time{mustDay(t, "2030-06-04"), mustDay(t, "2030-06-08")}
	rng := rand.New(rand.NewSource(42))
	services := []string{"cut", "trim"}
	providers := []string{"p1", "p2"}

	var booked []model.Appointment
	for i := 0; i < 300; i++ {
		req := BookRequest{
			ProviderID:  providers[rng.Intn(len(providers))],
			ServiceID:   services[rng.Intn(len(services))],
			Date:        days[rng.Intn(len(days))],
			StartMinute: 8*60 + 15*rng.Intn(48),
			Customer:    model.Customer{UserID: fmt.Sprintf("u%d", i), Name: "x"},
		}
		res, err := env.manager.Book(context.Background(), req)
		if err != nil {
			if !errors.Is(err, apperr.ErrAvailabilityConflict) {
				t.Fatalf("book %d: unexpected error %v", i, err)
			}
			continue
		}
		booked = append(booked, res.Appointment)
		if i%7 == 0 {
			if _, err := env.lifecycle.Transition(context.Background(), res.Appointment.ID, model.StatusCancelled, Actor{Kind: ActorStaff}); err != nil {
				t.Fatalf("cancel: %v", err)
			}
		}
	}
	if len(booked) == 0 {
		t.Fatalf("expected some bookings to succeed")
	}

	for _, p := range providers {
		for _, d := range days {
			appts, _ := env.store.ListActive(context.Background(), p, d)
			for i := range appts {
				a := appts[i]
				hours, _ := availability.DefaultCalendar().HoursFor(d)
				if a.StartMinute < hours.Open || a.EndMinute() > hours.Close {
					t.Fatalf("appointment %s outside business hours: %d-%d", a.ID, a.StartMinute, a.EndMinute())
				}
				for j := i + 1; j < len(appts); j++ {
					if a.Overlaps(appts[j].StartMinute, appts[j].EndMinute()) {
						t.Fatalf("overlap on %s %s: %d-%d and %d-%d", p, d.Format(availability.DayLayout),
							a.StartMinute, a.EndMinute(), appts[j].StartMinute, appts[j].EndMinute())
					}
				}
			}
		}
	}
}

func TestAvailability_BookingAndCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	day := mustDay(t, "2030-06-04")

	res, err := env.manager.Book(ctx, userRequest(day, 10*60, "u1"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if res.Appointment.Status != model.StatusPending || res.Appointment.DurationMinutes != 60 {
		t.Fatalf("unexpected appointment: %+v", res.Appointment)
	}

	slots, err := env.manager.Availability(ctx, "p1", "cut", day)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	for _, blocked := range []int{9*60 + 30, 10 * 60, 10*60 + 30} {
		if availability.Contains(slots, blocked) {
			t.Fatalf("expected %s to be blocked, slots=%v", availability.FormatClock(blocked), slots)
		}
	}
	for _, free := range []int{9 * 60, 11 * 60} {
		if !availability.Contains(slots, free) {
			t.Fatalf("expected %s to be free, slots=%v", availability.FormatClock(free), slots)
		}
	}
	ok, err := env.manager.Check(ctx, "p1", "cut", day, 10*60)
	if err != nil || ok {
		t.Fatalf("expected check to fail for booked slot, ok=%v err=%v", ok, err)
	}

	if _, err := env.lifecycle.Transition(ctx, res.Appointment.ID, model.StatusCancelled, Actor{Kind: ActorStaff}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	after, err := env.manager.Availability(ctx, "p1", "cut", day)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !availability.Contains(after, 10*60) || len(after) <= len(slots) {
		t.Fatalf("expected cancel to free 10:00, before=%v after=%v", slots, after)
	}
}

func TestBook_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	day := mustDay(t, "2030-06-05")

	req := userRequest(day, 14*60, "u1")
	req.IdempotencyKey = "key-1"
	first, err := env.manager.Book(ctx, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first booking must not be a replay")
	}
	second, err := env.manager.Book(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Appointment.ID != first.Appointment.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Appointment.ID, second)
	}
	if got := len(env.store.eventsOfType(events.TypeAppointmentBooked)); got != 1 {
		t.Fatalf("expected one booked event, got %d", got)
	}

	changed := req
	changed.StartMinute = 15 * 60
	if _, err := env.manager.Book(ctx, changed); !errors.Is(err, apperr.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestBook_Rejections(t *testing.T) {
	day := mustDay(t, "2030-06-04")
	cases := []struct {
		name string
		mod  func(*BookRequest)
		want error
	}{
		{"inactive provider", func(r *BookRequest) { r.ProviderID = "gone" }, apperr.ErrInactiveProvider},
		{"unknown provider", func(r *BookRequest) { r.ProviderID = "nobody" }, apperr.ErrNotFound},
		{"unknown service", func(r *BookRequest) { r.ServiceID = "nothing" }, apperr.ErrNotFound},
		{"zero duration service", func(r *BookRequest) { r.ServiceID = "broken" }, apperr.ErrConfiguration},
		{"past date", func(r *BookRequest) { r.Date = mustDay(t, "2030-06-01") }, apperr.ErrInvalidRequest},
		{"beyond horizon", func(r *BookRequest) { r.Date = mustDay(t, "2030-09-01") }, apperr.ErrInvalidRequest},
		{"guest without contact", func(r *BookRequest) { r.Customer = model.Customer{Name: "Guest"} }, apperr.ErrInvalidRequest},
		{"missing provider", func(r *BookRequest) { r.ProviderID = "" }, apperr.ErrInvalidRequest},
		{"off grid start", func(r *BookRequest) { r.StartMinute = 10*60 + 10 }, apperr.ErrAvailabilityConflict},
		{"after closing", func(r *BookRequest) { r.StartMinute = 18*60 + 30 }, apperr.ErrAvailabilityConflict},
		{"closed day", func(r *BookRequest) { r.Date = mustDay(t, "2030-06-09") }, apperr.ErrAvailabilityConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := userRequest(day, 10*60, "u1")
			tc.mod(&req)
			if _, err := env.manager.Book(context.Background(), req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(env.store.appts) != 0 {
				t.Fatalf("rejected booking must not persist anything")
			}
		})
	}
}

func TestBook_GuestWithEmail(t *testing.T) {
	env := newTestEnv(t)
	req := userRequest(mustDay(t, "2030-06-04"), 9*60, "")
	req.Customer = model.Customer{Name: "Guest", Email: "guest@example.com"}
	res, err := env.manager.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if res.Appointment.Customer.UserID != "" || res.Appointment.Customer.Email != "guest@example.com" {
		t.Fatalf("unexpected customer: %+v", res.Appointment.Customer)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusPending, model.StatusConfirmed, true},
		{model.StatusPending, model.StatusCancelled, true},
		{model.StatusPending, model.StatusCompleted, false},
		{model.StatusConfirmed, model.StatusCompleted, true},
		{model.StatusConfirmed, model.StatusCancelled, true},
		{model.StatusConfirmed, model.StatusPending, false},
		{model.StatusCompleted, model.StatusCancelled, false},
		{model.StatusCancelled, model.StatusConfirmed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestTransition_Rules(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2030-06-04")
	staff := Actor{Kind: ActorStaff}

	t.Run("invalid edge leaves status unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		res, _ := env.manager.Book(ctx, userRequest(day, 10*60, "u1"))
		if _, err := env.lifecycle.Transition(ctx, res.Appointment.ID, model.StatusCompleted, staff); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("expected invalid transition, got %v", err)
		}
		got, _ := env.store.Get(ctx, res.Appointment.ID)
		if got.Status != model.StatusPending {
			t.Fatalf("status changed to %s", got.Status)
		}
	})

	t.Run("terminal states stay terminal", func(t *testing.T) {
		env := newTestEnv(t)
		res, _ := env.manager.Book(ctx, userRequest(day, 10*60, "u1"))
		id := res.Appointment.ID
		for _, to := range []model.Status{model.StatusConfirmed, model.StatusCompleted} {
			if _, err := env.lifecycle.Transition(ctx, id, to, staff); err != nil {
				t.Fatalf("transition to %s: %v", to, err)
			}
		}
		if _, err := env.lifecycle.Transition(ctx, id, model.StatusCancelled, staff); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("expected invalid transition from completed, got %v", err)
		}
	})

	t.Run("customer may cancel own appointment only", func(t *testing.T) {
		env := newTestEnv(t)
		res, _ := env.manager.Book(ctx, userRequest(day, 10*60, "u1"))
		id := res.Appointment.ID
		if _, err := env.lifecycle.Transition(ctx, id, model.StatusConfirmed, Actor{Kind: ActorCustomer, UserID: "u1"}); !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("expected forbidden confirm, got %v", err)
		}
		if _, err := env.lifecycle.Transition(ctx, id, model.StatusCancelled, Actor{Kind: ActorCustomer, UserID: "u2"}); !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("expected forbidden for other customer, got %v", err)
		}
		out, err := env.lifecycle.Transition(ctx, id, model.StatusCancelled, Actor{Kind: ActorCustomer, UserID: "u1"})
		if err != nil {
			t.Fatalf("self cancel: %v", err)
		}
		if out.Status != model.StatusCancelled {
			t.Fatalf("expected cancelled, got %s", out.Status)
		}
	})

	t.Run("unknown appointment", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.lifecycle.Transition(ctx, "missing", model.StatusConfirmed, staff); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestTransition_Notifications(t *testing.T) {
	ctx := context.Background()
	day := mustDay(t, "2030-06-04")

	env := newTestEnv(t)
	linked, _ := env.manager.Book(ctx, userRequest(day, 10*60, "u1"))
	guestReq := userRequest(day, 12*60, "")
	guestReq.Customer = model.Customer{Name: "Guest", Phone: "+49 30 123"}
	guest, _ := env.manager.Book(ctx, guestReq)
	selfCancel, _ := env.manager.Book(ctx, userRequest(day, 14*60, "u3"))

	staff := Actor{Kind: ActorStaff}
	mustTransition := func(id string, to model.Status, actor Actor) {
		t.Helper()
		if _, err := env.lifecycle.Transition(ctx, id, to, actor); err != nil {
			t.Fatalf("transition %s to %s: %v", id, to, err)
		}
	}
	mustTransition(linked.Appointment.ID, model.StatusConfirmed, staff)
	mustTransition(guest.Appointment.ID, model.StatusConfirmed, staff)
	mustTransition(selfCancel.Appointment.ID, model.StatusCancelled, Actor{Kind: ActorCustomer, UserID: "u3"})
	mustTransition(linked.Appointment.ID, model.StatusCancelled, staff)

	notes := env.store.eventsOfType(events.TypeNotificationRequested)
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	var kinds []string
	for _, evt := range notes {
		n, err := events.DecodeNotificationRequested(evt.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.UserID != "u1" || n.AppointmentID != linked.Appointment.ID {
			t.Fatalf("unexpected recipient: %+v", n)
		}
		if evt.Key != "u1" {
			t.Fatalf("notification key = %q, want the recipient", evt.Key)
		}
		if !strings.Contains(n.Message["en"], "Haircut") || !strings.Contains(n.Message["de"], "Haarschnitt") {
			t.Fatalf("expected localized service name, got %v", n.Message)
		}
		if !strings.Contains(n.Message["de"], "04.06.2030") || !strings.Contains(n.Message["en"], "10:00") {
			t.Fatalf("expected formatted date and time, got %v", n.Message)
		}
		kinds = append(kinds, n.Kind)
	}
	if kinds[0] != events.KindAppointmentConfirmed || kinds[1] != events.KindAppointmentCancelled {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	if got := len(env.store.eventsOfType(events.TypeAppointmentStatus)); got != 4 {
		t.Fatalf("expected 4 status events, got %d", got)
	}
}

func TestRemind_OnlyOnceAndOnlyConfirmed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	res, _ := env.manager.Book(ctx, userRequest(mustDay(t, "2030-06-04"), 10*60, "u1"))
	id := res.Appointment.ID

	sent, err := env.lifecycle.Remind(ctx, id)
	if err != nil || sent {
		t.Fatalf("pending appointment must not be reminded, sent=%v err=%v", sent, err)
	}
	if _, err := env.lifecycle.Transition(ctx, id, model.StatusConfirmed, Actor{Kind: ActorStaff}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if sent, err = env.lifecycle.Remind(ctx, id); err != nil || !sent {
		t.Fatalf("expected reminder, sent=%v err=%v", sent, err)
	}
	if sent, err = env.lifecycle.Remind(ctx, id); err != nil || sent {
		t.Fatalf("expected no second reminder, sent=%v err=%v", sent, err)
	}
	got, _ := env.store.Get(ctx, id)
	if got.ReminderSentAt == nil {
		t.Fatalf("expected reminder_sent_at to be set")
	}

	var reminders int
	for _, evt := range env.store.eventsOfType(events.TypeNotificationRequested) {
		n, _ := events.DecodeNotificationRequested(evt.Payload)
		if n.Kind == events.KindAppointmentReminder {
			reminders++
		}
	}
	if reminders != 1 {
		t.Fatalf("expected one reminder notification, got %d", reminders)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	res, _ := env.manager.Book(ctx, userRequest(mustDay(t, "2030-06-04"), 10*60, "u1"))
	if err := env.lifecycle.Purge(ctx, res.Appointment.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if err := env.lifecycle.Purge(ctx, res.Appointment.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second purge, got %v", err)
	}
}
