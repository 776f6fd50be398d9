package availability

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

// AppointmentLister returns the pending and confirmed appointments of a provider on one day.
// The storage pool implements it for display and the booking transaction implements it at
// commit, so both paths run the same reconciliation.
type AppointmentLister interface {
	ListActive(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error)
}

type Reconciler struct {
	Generator *Generator
	// BufferMinutes is kept free before and after every existing appointment.
	BufferMinutes int
	// Now, when set, drops start times that already passed.
	Now func() time.Time
}

// ComputeAvailable returns the candidate start minutes whose [t, t+duration) span does not meet
// any active appointment, in ascending order. An empty result means no availability.
func (r *Reconciler) ComputeAvailable(ctx context.Context, lister AppointmentLister, providerID string, day time.Time, duration int) ([]int, error) {
	candidates, err := r.Generator.GenerateSlots(ctx, providerID, day, duration)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	appts, err := lister.ListActive(ctx, providerID, day)
	if err != nil {
		return nil, err
	}
	busy := make([]Hours, 0, len(appts))
	for _, a := range appts {
		if !a.Status.Active() {
			continue
		}
		busy = append(busy, Hours{Open: a.StartMinute - r.BufferMinutes, Close: a.EndMinute() + r.BufferMinutes})
	}

	var now time.Time
	if r.Now != nil {
		now = r.Now()
	}

	out := make([]int, 0, len(candidates))
	for _, t := range candidates {
		if !now.IsZero() && At(day, t).Before(now) {
			continue
		}
		if overlapsAny(t, t+duration, busy) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func overlapsAny(start, end int, busy []Hours) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Open,b.Close) iff start < b.Close && b.Open < end.
		if start < b.Close && b.Open < end {
			return true
		}
	}
	return false
}

// Contains reports whether start is one of the slots.
func Contains(slots []int, start int) bool {
	for _, s := range slots {
		if s == start {
			return true
		}
	}
	return false
}
