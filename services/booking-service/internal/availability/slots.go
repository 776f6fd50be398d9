package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/apperr"
)

const DefaultStepMinutes = 30

// Grid returns every start minute on the step grid, counted from the opening time, for which a
// booking of duration minutes ends no later than closing.
func Grid(h Hours, duration, step int) []int {
	if duration <= 0 || step <= 0 || h.Close <= h.Open {
		return nil
	}
	var slots []int
	for t := h.Open; t+duration <= h.Close; t += step {
		slots = append(slots, t)
	}
	return slots
}

// ProviderLookup is the part of the catalog the generator needs.
type ProviderLookup interface {
	GetProvider(ctx context.Context, id string) (catalog.Provider, error)
}

// Generator enumerates candidate start times from the business calendar. It never looks at
// existing appointments.
type Generator struct {
	Calendar  Calendar
	Step      int
	Providers ProviderLookup
}

// GenerateSlots returns the candidate grid for providerID on day. An inactive provider or a
// closed day yields an empty result.
func (g *Generator) GenerateSlots(ctx context.Context, providerID string, day time.Time, duration int) ([]int, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: service duration must be positive, got %d", apperr.ErrConfiguration, duration)
	}
	step := g.Step
	if step <= 0 {
		step = DefaultStepMinutes
	}

	p, err := g.Providers.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: provider %s", apperr.ErrNotFound, providerID)
		}
		return nil, err
	}
	if !p.Active {
		return []int{}, nil
	}

	hours, open := g.Calendar.HoursFor(day)
	if !open {
		return []int{}, nil
	}
	slots := Grid(hours, duration, step)
	if slots == nil {
		slots = []int{}
	}
	return slots, nil
}
