// Package catalog is the read side of the studio catalog: services with their durations and
// providers with their active flag. Booking consumes it through Store, locally from Postgres
// or remotely through the catalog-service gRPC API.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/studiobook/libs/i18n"
)

var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrInvalidService = errors.New("catalog: invalid service")
)

type Service struct {
	ID              string
	Name            i18n.Text
	DurationMinutes int
}

type Provider struct {
	ID     string
	Name   string
	Active bool
}

type Store interface {
	GetService(ctx context.Context, id string) (Service, error)
	GetProvider(ctx context.Context, id string) (Provider, error)
}

// ValidateService rejects services that cannot be scheduled.
func ValidateService(s Service) error {
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("%w: service %s has duration %d", ErrInvalidService, s.ID, s.DurationMinutes)
	}
	return nil
}

// StaticStore serves a fixed catalog. Used by tests and by local runs without a catalog database.
type StaticStore struct {
	Services  map[string]Service
	Providers map[string]Provider
}

func (s StaticStore) GetService(_ context.Context, id string) (Service, error) {
	svc, ok := s.Services[id]
	if !ok {
		return Service{}, fmt.Errorf("%w: service %s", ErrNotFound, id)
	}
	return svc, nil
}

func (s StaticStore) GetProvider(_ context.Context, id string) (Provider, error) {
	p, ok := s.Providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: provider %s", ErrNotFound, id)
	}
	return p, nil
}
