package catalog

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/studiobook/libs/db"
)

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetService(ctx context.Context, id string) (Service, error) {
	var svc Service
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, duration_minutes
		FROM services
		WHERE id::text = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes)
	if err != nil {
		if db.IsNoRows(err) {
			return Service{}, fmt.Errorf("%w: service %s", ErrNotFound, id)
		}
		return Service{}, err
	}
	return svc, nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (Provider, error) {
	var p Provider
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, active
		FROM providers
		WHERE id::text = $1
	`, id).Scan(&p.ID, &p.Name, &p.Active)
	if err != nil {
		if db.IsNoRows(err) {
			return Provider{}, fmt.Errorf("%w: provider %s", ErrNotFound, id)
		}
		return Provider{}, err
	}
	return p, nil
}
