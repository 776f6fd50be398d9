package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/libs/db"
)

// Repository is the write side of the catalog. Reads for booking go through catalog.PostgresStore.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) UpsertService(ctx context.Context, s catalog.Service) error {
	name, err := json.Marshal(s.Name)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO services (id, name, duration_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			updated_at = now()
	`, s.ID, name, s.DurationMinutes)
	return err
}

func (r *Repository) ListServices(ctx context.Context) ([]catalog.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, duration_minutes
		FROM services
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []catalog.Service{}
	for rows.Next() {
		var s catalog.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.DurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertProvider(ctx context.Context, p catalog.Provider) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			active = EXCLUDED.active,
			updated_at = now()
	`, p.ID, p.Name, p.Active)
	return err
}

// SetProviderActive toggles bookability without touching existing appointments.
func (r *Repository) SetProviderActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE providers SET active = $2, updated_at = now() WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: provider %s", catalog.ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ListProviders(ctx context.Context) ([]catalog.Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, active
		FROM providers
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []catalog.Provider{}
	for rows.Next() {
		var p catalog.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
