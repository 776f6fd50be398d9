// Package dbtest gives integration tests an isolated Postgres schema with migrations applied.
// Tests skip unless STUDIOBOOK_TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/md-rashed-zaman/studiobook/libs/db"
)

const EnvDatabaseURL = "STUDIOBOOK_TEST_DATABASE_URL"

// Open creates a fresh schema, applies migrations from fsys into it and drops it on cleanup.
func Open(t *testing.T, migrations fs.FS) *db.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skip(EnvDatabaseURL + " is required for integration tests")
	}
	ctx := context.Background()

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	// public stays on the path so extensions installed there (btree_gist) resolve.
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	pp, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	pool := &db.Pool{Pool: pp}
	t.Cleanup(func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})

	if _, err := db.Migrate(ctx, pool, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}
