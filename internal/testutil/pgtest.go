// README: Postgres helpers for DB-backed tests; they skip unless ZEMI_TEST_DSN is set.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"zemi/internal/migrate"
)

// OpenDB connects to ZEMI_TEST_DSN inside a fresh schema holding
// migrations/0001_init.sql. Each test gets its own schema, so packages can
// run in parallel against one database. The schema is dropped on cleanup.
func OpenDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("ZEMI_TEST_DSN")
	if dsn == "" {
		t.Skip("ZEMI_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	schema := "zemi_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if err := migrate.Apply(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return db
}
