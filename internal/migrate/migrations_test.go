package migrate_test

import (
	"context"
	"testing"

	"affiliates/internal/db"
	"affiliates/internal/migrate"
)

func TestApplyIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := migrate.Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh db version %d %v", v, err)
	}
	migrations, err := migrate.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	latest := migrations[len(migrations)-1].Version
	for i := 0; i < 2; i++ {
		v, err := migrate.Apply(ctx, conn)
		if err != nil {
			t.Fatalf("apply #%d: %v", i, err)
		}
		if v != latest {
			t.Fatalf("expected version %d, got %d", latest, v)
		}
	}
	if v, err := migrate.Version(ctx, conn); err != nil || v != latest {
		t.Fatalf("version after apply %d %v", v, err)
	}
	for _, table := range []string{"affiliate_configs", "dispatches", "api_keys"} {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing: %d %v", table, n, err)
		}
	}
}
