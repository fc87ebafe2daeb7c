package migrate_test

import (
	"context"
	"testing"

	"upkeep/internal/db"
	"upkeep/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, _ := migrate.Version(ctx, conn); v != 0 {
		t.Fatalf("fresh db version = %d, want 0", v)
	}
	applied, err := migrate.Migrate(conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("applied %v, want 3 migrations", applied)
	}
	applied, err = migrate.Migrate(conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("second run applied %v", applied)
	}
	v, err := migrate.Version(ctx, conn)
	if err != nil || v != 3 {
		t.Fatalf("version = %d, %v", v, err)
	}
	if _, err := conn.Exec(`SELECT succession_created FROM schedule_jobs LIMIT 1`); err != nil {
		t.Fatalf("schedule_jobs missing column: %v", err)
	}
}

func TestProvisioningAcceptsInFlight(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = conn.Exec(`INSERT INTO provisioning_records(origin_kind,origin_id,employee_id,status,attempts,created_at,updated_at)
VALUES ('job','j1','emp-1','in_flight',1,'2025-01-01T00:00:00Z','2025-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("insert in_flight row: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO provisioning_records(origin_kind,origin_id,status,attempts,created_at,updated_at)
VALUES ('job','j2','bogus',1,'2025-01-01T00:00:00Z','2025-01-01T00:00:00Z')`); err == nil {
		t.Fatalf("unknown status accepted")
	}
}
