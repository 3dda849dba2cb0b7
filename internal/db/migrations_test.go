package db_test

import (
	"testing"

	flipshare "github.com/flipshare/flipshare"
	"github.com/flipshare/flipshare/internal/db"
)

func TestMigrateIdempotent(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var applied int
	if err := database.QueryRow(`SELECT COUNT(*) FROM _migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want each file recorded once", applied)
	}

	// Schema is usable after the second run.
	var tables int
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'views'`,
	).Scan(&tables); err != nil || tables != 1 {
		t.Errorf("views table missing after remigration (err=%v)", err)
	}
}
