package db

import (
	"testing"
)

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name=?
	`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check for table %s: %v", name, err)
	}
	return exists
}

func columnExists(t *testing.T, db *DB, table, column string) bool {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		t.Fatalf("failed to read table_info for %s: %v", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan column name: %v", err)
		}
		if name == column {
			return true
		}
	}
	return false
}

func TestMigrateUpBuildsSchema(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("fresh migration left the database dirty")
	}

	latest, err := GetLatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("version = %d, want latest %d", version, latest)
	}

	for _, table := range []string{"observations", "observation_rollups"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing after migrate up", table)
		}
	}
	if !columnExists(t, db, "observations", "location_source") {
		t.Error("observations.location_source missing after migrate up")
	}
}

func TestMigrateDownStepsBackOneVersion(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	before, _, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if err := db.MigrateDown(migFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	after, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("migrate down left the database dirty")
	}
	if after != before-1 {
		t.Errorf("version after down = %d, want %d", after, before-1)
	}
}

func TestMigrateToSpecificVersion(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	if err := db.MigrateTo(migFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if tableExists(t, db, "observation_rollups") {
		t.Error("observation_rollups should not exist at version 1")
	}

	// And back up to latest.
	if err := db.MigrateUp(migFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if !tableExists(t, db, "observation_rollups") {
		t.Error("observation_rollups missing after migrating back up")
	}
}

func TestCheckMigrationsFlagsOutdatedSchema(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	// Up to date: nothing to do.
	needsAction, err := db.CheckMigrations(migFS)
	if err != nil {
		t.Fatalf("CheckMigrations on current schema failed: %v", err)
	}
	if needsAction {
		t.Error("CheckMigrations flagged an up-to-date schema")
	}

	// One step behind: flagged with an error.
	if err := db.MigrateDown(migFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	needsAction, err = db.CheckMigrations(migFS)
	if err == nil {
		t.Error("expected an error for an outdated schema")
	}
	if !needsAction {
		t.Error("CheckMigrations did not flag an outdated schema")
	}
}

func TestBaselineAtVersion(t *testing.T) {
	testDB := t.TempDir() + "/baseline.db"

	// OpenDB applies pragmas only; no migrations have run.
	db, err := OpenDB(testDB)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if err := db.BaselineAtVersion(2); err != nil {
		t.Fatalf("BaselineAtVersion failed: %v", err)
	}

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("baseline version = %d (dirty %v), want 2 (clean)", version, dirty)
	}

	// A second baseline must refuse to overwrite history.
	if err := db.BaselineAtVersion(3); err == nil {
		t.Error("expected second baseline to fail")
	}
}
