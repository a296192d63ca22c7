package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config == nil {
		t.Fatal("DefaultConfig should not return nil")
	}

	if config.DatabasePath != "./data/cececho.db" {
		t.Errorf("Expected DatabasePath './data/cececho.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.MigrationsPath != "" {
		t.Errorf("Expected embedded migrations by default, got %s", config.MigrationsPath)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
		{"negative retry delay", func(c *Config) { c.BusyRetryDelay = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Functional Validation Tests - Migration System

func TestMigrationManager_EmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	mgr := NewMigrationManager(db, "")
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	// Re-applying is a no-op
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("Second ApplyMigrations should not fail: %v", err)
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001" || versions[1] != "002" {
		t.Errorf("Expected [001 002], got %v", versions)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("Schema should validate after migrations: %v", err)
	}
}

func TestMigrationManager_DirectoryOverride(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	files := map[string]string{
		"002_second.sql": `CREATE TABLE second_table (id TEXT PRIMARY KEY);`,
		"001_first.sql":  `CREATE TABLE first_table (id TEXT PRIMARY KEY);`,
		"README.md":      `not a migration`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	mgr := NewMigrationManager(db, dir)
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[0] != "001" || versions[1] != "002" {
		t.Errorf("Expected [001 002], got %v", versions)
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	bad := `CREATE TABLE half_done (id TEXT PRIMARY KEY); THIS IS NOT SQL;`
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte(bad), 0644); err != nil {
		t.Fatalf("Failed to write migration: %v", err)
	}

	mgr := NewMigrationManager(db, dir)
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("ApplyMigrations should fail on invalid SQL")
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Failed migration must not be recorded, got %v", versions)
	}
}

// Technical Validation Tests - Schema Structure

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := NewSchemaValidator(db).ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
}

func TestSchema_CommunityGroupUniqueness(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	insert := `INSERT INTO groups (id, name, creator) VALUES (?, ?, 'u1')`
	if _, err := db.Exec(insert, "g1", "CEC ASSEMBLE"); err != nil {
		t.Fatalf("First community group insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "g2", "cec assemble"); err == nil {
		t.Error("A second community group differing only in case must be rejected")
	}

	// Ordinary groups may share names
	if _, err := db.Exec(insert, "g3", "Study Circle"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "g4", "Study Circle"); err != nil {
		t.Errorf("Duplicate ordinary group names should be allowed: %v", err)
	}
}

func TestSchema_ReservedGroupNames(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := ReserveGroupNames(db, " Alumni Hub ", ""); err != nil {
		t.Fatalf("ReserveGroupNames failed: %v", err)
	}
	// Reserving twice is a no-op
	if err := ReserveGroupNames(db, "ALUMNI HUB"); err != nil {
		t.Fatalf("ReserveGroupNames should be idempotent: %v", err)
	}

	insert := `INSERT INTO groups (id, name, creator) VALUES (?, ?, 'u1')`
	if _, err := db.Exec(insert, "g1", "Alumni Hub"); err != nil {
		t.Fatalf("First reserved group insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "g2", "alumni hub"); err == nil {
		t.Error("A second group with a reserved name must be rejected")
	}

	if _, err := db.Exec(insert, "g3", "Book Club"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	rename := `UPDATE groups SET name = ? WHERE id = ?`
	if _, err := db.Exec(rename, "ALUMNI HUB", "g3"); err == nil {
		t.Error("Renaming a group onto a reserved name in use must be rejected")
	}
	// Re-casing the holder's own name is allowed
	if _, err := db.Exec(rename, "ALUMNI HUB", "g1"); err != nil {
		t.Errorf("Holder should be able to re-case its name: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM reserved_group_names`).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected the default and one configured reservation, got %d", count)
	}
}

func TestSchema_MessageRecipientCheck(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO messages (id, sender, receiver, group_id, content) VALUES ('m1', 'a', 'b', 'g', 'hi')`)
	if err == nil {
		t.Error("Message with both receiver and group must be rejected")
	}
	_, err = db.Exec(`INSERT INTO messages (id, sender, receiver, content) VALUES ('m2', 'a', 'b', 'hi')`)
	if err != nil {
		t.Errorf("Direct message insert failed: %v", err)
	}
}

func TestApplySQLiteOptimizations(t *testing.T) {
	db := openTestDB(t)
	if err := ApplySQLiteOptimizations(db); err != nil {
		t.Fatalf("ApplySQLiteOptimizations failed: %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("Failed to read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected WAL journal mode, got %s", mode)
	}
}
