package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.DatabasePath != "./data/liveroom.db" {
		t.Errorf("Expected DatabasePath './data/liveroom.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMigrations_LoadEmbedded(t *testing.T) {
	m := NewMigrationManager(openTestDB(t))
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	if migrations[0].Version != "001" || migrations[0].Description != "artifacts" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
}

func TestMigrations_ApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrationManager(db)

	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	versions, err := m.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("expected [001], got %v", versions)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("schema should validate after migrations: %v", err)
	}
}

func TestSchemaValidator_DetectsMissingTable(t *testing.T) {
	db := openTestDB(t)
	if err := NewSchemaValidator(db).ValidateTablesExist(); err == nil {
		t.Error("expected error on empty database")
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE artifacts (id INTEGER, project_id TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := NewSchemaValidator(db).ValidateTableStructure(); err == nil {
		t.Error("expected structure error")
	}
}

func TestSchema_UniqueSessionTeam(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("apply: %v", err)
	}

	insert := `INSERT INTO artifacts (id, project_id, session_id, team_id) VALUES (?, 'p1', 's1', 't1')`
	if _, err := db.Exec(insert, "a1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert, "a2"); err == nil {
		t.Error("second artifact for the same session and team should be rejected")
	}
}
