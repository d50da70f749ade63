package database

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyPragmas(db); err != nil {
		t.Fatalf("apply pragmas: %v", err)
	}
	return db
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }, true},
		{"negative busy timeout", func(c *Config) { c.BusyTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{DatabasePath: "/tmp/x.db", BusyTimeout: 2 * time.Second}
	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "/tmp/x.db?") {
		t.Errorf("unexpected DSN %q", dsn)
	}
	for _, want := range []string{"_busy_timeout=2000", "_journal_mode=WAL", "_foreign_keys=on"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %s", dsn, want)
		}
	}
}

func TestMigrationManager_LoadMigrations(t *testing.T) {
	m := NewMigrationManager(openTestDB(t))

	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if migrations[0].Version != "001" || migrations[0].Description != "initial_schema" {
		t.Errorf("unexpected first migration %s/%s", migrations[0].Version, migrations[0].Description)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Errorf("migrations not sorted: %s before %s", migrations[i-1].Version, migrations[i].Version)
		}
	}
}

func TestMigrationManager_ApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrationManager(db)

	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("first ApplyMigrations: %v", err)
	}
	if err := m.ApplyMigrations(); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if !applied["001"] {
		t.Errorf("expected 001 recorded, got %v", applied)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(applied) {
		t.Errorf("expected %d rows, got %d", len(applied), count)
	}
}

func TestSchema_MessageTypeConstraint(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	_, err := db.Exec(`INSERT INTO messages (room_key, sender_id, type, content, created_at)
		VALUES ('group:g', 'alice', 'video', 'x', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("expected check constraint to reject unknown message type")
	}
}

func TestSchema_MemberRequiresGroup(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	_, err := db.Exec(`INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES ('missing', 'alice', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("expected foreign key constraint to reject member of unknown group")
	}
}
