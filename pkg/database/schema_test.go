package database

import (
	"strings"
	"testing"
)

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	v := NewSchemaValidator(openTestDB(t))

	if err := v.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on an empty database")
	}
	if err := v.ValidateIndexes(); err == nil {
		t.Error("ValidateIndexes should fail on an empty database")
	}
}

func TestSchemaValidator_AfterMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	if _, err := db.Exec("DROP TABLE notifications"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE notifications (
		id INTEGER PRIMARY KEY, user_id TEXT, type TEXT, title TEXT,
		message TEXT, is_read INTEGER, created_at DATETIME)`); err != nil {
		t.Fatalf("recreate: %v", err)
	}

	err := NewSchemaValidator(db).ValidateTableStructure()
	if err == nil || !strings.Contains(err.Error(), "notifications") {
		t.Fatalf("expected notifications structure error, got %v", err)
	}
}
