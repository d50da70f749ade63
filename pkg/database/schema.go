package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a database carries the tables, columns and
// indexes the store queries.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a validator for db.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredColumns = map[string]map[string]string{
	"users": {
		"id":         "TEXT",
		"name":       "TEXT",
		"created_at": "DATETIME",
	},
	"chat_groups": {
		"id":         "TEXT",
		"name":       "TEXT",
		"created_by": "TEXT",
		"created_at": "DATETIME",
	},
	"group_members": {
		"group_id":  "TEXT",
		"user_id":   "TEXT",
		"joined_at": "DATETIME",
	},
	"messages": {
		"id":          "INTEGER",
		"room_key":    "TEXT",
		"group_id":    "TEXT",
		"sender_id":   "TEXT",
		"receiver_id": "TEXT",
		"type":        "TEXT",
		"content":     "TEXT",
		"file_url":    "TEXT",
		"file_name":   "TEXT",
		"file_size":   "INTEGER",
		"mime_type":   "TEXT",
		"created_at":  "DATETIME",
	},
	"notifications": {
		"id":         "TEXT",
		"user_id":    "TEXT",
		"type":       "TEXT",
		"title":      "TEXT",
		"message":    "TEXT",
		"is_read":    "INTEGER",
		"created_at": "DATETIME",
	},
}

var requiredIndexes = []string{
	"idx_group_members_user",
	"idx_messages_room_id",
	"idx_messages_sender",
	"idx_notifications_user_time",
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	tables := []string{"schema_migrations"}
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	for _, table := range tables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that the history and lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, typ := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if got != typ {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, typ)
		}
	}
	return nil
}
