package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator verifies that the migrated schema matches what the store expects
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"users":                "Account lookup",
		"groups":               "Group membership storage",
		"calls":                "Call lifecycle storage",
		"messages":             "Chat message storage",
		"schema_migrations":    "Migration tracking",
		"reserved_group_names": "Community group uniqueness",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column types for the tables with JSON and versioned columns
func (v *SchemaValidator) ValidateTableStructure() error {
	groupColumns := map[string]string{
		"id":      "TEXT",
		"name":    "TEXT",
		"members": "TEXT",
		"admins":  "TEXT",
		"version": "INTEGER",
	}
	if err := v.validateColumns("groups", groupColumns); err != nil {
		return fmt.Errorf("groups table structure invalid: %w", err)
	}

	callColumns := map[string]string{
		"id":         "TEXT",
		"caller":     "TEXT",
		"callee":     "TEXT",
		"group_id":   "TEXT",
		"status":     "TEXT",
		"start_time": "DATETIME",
		"end_time":   "DATETIME",
		"duration":   "INTEGER",
		"version":    "INTEGER",
	}
	if err := v.validateColumns("calls", callColumns); err != nil {
		return fmt.Errorf("calls table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":         "TEXT",
		"sender":     "TEXT",
		"receiver":   "TEXT",
		"group_id":   "TEXT",
		"content":    "TEXT",
		"created_at": "DATETIME",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that the uniqueness triggers and lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_groups_name":          "Case-insensitive group lookup",
		"idx_messages_group_time":  "Group history retrieval",
		"idx_messages_direct_time": "Direct history retrieval",
	}

	requiredTriggers := map[string]string{
		"trg_groups_reserved_insert": "Community group uniqueness",
		"trg_groups_reserved_rename": "Community group uniqueness",
	}
	for trigger, purpose := range requiredTriggers {
		exists, err := v.objectExists("trigger", trigger)
		if err != nil {
			return fmt.Errorf("error checking trigger %s (%s): %w", trigger, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required trigger %s (%s) does not exist", trigger, purpose)
		}
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
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

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}

// ReserveGroupNames marks names that at most one group may carry, compared
// case-insensitively. Reserving an existing name is a no-op.
func ReserveGroupNames(db *sql.DB, names ...string) error {
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, err := db.Exec("INSERT OR IGNORE INTO reserved_group_names (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to reserve group name %q: %w", name, err)
		}
	}
	return nil
}
