package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies a migrated SQLite database
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"alert_sessions":   "Alert session records",
		"alert_frames":     "Alert frame records",
		"goose_db_version": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column types match the store's scans
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":                "TEXT",
		"kind":              "TEXT",
		"name":              "TEXT",
		"save_dir":          "TEXT",
		"total_frames":      "INTEGER",
		"alert_frame_count": "INTEGER",
		"status":            "TEXT",
		"created_at":        "DATETIME",
		"finalized_at":      "DATETIME",
	}
	if err := v.validateColumns("alert_sessions", sessionColumns); err != nil {
		return fmt.Errorf("alert_sessions table structure invalid: %w", err)
	}

	frameColumns := map[string]string{
		"id":          "INTEGER",
		"session_id":  "TEXT",
		"frame_index": "INTEGER",
		"label":       "TEXT",
		"confidence":  "REAL",
		"bbox":        "TEXT",
		"image_path":  "TEXT",
		"checksum":    "TEXT",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("alert_frames", frameColumns); err != nil {
		return fmt.Errorf("alert_frames table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_alert_sessions_kind_created": "Alert history listing",
		"idx_alert_sessions_status":       "Stale session purge",
		"idx_alert_frames_session":        "Frame listing per session",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies foreign key and check constraints are enforced.
// Runs inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO alert_frames (session_id, frame_index, label, confidence, image_path, checksum)
		VALUES ('nonexistent', 0, 'x', 0, 'x', 'x')
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: alert_frames.session_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO alert_sessions (id, kind, name, save_dir)
		VALUES ('schema-check', 'liveness', 'x', 'x')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: alert_sessions.kind")
	}

	if _, err := tx.Exec(`
		INSERT INTO alert_sessions (id, kind, name, save_dir, status)
		VALUES ('schema-check', 'face', 'x', 'x', 'archived')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: alert_sessions.status")
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

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

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
