package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that the database matches what the artifact store
// expects.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
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

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"artifacts", "schema_migrations"} {
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

// ValidateTableStructure verifies column names and declared types
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	artifactColumns := map[string]string{
		"id":         "TEXT",
		"project_id": "TEXT",
		"session_id": "TEXT",
		"team_id":    "TEXT",
		"title":      "TEXT",
		"content":    "TEXT",
		"updated_at": "DATETIME",
	}
	if err := v.validateColumns("artifacts", artifactColumns); err != nil {
		return fmt.Errorf("artifacts table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{"idx_artifacts_session_updated", "idx_artifacts_project"} {
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
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
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
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, typ := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != typ {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, typ)
		}
	}
	return nil
}
