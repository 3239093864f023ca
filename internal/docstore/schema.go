package docstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/swuecho/grist-core/internal/storage"
)

// Metadata table ids. User tables may not use these names.
const (
	metaDocInfo   = "doc_info"
	metaTables    = "doc_tables"
	metaColumns   = "doc_columns"
	metaActionLog = "action_log"
)

func isMetaTable(tableID string) bool {
	switch tableID {
	case metaDocInfo, metaTables, metaColumns, metaActionLog:
		return true
	}
	return false
}

// DocSchema is the document store's own metadata schema. CreateSQL
// builds the current version directly; the migration list rebuilds it
// step by step for stores created by older software. Shipped
// migrations are append-only and must never change.
var DocSchema = &storage.SchemaInfo{
	Name: "docstore",
	CreateSQL: []string{
		`CREATE TABLE doc_info (
			id INTEGER PRIMARY KEY,
			doc_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			settings TEXT
		)`,
		`CREATE TABLE doc_tables (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_id TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE doc_columns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_ref INTEGER NOT NULL REFERENCES doc_tables(id) ON DELETE CASCADE,
			col_id TEXT NOT NULL,
			col_type TEXT NOT NULL,
			UNIQUE(table_ref, col_id)
		)`,
		`CREATE TABLE action_log (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL UNIQUE,
			applied_at INTEGER NOT NULL,
			body TEXT NOT NULL
		)`,
	},
	Migrations: []storage.Migration{
		migrateToV1,
		migrateToV2,
		migrateToV3,
	},
}

// migrateToV1 builds the original metadata tables. Applied to an
// unversioned empty store it produces what the version-1 CreateSQL
// produced.
func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE doc_info (
			id INTEGER PRIMARY KEY,
			doc_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE doc_tables (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_id TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE doc_columns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_ref INTEGER NOT NULL REFERENCES doc_tables(id) ON DELETE CASCADE,
			col_id TEXT NOT NULL,
			col_type TEXT NOT NULL,
			UNIQUE(table_ref, col_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// migrateToV2 adds the action log.
func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE action_log (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL UNIQUE,
		applied_at INTEGER NOT NULL,
		body TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// migrateToV3 adds the per-document settings blob.
func migrateToV3(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "ALTER TABLE doc_info ADD COLUMN settings TEXT"); err != nil {
		return fmt.Errorf("migrate to v3: %w", err)
	}
	return nil
}

// sqlType maps a column type tag to the declared SQLite column type.
func sqlType(typ string) string {
	base := typ
	for i := 0; i < len(typ); i++ {
		if typ[i] == ':' {
			base = typ[:i]
			break
		}
	}
	switch base {
	case "Text", "Choice":
		return "TEXT"
	case "Int", "Ref":
		return "INTEGER"
	case "Bool":
		return "BOOLEAN"
	case "Numeric":
		return "NUMERIC"
	case "Date":
		return "DATE"
	case "DateTime":
		return "DATETIME"
	default:
		// RefList, Attachments, Any and unknown tags hold marshaled
		// values.
		return "BLOB"
	}
}
