package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/unicode/norm"
)

// Migration transforms a store from one schema version to the next. It
// runs inside the single merged migration transaction; returning an
// error rolls back every pending migration together.
//
// Migrations are append-only: once shipped, a migration's behavior must
// never change, because it is replayed against real stores that already
// passed through it.
type Migration func(ctx context.Context, tx *sql.Tx) error

// SchemaInfo describes a store's schema: the DDL that builds a
// brand-new store, and the ordered migration list. The length of the
// migration list IS the schema version number.
//
// Invariant: running the full migration list against an empty,
// unversioned store must produce the same structure CreateSQL produces
// on an empty store.
type SchemaInfo struct {
	// Name identifies the schema in logs and in the structure cache.
	Name string

	// CreateSQL holds the DDL statements that build a fresh store at
	// the current version.
	CreateSQL []string

	// Migrations upgrade a store one version at a time; Migrations[i]
	// brings version i to version i+1.
	Migrations []Migration
}

// Version returns the schema version CreateSQL produces, which equals
// the number of migrations.
func (s *SchemaInfo) Version() int { return len(s.Migrations) }

// Fingerprint returns a stable hash over the schema's name and create
// DDL. It keys the expected-structure cache: closures are not a usable
// cache key, the DDL text is.
func (s *SchemaInfo) Fingerprint() uint64 {
	h := murmur3.New64()
	h.Write([]byte(s.Name))
	h.Write([]byte{0})
	for _, stmt := range s.CreateSQL {
		h.Write([]byte(stmt))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// structure is the introspected shape of a store: table -> column ->
// normalized declared type.
type structure map[string]map[string]string

var structureCache struct {
	sync.Mutex
	byFingerprint map[uint64]structure
}

// expectedStructure computes the structure CreateSQL produces on an
// empty store, by running it against an in-memory database. The result
// is cached per schema fingerprint; it is expensive to compute but
// deterministic.
func expectedStructure(ctx context.Context, schema *SchemaInfo) (structure, error) {
	fp := schema.Fingerprint()
	structureCache.Lock()
	defer structureCache.Unlock()
	if structureCache.byFingerprint == nil {
		structureCache.byFingerprint = make(map[uint64]structure)
	}
	if st, ok := structureCache.byFingerprint[fp]; ok {
		return st, nil
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("expected structure: %w", err)
	}
	defer db.Close()
	for _, stmt := range schema.CreateSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("expected structure: create %s: %w", schema.Name, err)
		}
	}
	st, err := introspect(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("expected structure: %w", err)
	}
	structureCache.byFingerprint[fp] = st
	return st, nil
}

// introspect reads the actual table/column structure of a database.
func introspect(ctx context.Context, db *sql.DB) (structure, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("introspect: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}

	st := make(structure, len(tables))
	for _, table := range tables {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return nil, err
		}
		st[table] = cols
	}
	return st, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("introspect %s: %w", table, err)
		}
		cols[name] = strings.ToUpper(strings.TrimSpace(typ))
	}
	return cols, rows.Err()
}

// diffStructure reports elements of expected that are missing from or
// mistyped in actual. Extra tables and columns in actual are not
// reported: a live document adds user tables beyond the metadata
// schema, and the check is diagnostic only.
func diffStructure(expected, actual structure) []string {
	var diffs []string
	tables := make([]string, 0, len(expected))
	for table := range expected {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		actualCols, ok := actual[table]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("missing table %q", table))
			continue
		}
		cols := make([]string, 0, len(expected[table]))
		for col := range expected[table] {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			wantType := expected[table][col]
			gotType, ok := actualCols[col]
			if !ok {
				diffs = append(diffs, fmt.Sprintf("missing column %q.%q", table, col))
			} else if gotType != wantType {
				diffs = append(diffs, fmt.Sprintf("column %q.%q has type %s, expected %s", table, col, gotType, wantType))
			}
		}
	}
	return diffs
}

// QuoteIdent quotes an identifier for embedding in SQL. The identifier
// is normalized to NFC first so that visually identical table or
// column ids map to one stored identifier.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(norm.NFC.String(ident), `"`, `""`) + `"`
}
