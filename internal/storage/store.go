package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// OpenMode selects how Open treats the file at the given path.
type OpenMode int

const (
	// OpenCreate opens an existing store or creates a new one.
	OpenCreate OpenMode = iota
	// OpenExisting opens an existing store and fails if it is missing.
	OpenExisting
	// OpenReadOnly opens an existing store without write access. A
	// needed migration is recorded on the handle, never attempted.
	OpenReadOnly
	// CreateExclusive creates a new store and fails with ErrExists if
	// one with content is already present.
	CreateExclusive
)

func (m OpenMode) String() string {
	switch m {
	case OpenCreate:
		return "create"
	case OpenExisting:
		return "existing"
	case OpenReadOnly:
		return "read-only"
	case CreateExclusive:
		return "create-exclusive"
	default:
		return fmt.Sprintf("OpenMode(%d)", int(m))
	}
}

// Options carries the optional collaborators of Open.
type Options struct {
	// Logger receives warnings (double opens, structure mismatches,
	// rollback failures). Defaults to slog.Default().
	Logger *slog.Logger
	// Registry tracks concurrent opens per path. Defaults to
	// DefaultRegistry.
	Registry *OpenRegistry
}

// Store is a transactional wrapper around one SQLite file. It owns a
// single connection, tracks transaction nesting so that nested
// RunInTransaction calls collapse into the outermost transaction, and
// versions its own schema via the user_version pragma.
//
// A Store is single-writer: callers serialize mutation through
// whatever upstream ordering delivers their work one at a time.
type Store struct {
	db       *sql.DB
	path     string
	mode     OpenMode
	schema   *SchemaInfo
	log      *slog.Logger
	registry *OpenRegistry

	tx            *sql.Tx // non-nil while inside RunInTransaction
	vacuumPending bool

	backupPath   string
	migrationErr error
}

// Open opens the store at path with DefaultRegistry and the default
// logger. See OpenWithOptions.
func Open(ctx context.Context, path string, schema *SchemaInfo, mode OpenMode) (*Store, error) {
	return OpenWithOptions(ctx, path, schema, mode, Options{})
}

// OpenWithOptions opens, versions and (when allowed) migrates the
// store at path.
//
// A genuinely new store (version 0 with no tables at all) is built
// from schema.CreateSQL and stamped at the current version inside one
// transaction. An existing store whose version is behind is backed up
// and migrated in one merged transaction; if that fails, the backup is
// deleted, the store stays at its pre-migration state, and the error
// is recorded on the handle rather than failing the open. Callers must
// check MigrationError.
func OpenWithOptions(ctx context.Context, path string, schema *SchemaInfo, mode OpenMode, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry
	}

	db, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also lets nested
	// transaction calls share the outermost *sql.Tx.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, mode == OpenReadOnly); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store{
		db:       db,
		path:     path,
		mode:     mode,
		schema:   schema,
		log:      log,
		registry: registry,
	}
	if count := registry.acquire(path); count > 1 {
		log.Warn("store file opened more than once; concurrent writers are unsafe",
			"path", path, "open_count", count)
	}

	if err := s.setupSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.checkStructure(ctx)
	return s, nil
}

func dsn(path string, mode OpenMode) string {
	switch mode {
	case OpenExisting:
		return "file:" + path + "?mode=rw"
	case OpenReadOnly:
		return "file:" + path + "?mode=ro"
	default:
		return "file:" + path + "?mode=rwc"
	}
}

func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !readOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// setupSchema reconciles the stored schema version against the target
// version. Only conditions that make the handle unusable (exclusive
// conflict, failure to create a fresh store) are returned; migration
// problems are recorded on the handle.
func (s *Store) setupSchema(ctx context.Context) error {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	tables, err := s.tableCount(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	target := s.schema.Version()

	if version == 0 && tables == 0 {
		// Genuinely new store (or a pre-versioning empty file).
		if s.mode == OpenReadOnly {
			s.migrationErr = fmt.Errorf("empty store opened read-only: %w", ErrMigrationNeeded)
			return nil
		}
		err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
			for _, stmt := range s.schema.CreateSQL {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create schema %s: %w", s.schema.Name, err)
				}
			}
			return setSchemaVersion(ctx, tx, target)
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", s.path, err)
		}
		return nil
	}

	if s.mode == CreateExclusive {
		return fmt.Errorf("create %s: %w", s.path, ErrExists)
	}

	switch {
	case version == target:
		return nil
	case version > target:
		s.log.Warn("stored schema version is newer than this software expects",
			"path", s.path, "stored", version, "expected", target)
		return nil
	}

	// version < target: migration needed.
	if s.mode == OpenReadOnly {
		s.migrationErr = fmt.Errorf("schema version %d behind target %d: %w",
			version, target, ErrMigrationNeeded)
		return nil
	}

	backupPath, err := createBackup(s.path, version)
	if err != nil {
		s.migrationErr = fmt.Errorf("pre-migration backup: %w (%v)", ErrMigrationNeeded, err)
		s.log.Warn("skipping migration: backup failed", "path", s.path, "error", err)
		return nil
	}

	err = s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		for i := version; i < target; i++ {
			if err := s.schema.Migrations[i](ctx, tx); err != nil {
				return fmt.Errorf("migration to version %d: %w", i+1, err)
			}
		}
		return setSchemaVersion(ctx, tx, target)
	})
	if err != nil {
		if rmErr := os.Remove(backupPath); rmErr != nil {
			s.log.Warn("could not remove backup of failed migration",
				"backup", backupPath, "error", rmErr)
		}
		s.migrationErr = err
		s.log.Warn("migration failed; store opened at previous version",
			"path", s.path, "version", version, "error", err)
		return nil
	}

	s.backupPath = backupPath
	s.log.Info("store migrated", "path", s.path,
		"from", version, "to", target, "backup", backupPath)
	return nil
}

// checkStructure diffs the store's actual structure against the
// structure CreateSQL implies and logs any mismatch. Diagnostic only;
// it never blocks opening.
func (s *Store) checkStructure(ctx context.Context) {
	expected, err := expectedStructure(ctx, s.schema)
	if err != nil {
		s.log.Warn("could not compute expected structure", "schema", s.schema.Name, "error", err)
		return
	}
	actual, err := introspect(ctx, s.db)
	if err != nil {
		s.log.Warn("could not introspect store", "path", s.path, "error", err)
		return
	}
	for _, diff := range diffStructure(expected, actual) {
		s.log.Warn("store structure differs from schema", "path", s.path, "diff", diff)
	}
}

// SchemaVersion reads the persisted schema version counter. A
// brand-new or pre-versioning store reads as 0.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) tableCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("table count: %w", err)
	}
	return count, nil
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string { return s.path }

// BackupPath returns the path of the pre-migration backup made during
// Open, or "" if no migration ran. Backups are never deleted on
// success.
func (s *Store) BackupPath() string { return s.backupPath }

// MigrationError returns the error recorded during Open when a needed
// migration failed or could not be attempted. The store is open and
// readable regardless; callers decide whether to proceed.
func (s *Store) MigrationError() error { return s.migrationErr }

// Close releases the connection and the registry entry for this path.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.registry.release(s.path)
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

// Exec runs a statement, inside the current transaction if one is
// active.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return s.tx.ExecContext(ctx, query, args...)
	}
	return s.db.ExecContext(ctx, query, args...)
}

// Query runs a query, inside the current transaction if one is active.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return s.tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query, inside the current transaction if
// one is active.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return s.tx.QueryRowContext(ctx, query, args...), nil
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}
