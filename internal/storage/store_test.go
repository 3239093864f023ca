package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// petSchema is a two-version test schema whose migration chain produces
// the same structure as its create DDL.
func petSchema() *SchemaInfo {
	return &SchemaInfo{
		Name: "petdb",
		CreateSQL: []string{
			`CREATE TABLE pets (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				age INTEGER NOT NULL DEFAULT 0
			)`,
		},
		Migrations: []Migration{
			func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `CREATE TABLE pets (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL DEFAULT ''
				)`)
				return err
			},
			func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					`ALTER TABLE pets ADD COLUMN age INTEGER NOT NULL DEFAULT 0`)
				return err
			},
		},
	}
}

// makeStoreAtVersion builds a store file by running the migration chain
// up to the given version, the way an older release would have left it.
func makeStoreAtVersion(t *testing.T, path string, schema *SchemaInfo, version int) {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=rwc")
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < version; i++ {
		require.NoError(t, schema.Migrations[i](ctx, tx))
	}
	require.NoError(t, setSchemaVersion(ctx, tx, version))
	require.NoError(t, tx.Commit())
}

func openTestStore(t *testing.T, path string, mode OpenMode) *Store {
	t.Helper()
	s, err := OpenWithOptions(context.Background(), path, petSchema(), mode, Options{
		Registry: NewOpenRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backupFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.bak"))
	require.NoError(t, err)
	return matches
}

func TestOpen_CreatesFreshStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pets.db")
	s := openTestStore(t, path, OpenCreate)

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version, "fresh store is stamped at the current version")
	assert.NoError(t, s.MigrationError())
	assert.Empty(t, s.BackupPath(), "no backup for a fresh create")

	_, err = s.Exec(ctx, `INSERT INTO pets (id, name, age) VALUES (1, 'Rex', 3)`)
	require.NoError(t, err)
}

func TestOpen_ExistingFailsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := OpenWithOptions(context.Background(), path, petSchema(), OpenExisting, Options{
		Registry: NewOpenRegistry(),
	})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed open must not create the file")
}

func TestOpen_CreateExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pets.db")

	// First exclusive create succeeds.
	s := openTestStore(t, path, CreateExclusive)
	require.NoError(t, s.Close())

	// Second one sees a store with content and refuses.
	_, err := OpenWithOptions(context.Background(), path, petSchema(), CreateExclusive, Options{
		Registry: NewOpenRegistry(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)
}

func TestOpen_MigratesBehindStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "pets.db")
	makeStoreAtVersion(t, path, petSchema(), 1)

	s := openTestStore(t, path, OpenCreate)
	require.NoError(t, s.MigrationError())

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// The pre-migration backup is left on disk and follows the
	// <path>.<date>.V<from>.bak naming.
	require.NotEmpty(t, s.BackupPath())
	assert.Regexp(t, regexp.MustCompile(`pets\.db\.\d{4}-\d{2}-\d{2}\.V1(-\d+)?\.bak$`), s.BackupPath())
	_, statErr := os.Stat(s.BackupPath())
	require.NoError(t, statErr)

	// The migrated column is usable.
	_, err = s.Exec(ctx, `INSERT INTO pets (id, name, age) VALUES (1, 'Rex', 3)`)
	require.NoError(t, err)
}

func TestOpen_RepeatedMigrationBackupsGetSuffixes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pets.db")

	makeStoreAtVersion(t, path, petSchema(), 1)
	s := openTestStore(t, path, OpenCreate)
	first := s.BackupPath()
	require.NoError(t, s.Close())

	// Roll the store back to v1 and migrate again the same day: the
	// second backup must not overwrite the first.
	require.NoError(t, os.Remove(path))
	makeStoreAtVersion(t, path, petSchema(), 1)
	s2 := openTestStore(t, path, OpenCreate)
	second := s2.BackupPath()

	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
	assert.Len(t, backupFiles(t, dir), 2)
}

func TestOpen_MigrationFailureLeavesStoreAtOldVersion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "pets.db")

	schema := petSchema()
	makeStoreAtVersion(t, path, schema, 1)

	// Seed a row that must survive the failed migration.
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=rw")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO pets (id, name) VALUES (1, 'Rex')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	schema.Migrations[1] = func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE pets ADD COLUMN age INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
		return fmt.Errorf("deliberate failure")
	}

	s, err := OpenWithOptions(ctx, path, schema, OpenCreate, Options{Registry: NewOpenRegistry()})
	require.NoError(t, err, "a failed migration still yields an open handle")
	defer s.Close()

	require.Error(t, s.MigrationError())
	assert.Contains(t, s.MigrationError().Error(), "migration to version 2")

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version, "rollback must restore the pre-migration version")

	var name string
	row, err := s.QueryRow(ctx, `SELECT name FROM pets WHERE id = 1`)
	require.NoError(t, err)
	require.NoError(t, row.Scan(&name))
	assert.Equal(t, "Rex", name)

	assert.Empty(t, s.BackupPath())
	assert.Empty(t, backupFiles(t, dir), "backup of a failed migration is removed")
}

func TestOpen_ReadOnlyRecordsMigrationNeed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "pets.db")
	makeStoreAtVersion(t, path, petSchema(), 1)

	s := openTestStore(t, path, OpenReadOnly)
	require.Error(t, s.MigrationError())
	assert.ErrorIs(t, s.MigrationError(), ErrMigrationNeeded)

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version, "read-only open must not migrate")
	assert.Empty(t, backupFiles(t, dir), "read-only open must not back up")
}

func TestOpen_NewerVersionOpensWithWarning(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pets.db")
	makeStoreAtVersion(t, path, petSchema(), 2)

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=rw")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "PRAGMA user_version = 9")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var logBuf bytes.Buffer
	s, err := OpenWithOptions(ctx, path, petSchema(), OpenCreate, Options{
		Logger:   slog.New(slog.NewTextHandler(&logBuf, nil)),
		Registry: NewOpenRegistry(),
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.MigrationError())
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, version, "a newer store is never downgraded")
	assert.Contains(t, logBuf.String(), "newer than this software expects")
}

func TestMigrationChainMatchesCreateSQL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	schema := petSchema()

	freshPath := filepath.Join(dir, "fresh.db")
	fresh := openTestStore(t, freshPath, OpenCreate)

	migratedPath := filepath.Join(dir, "migrated.db")
	makeStoreAtVersion(t, migratedPath, schema, schema.Version())
	migrated := openTestStore(t, migratedPath, OpenCreate)

	freshStructure, err := introspect(ctx, fresh.db)
	require.NoError(t, err)
	migratedStructure, err := introspect(ctx, migrated.db)
	require.NoError(t, err)
	assert.Equal(t, freshStructure, migratedStructure,
		"migrating from scratch and creating fresh must agree")
}

func TestRunInTransaction_NestedCallsCollapse(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "pets.db"), OpenCreate)

	err := s.RunInTransaction(ctx, func(outer *sql.Tx) error {
		if _, err := s.Exec(ctx, `INSERT INTO pets (id, name) VALUES (1, 'Rex')`); err != nil {
			return err
		}
		return s.RunInTransaction(ctx, func(inner *sql.Tx) error {
			assert.Same(t, outer, inner, "nested transaction must share the outermost Tx")
			_, err := s.Exec(ctx, `INSERT INTO pets (id, name) VALUES (2, 'Max')`)
			return err
		})
	})
	require.NoError(t, err)

	var count int
	row, err := s.QueryRow(ctx, `SELECT COUNT(*) FROM pets`)
	require.NoError(t, err)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRunInTransaction_ErrorRollsBackWholeUnit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "pets.db"), OpenCreate)

	boom := fmt.Errorf("inner failure")
	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := s.Exec(ctx, `INSERT INTO pets (id, name) VALUES (1, 'Rex')`); err != nil {
			return err
		}
		// The inner unit's failure must undo the outer insert too.
		return s.RunInTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := s.Exec(ctx, `INSERT INTO pets (id, name) VALUES (2, 'Max')`); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	var count int
	row, err := s.QueryRow(ctx, `SELECT COUNT(*) FROM pets`)
	require.NoError(t, err)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 0, count)
}

func TestVacuum_DeferredWhileInTransaction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "pets.db"), OpenCreate)

	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.Vacuum(ctx); err != nil {
			return err
		}
		assert.True(t, s.vacuumPending, "vacuum inside a transaction must be deferred")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.vacuumPending, "deferred vacuum runs after commit")

	// Outside a transaction it runs directly.
	require.NoError(t, s.Vacuum(ctx))
}

func TestStore_ClosedHandleErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "pets.db"), OpenCreate)
	require.NoError(t, s.Close())

	_, err := s.Exec(ctx, `SELECT 1`)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Query(ctx, `SELECT 1`)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.QueryRow(ctx, `SELECT 1`)
	assert.ErrorIs(t, err, ErrClosed)
	err = s.RunInTransaction(ctx, func(tx *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Vacuum(ctx), ErrClosed)
	assert.NoError(t, s.Close(), "double close is harmless")
}

func TestOpenRegistry_WarnsOnDoubleOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pets.db")
	registry := NewOpenRegistry()

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	s1, err := OpenWithOptions(ctx, path, petSchema(), OpenCreate, Options{
		Logger: logger, Registry: registry,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, registry.OpenCount(path))
	assert.NotContains(t, logBuf.String(), "opened more than once")

	s2, err := OpenWithOptions(ctx, path, petSchema(), OpenCreate, Options{
		Logger: logger, Registry: registry,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, registry.OpenCount(path))
	assert.Contains(t, logBuf.String(), "opened more than once")

	require.NoError(t, s2.Close())
	assert.Equal(t, 1, registry.OpenCount(path))
	require.NoError(t, s1.Close())
	assert.Equal(t, 0, registry.OpenCount(path))
}
