package docstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swuecho/grist-core/internal/actions"
	"github.com/swuecho/grist-core/internal/schema"
	"github.com/swuecho/grist-core/internal/storage"
)

func testOptions() storage.Options {
	return storage.Options{Registry: storage.NewOpenRegistry()}
}

func petsDocument() *schema.Document {
	return &schema.Document{Tables: []schema.Table{
		{ID: "Pets", Columns: []schema.Column{
			{ID: "name", Type: "Text"},
			{ID: "age", Type: "Int"},
		}},
	}}
}

// createPetsDoc makes a fresh document with the Pets table declared.
func createPetsDoc(t *testing.T) (*DocStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.grist")
	d, err := CreateWithSchema(context.Background(), path, "doc-test", petsDocument(), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, path
}

func TestCreate_RefusesExistingDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.grist")

	d, err := Create(ctx, path, "doc-1", testOptions())
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Create(ctx, path, "doc-2", testOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrExists)
}

func TestCreateWithSchema_RejectsReservedTableID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.grist")
	doc := &schema.Document{Tables: []schema.Table{{ID: "action_log"}}}

	_, err := CreateWithSchema(context.Background(), path, "doc-1", doc, testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestCreateWithSchema_FailureLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.grist")
	// Duplicate column ids make the CREATE TABLE fail after the store
	// file already exists on disk.
	doc := &schema.Document{Tables: []schema.Table{
		{ID: "Pets", Columns: []schema.Column{
			{ID: "name", Type: "Text"},
			{ID: "name", Type: "Text"},
		}},
	}}

	_, err := CreateWithSchema(ctx, path, "doc-1", doc, testOptions())
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr),
		"a failed create must not leave a partial document behind")

	// The path is free again, so a corrected retry succeeds.
	d, err := CreateWithSchema(ctx, path, "doc-1", petsDocument(), testOptions())
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestApplyBundle_FetchTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	err := d.ApplyBundle(ctx, []actions.DocAction{
		&actions.BulkAddRecord{
			Table:  "Pets",
			RowIDs: []int64{2, 1},
			Columns: actions.BulkColValues{
				"name": {"Max", "Rex"},
				"age":  {int64(5), int64(3)},
			},
		},
		// Missing columns are filled with the type default.
		&actions.AddRecord{Table: "Pets", RowID: 3, Values: actions.ColValues{"name": "Bella"}},
		&actions.UpdateRecord{Table: "Pets", RowID: 1, Values: actions.ColValues{"age": int64(4)}},
		&actions.RemoveRecord{Table: "Pets", RowID: 2},
	})
	require.NoError(t, err)

	snap, err := d.FetchTable(ctx, "Pets")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, snap.RowIDs, "fetch orders rows by id")
	assert.Equal(t, []any{"Rex", "Bella"}, snap.Columns["name"])
	assert.Equal(t, []any{int64(4), int64(0)}, snap.Columns["age"])
	assert.NotContains(t, snap.Columns, "id")
}

func TestApplyBundle_RollsBackAsOneUnit(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	err := d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddTable{Table: "Dogs", Columns: []actions.ColSpec{{ID: "name", Type: "Text"}}},
		&actions.AddRecord{Table: "Pets", RowID: 1, Values: actions.ColValues{"name": "Rex"}},
		&actions.AddRecord{Table: "Nowhere", RowID: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action 2")

	snap, err := d.FetchTable(ctx, "Pets")
	require.NoError(t, err)
	assert.Empty(t, snap.RowIDs, "the earlier actions must roll back with the failed one")

	assert.Equal(t, []string{"Pets"}, d.Tables(),
		"a rolled-back AddTable must not linger in the table metadata")
	_, err = d.FetchTable(ctx, "Dogs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")

	entries, err := d.ReadActionLog(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the schema bundle from create is logged")
}

func TestApplyBundle_RolledBackRemoveTableStaysUsable(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddRecord{Table: "Pets", RowID: 1, Values: actions.ColValues{"name": "Rex", "age": int64(3)}},
	}))

	err := d.ApplyBundle(ctx, []actions.DocAction{
		&actions.RemoveTable{Table: "Pets"},
		&actions.AddRecord{Table: "Nowhere", RowID: 1},
	})
	require.Error(t, err)

	assert.Equal(t, []string{"Pets"}, d.Tables())
	snap, err := d.FetchTable(ctx, "Pets")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, snap.RowIDs, "a rolled-back removal must leave the table readable")

	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddRecord{Table: "Pets", RowID: 2, Values: actions.ColValues{"name": "Max"}},
	}), "a rolled-back removal must leave the table writable")
}

func TestActionLog_ReadBack(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddRecord{Table: "Pets", RowID: 1, Values: actions.ColValues{"name": "Rex", "age": int64(3)}},
	}))
	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.RemoveRecord{Table: "Pets", RowID: 1},
	}))

	entries, err := d.ReadActionLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3, "create schema bundle plus two applied bundles")

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq, "sequence numbers are dense from 1")
		_, err := uuid.Parse(entry.ID)
		assert.NoError(t, err, "entry ids are UUIDs")
		assert.WithinDuration(t, time.Now(), entry.AppliedAt, time.Minute)
	}

	// The log round-trips through the wire encoding, so numbers come
	// back as JSON numbers.
	add, ok := entries[1].Actions[0].(*actions.AddRecord)
	require.True(t, ok)
	assert.Equal(t, "Pets", add.Table)
	assert.Equal(t, int64(1), add.RowID)
	assert.Equal(t, "Rex", add.Values["name"])
	assert.Equal(t, float64(3), add.Values["age"])

	_, ok = entries[2].Actions[0].(*actions.RemoveRecord)
	assert.True(t, ok)
}

func TestSchemaActions_PersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	d, path := createPetsDoc(t)

	err := d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddTable{Table: "Owners", Columns: []actions.ColSpec{{ID: "name", Type: "Text"}}},
		&actions.AddColumn{Table: "Pets", ColID: "owner", Info: actions.ColInfo{Type: "Ref:Owners"}},
		&actions.RenameColumn{Table: "Pets", OldColID: "age", NewColID: "years"},
		&actions.ModifyColumn{Table: "Pets", ColID: "name", Info: actions.ColInfo{Type: "Choice"}},
		&actions.RenameTable{OldTableID: "Owners", NewTableID: "People"},
	})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	reopened, err := Open(ctx, path, storage.OpenExisting, testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"People", "Pets"}, reopened.Tables())
	types, ok := reopened.TableColTypes("Pets")
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"name":  "Choice",
		"years": "Int",
		"owner": "Ref:Owners",
	}, types)
}

func TestAddColumn_BackfillsExistingRows(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddRecord{Table: "Pets", RowID: 1, Values: actions.ColValues{"name": "Rex"}},
	}))
	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddColumn{Table: "Pets", ColID: "nickname", Info: actions.ColInfo{Type: "Text"}},
	}))

	snap, err := d.FetchTable(ctx, "Pets")
	require.NoError(t, err)
	assert.Equal(t, []any{""}, snap.Columns["nickname"], "existing rows get the type default, not NULL")
}

func TestSchemaConflicts_AreNoOps(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddRecord{Table: "Pets", RowID: 1, Values: actions.ColValues{"name": "Rex", "age": int64(3)}},
	}))

	err := d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddTable{Table: "Pets"},
		&actions.AddColumn{Table: "Pets", ColID: "name", Info: actions.ColInfo{Type: "Int"}},
		&actions.RemoveColumn{Table: "Pets", ColID: "ghost"},
		&actions.RenameColumn{Table: "Pets", OldColID: "ghost", NewColID: "spirit"},
		&actions.RenameColumn{Table: "Pets", OldColID: "name", NewColID: "age"},
		&actions.ModifyColumn{Table: "Pets", ColID: "ghost", Info: actions.ColInfo{Type: "Text"}},
		&actions.RemoveTable{Table: "Nowhere"},
		&actions.RenameTable{OldTableID: "Nowhere", NewTableID: "Pets"},
	})
	require.NoError(t, err, "inapplicable schema changes are no-ops, never errors")

	snap, err := d.FetchTable(ctx, "Pets")
	require.NoError(t, err)
	assert.Equal(t, []any{"Rex"}, snap.Columns["name"])
	assert.Equal(t, []any{int64(3)}, snap.Columns["age"])
}

func TestReplaceTableData(t *testing.T) {
	ctx := context.Background()
	d, _ := createPetsDoc(t)

	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.BulkAddRecord{Table: "Pets", RowIDs: []int64{1, 2}, Columns: actions.BulkColValues{
			"name": {"Rex", "Max"},
		}},
	}))
	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.ReplaceTableData{Table: "Pets", RowIDs: []int64{10}, Columns: actions.BulkColValues{
			"name": {"Solo"},
			"age":  {int64(1)},
		}},
	}))

	snap, err := d.FetchTable(ctx, "Pets")
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, snap.RowIDs)
	assert.Equal(t, []any{"Solo"}, snap.Columns["name"])
}

func TestFetchTable_UnknownTable(t *testing.T) {
	d, _ := createPetsDoc(t)
	_, err := d.FetchTable(context.Background(), "Nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")
}

func TestOpen_MigratesVersionOneDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.grist")

	// Lay down a document the way version-1 software would have: the
	// three original metadata tables, no action log, no settings.
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=rwc")
	require.NoError(t, err)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, migrateToV1(ctx, tx))
	_, err = tx.ExecContext(ctx, "PRAGMA user_version = 1")
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx,
		"INSERT INTO doc_info (doc_id, created_at) VALUES ('old-doc', 1700000000)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	d, err := Open(ctx, path, storage.OpenExisting, testOptions())
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Store().MigrationError())

	version, err := d.Store().SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, DocSchema.Version(), version)
	assert.NotEmpty(t, d.Store().BackupPath())

	// Migrated capabilities work: the action log exists and the
	// settings column was added without disturbing old rows.
	require.NoError(t, d.ApplyBundle(ctx, []actions.DocAction{
		&actions.AddTable{Table: "Pets", Columns: []actions.ColSpec{{ID: "name", Type: "Text"}}},
	}))
	entries, err := d.ReadActionLog(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	var docID string
	var settings sql.NullString
	row, err := d.Store().QueryRow(ctx, "SELECT doc_id, settings FROM doc_info")
	require.NoError(t, err)
	require.NoError(t, row.Scan(&docID, &settings))
	assert.Equal(t, "old-doc", docID)
	assert.False(t, settings.Valid)
}

func TestSQLType(t *testing.T) {
	assert.Equal(t, "TEXT", sqlType("Text"))
	assert.Equal(t, "TEXT", sqlType("Choice"))
	assert.Equal(t, "INTEGER", sqlType("Int"))
	assert.Equal(t, "INTEGER", sqlType("Ref:Owners"))
	assert.Equal(t, "BOOLEAN", sqlType("Bool"))
	assert.Equal(t, "NUMERIC", sqlType("Numeric"))
	assert.Equal(t, "DATE", sqlType("Date"))
	assert.Equal(t, "DATETIME", sqlType("DateTime"))
	assert.Equal(t, "BLOB", sqlType("RefList:Owners"))
	assert.Equal(t, "BLOB", sqlType("Any"))
}
