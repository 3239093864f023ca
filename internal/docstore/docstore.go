package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/swuecho/grist-core/internal/actions"
	"github.com/swuecho/grist-core/internal/schema"
	"github.com/swuecho/grist-core/internal/storage"
)

// DocStorage persists a document in one SQLite file. It is a sibling
// consumer of the same action vocabulary the in-memory TableData
// consumes: every document action is translated into SQL against the
// user tables, and each applied bundle is appended to the action log.
type DocStorage struct {
	store *storage.Store
	log   *slog.Logger

	// tables caches each user table's ordered column metadata, loaded
	// from doc_columns on open and maintained by schema actions.
	tables map[string][]colMeta
}

type colMeta struct {
	id  string
	typ string
}

// Create creates a new document at path, failing with
// storage.ErrExists if one is already present. A failed create removes
// the partial file, so a retry does not trip the exclusive-create
// conflict against a document that never finished.
func Create(ctx context.Context, path, docID string, opts storage.Options) (*DocStorage, error) {
	store, err := storage.OpenWithOptions(ctx, path, DocSchema, storage.CreateExclusive, opts)
	if err != nil {
		return nil, err
	}
	d := &DocStorage{store: store, log: loggerFrom(opts), tables: make(map[string][]colMeta)}
	err = store.RunInTransaction(ctx, func(tx *sql.Tx) error {
		_, err := store.Exec(ctx,
			"INSERT INTO doc_info (doc_id, created_at) VALUES (?, ?)",
			docID, time.Now().Unix())
		return err
	})
	if err != nil {
		d.removePartial(path)
		return nil, fmt.Errorf("create document %s: %w", path, err)
	}
	return d, nil
}

// removePartial discards a document whose creation did not complete.
func (d *DocStorage) removePartial(path string) {
	d.store.Close()
	if err := os.Remove(path); err != nil {
		d.log.Warn("could not remove partially created document", "path", path, "error", err)
	}
}

// CreateWithSchema creates a new document and declares the given user
// tables by applying their AddTable actions as one bundle.
func CreateWithSchema(ctx context.Context, path, docID string, doc *schema.Document, opts storage.Options) (*DocStorage, error) {
	for _, table := range doc.Tables {
		if isMetaTable(table.ID) {
			return nil, fmt.Errorf("create document %s: table id %q is reserved", path, table.ID)
		}
	}
	d, err := Create(ctx, path, docID, opts)
	if err != nil {
		return nil, err
	}
	bundle := make([]actions.DocAction, len(doc.Tables))
	for i := range doc.Tables {
		bundle[i] = doc.Tables[i].AddTableAction()
	}
	if err := d.ApplyBundle(ctx, bundle); err != nil {
		d.removePartial(path)
		return nil, err
	}
	return d, nil
}

// Open opens an existing document. Callers must check
// Store().MigrationError before trusting writes.
func Open(ctx context.Context, path string, mode storage.OpenMode, opts storage.Options) (*DocStorage, error) {
	store, err := storage.OpenWithOptions(ctx, path, DocSchema, mode, opts)
	if err != nil {
		return nil, err
	}
	d := &DocStorage{store: store, log: loggerFrom(opts), tables: make(map[string][]colMeta)}
	if err := d.loadTableCache(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

func loggerFrom(opts storage.Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.Default()
}

// Store exposes the underlying transactional store, including the
// diagnostic BackupPath and MigrationError fields set during open.
func (d *DocStorage) Store() *storage.Store { return d.store }

// Close closes the underlying store.
func (d *DocStorage) Close() error { return d.store.Close() }

func (d *DocStorage) loadTableCache(ctx context.Context) error {
	rows, err := d.store.Query(ctx, `
		SELECT t.table_id, c.col_id, c.col_type
		FROM doc_tables t JOIN doc_columns c ON c.table_ref = t.id
		ORDER BY t.table_id, c.id
	`)
	if err != nil {
		return fmt.Errorf("load table metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tableID, colID, colType string
		if err := rows.Scan(&tableID, &colID, &colType); err != nil {
			return fmt.Errorf("load table metadata: %w", err)
		}
		d.tables[tableID] = append(d.tables[tableID], colMeta{id: colID, typ: colType})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load table metadata: %w", err)
	}
	// Tables declared without columns still need a cache entry.
	trows, err := d.store.Query(ctx, "SELECT table_id FROM doc_tables")
	if err != nil {
		return fmt.Errorf("load table metadata: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var tableID string
		if err := trows.Scan(&tableID); err != nil {
			return fmt.Errorf("load table metadata: %w", err)
		}
		if _, ok := d.tables[tableID]; !ok {
			d.tables[tableID] = nil
		}
	}
	return trows.Err()
}

// Tables returns the ids of the document's user tables, sorted.
func (d *DocStorage) Tables() []string {
	ids := make([]string, 0, len(d.tables))
	for id := range d.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TableColTypes returns the column-id to type map of one user table,
// suitable for constructing a TableData. ok is false for an unknown
// table.
func (d *DocStorage) TableColTypes(tableID string) (map[string]string, bool) {
	cols, ok := d.tables[tableID]
	if !ok {
		return nil, false
	}
	types := make(map[string]string, len(cols))
	for _, col := range cols {
		types[col.id] = col.typ
	}
	return types, true
}

// ApplyBundle applies an ordered sequence of document actions and
// appends them to the action log, all in one transaction. Any
// dispatch failure (including an unknown action) rolls back the whole
// bundle.
//
// Schema actions work against a staged copy of the table cache, which
// replaces the live cache only after the transaction commits. A
// rolled-back bundle therefore leaves the cache exactly as it was.
func (d *DocStorage) ApplyBundle(ctx context.Context, bundle []actions.DocAction) error {
	h := &sqlHandler{d: d, ctx: ctx, tables: cloneTableMeta(d.tables)}
	err := d.store.RunInTransaction(ctx, func(tx *sql.Tx) error {
		for i, a := range bundle {
			if err := actions.Dispatch(h, a); err != nil {
				return fmt.Errorf("apply bundle: action %d: %w", i, err)
			}
		}
		return d.appendActionLog(ctx, bundle)
	})
	if err != nil {
		return err
	}
	d.tables = h.tables
	return nil
}

// cloneTableMeta copies the cache map and each column slice, so that
// in-place column edits on the copy never reach the original.
func cloneTableMeta(tables map[string][]colMeta) map[string][]colMeta {
	clone := make(map[string][]colMeta, len(tables))
	for id, cols := range tables {
		clone[id] = slices.Clone(cols)
	}
	return clone
}

func (d *DocStorage) appendActionLog(ctx context.Context, bundle []actions.DocAction) error {
	body, err := actions.MarshalBundle(bundle)
	if err != nil {
		return fmt.Errorf("action log: %w", err)
	}
	row, err := d.store.QueryRow(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM action_log")
	if err != nil {
		return fmt.Errorf("action log: %w", err)
	}
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("action log: %w", err)
	}
	_, err = d.store.Exec(ctx,
		"INSERT INTO action_log (id, seq, applied_at, body) VALUES (?, ?, ?, ?)",
		uuid.Must(uuid.NewV7()).String(), seq, time.Now().Unix(), string(body))
	if err != nil {
		return fmt.Errorf("action log: %w", err)
	}
	return nil
}

// ActionLogEntry is one applied bundle read back from the action log.
type ActionLogEntry struct {
	ID        string
	Seq       int64
	AppliedAt time.Time
	Actions   []actions.DocAction
}

// ReadActionLog returns the applied bundles in sequence order.
func (d *DocStorage) ReadActionLog(ctx context.Context) ([]ActionLogEntry, error) {
	rows, err := d.store.Query(ctx,
		"SELECT id, seq, applied_at, body FROM action_log ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("read action log: %w", err)
	}
	defer rows.Close()
	var entries []ActionLogEntry
	for rows.Next() {
		var (
			entry   ActionLogEntry
			applied int64
			body    string
		)
		if err := rows.Scan(&entry.ID, &entry.Seq, &applied, &body); err != nil {
			return nil, fmt.Errorf("read action log: %w", err)
		}
		entry.AppliedAt = time.Unix(applied, 0)
		entry.Actions, err = actions.UnmarshalBundle([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("read action log: seq %d: %w", entry.Seq, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FetchTable reads a user table's full contents as a TableData
// snapshot, rows ordered by id. Suitable as the fetch collaborator of
// an in-memory TableData.
func (d *DocStorage) FetchTable(ctx context.Context, tableID string) (*actions.TableDataAction, error) {
	cols, ok := d.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("fetch table: unknown table %q", tableID)
	}

	query := "SELECT id"
	for _, col := range cols {
		query += ", " + storage.QuoteIdent(col.id)
	}
	query += " FROM " + storage.QuoteIdent(tableID) + " ORDER BY id"

	rows, err := d.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch table %s: %w", tableID, err)
	}
	defer rows.Close()

	snap := &actions.TableDataAction{
		Table:   tableID,
		RowIDs:  []int64{},
		Columns: make(actions.BulkColValues, len(cols)),
	}
	for _, col := range cols {
		snap.Columns[col.id] = []any{}
	}
	for rows.Next() {
		dest := make([]any, len(cols)+1)
		var rowID int64
		dest[0] = &rowID
		cells := make([]any, len(cols))
		for i := range cells {
			dest[i+1] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("fetch table %s: %w", tableID, err)
		}
		snap.RowIDs = append(snap.RowIDs, rowID)
		for i, col := range cols {
			snap.Columns[col.id] = append(snap.Columns[col.id], normalizeCell(cells[i]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch table %s: %w", tableID, err)
	}
	return snap, nil
}

// normalizeCell converts driver byte slices to strings; other values
// pass through as scanned (int64, float64, bool, nil).
func normalizeCell(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
