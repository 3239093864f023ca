package table

import (
	"fmt"
	"reflect"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/swuecho/grist-core/internal/actions"
)

// TableData is the in-memory columnar store for a single table. Row
// data lives in dense parallel slices, one per column, indexed by
// storage position; a stable integer row id identifies each row
// independently of its position. The bidirectional index maintains
// rowIDs[rowMap[id]] == id for every resident row.
//
// Mutations happen only by applying document actions through
// ReceiveAction; the query methods are pure reads. A TableData is not
// safe for concurrent use except for FetchData, which coalesces
// concurrent fetches of an unloaded table into one in-flight call.
type TableData struct {
	tableID string

	// loaded is set by the first full or partial load and cleared when
	// the table itself is removed by an action. While unset, row-data
	// actions are skipped and reads see an empty table.
	loaded bool

	columns  map[string]*columnData // declared columns; excludes synthetic "id"
	colOrder []string               // declaration order of columns

	rowIDs []int64       // storage position -> row id
	rowMap map[int64]int // row id -> storage position

	fetch singleflight.Group
}

// NewTableData constructs an empty, unloaded table with the given
// column-id to type mapping. The synthetic "id" column must not be
// declared; it is always present as a view over the row ids.
func NewTableData(tableID string, colTypes map[string]string) *TableData {
	t := &TableData{
		tableID: tableID,
		columns: make(map[string]*columnData, len(colTypes)),
		rowMap:  make(map[int64]int),
	}
	ids := make([]string, 0, len(colTypes))
	for colID := range colTypes {
		ids = append(ids, colID)
	}
	slices.Sort(ids)
	for _, colID := range ids {
		if colID == "id" {
			continue
		}
		t.columns[colID] = newColumnData(colID, colTypes[colID])
		t.colOrder = append(t.colOrder, colID)
	}
	return t
}

// TableID returns the table's current id. It changes when a
// RenameTable action is applied.
func (t *TableData) TableID() string { return t.tableID }

// IsLoaded reports whether the table has ever been populated and not
// since removed.
func (t *TableData) IsLoaded() bool { return t.loaded }

// NumRecords returns the number of resident rows.
func (t *TableData) NumRecords() int { return len(t.rowIDs) }

// LoadData replaces all rows and all declared columns wholesale from a
// full snapshot. Columns absent from the snapshot are filled with their
// type default, one per row; columns present in the snapshot but not
// declared are ignored. Returns the row ids that were resident before
// the load, for callers that diff old against new state.
func (t *TableData) LoadData(data *actions.TableDataAction) []int64 {
	oldIDs := slices.Clone(t.rowIDs)

	t.rowIDs = slices.Clone(data.RowIDs)
	t.rowMap = make(map[int64]int, len(t.rowIDs))
	for i, id := range t.rowIDs {
		t.rowMap[id] = i
	}
	for _, col := range t.columns {
		if vals, ok := data.Columns[col.colID]; ok && len(vals) == len(t.rowIDs) {
			col.values = slices.Clone(vals)
		} else {
			col.fill(len(t.rowIDs))
		}
	}
	t.loaded = true
	return oldIDs
}

// LoadPartial adds a subset of rows without replacing resident data,
// re-expressed internally as a bulk add. It also marks the table
// loaded, so demand-paged tables become queryable without a full load.
func (t *TableData) LoadPartial(data *actions.TableDataAction) {
	t.loaded = true
	t.bulkAddRecord(data.RowIDs, data.Columns)
}

// UnloadPartial removes a subset of rows, re-expressed internally as a
// bulk remove. Row ids that are not resident are ignored.
func (t *TableData) UnloadPartial(rowIDs []int64) {
	if !t.loaded {
		return
	}
	t.bulkRemoveRecord(rowIDs)
}

// ReceiveAction applies one document action. Row-data actions are
// skipped (returning false) unless the table has been loaded; schema
// actions always apply. A best-effort ordering tolerance, not an error:
// data for a lazily loaded table may legitimately arrive before the
// load does.
func (t *TableData) ReceiveAction(a actions.DocAction) (bool, error) {
	if !t.loaded && !actions.IsSchemaAction(a) {
		return false, nil
	}
	if err := actions.Dispatch(tableHandler{t}, a); err != nil {
		return false, fmt.Errorf("table %s: %w", t.tableID, err)
	}
	return true, nil
}

// GetTableDataAction exports the table's current contents as a full
// snapshot. The synthetic id column is carried in the action's RowIDs,
// not in its value map. All slices are copies.
func (t *TableData) GetTableDataAction() *actions.TableDataAction {
	cols := make(actions.BulkColValues, len(t.columns))
	for colID, col := range t.columns {
		cols[colID] = slices.Clone(col.values)
	}
	return &actions.TableDataAction{
		Table:   t.tableID,
		RowIDs:  slices.Clone(t.rowIDs),
		Columns: cols,
	}
}

// GetValue returns the cell at (rowID, colID), or ok=false if either
// the row or the column is absent. The synthetic "id" column yields the
// row id itself.
func (t *TableData) GetValue(rowID int64, colID string) (any, bool) {
	pos, ok := t.rowMap[rowID]
	if !ok {
		return nil, false
	}
	if colID == "id" {
		return t.rowIDs[pos], true
	}
	col, ok := t.columns[colID]
	if !ok {
		return nil, false
	}
	return col.values[pos], true
}

// GetRowIDs returns all resident row ids. The order is storage order,
// which is not stable across removals; callers that need a stable
// order must use GetSortedRowIDs.
func (t *TableData) GetRowIDs() []int64 {
	return slices.Clone(t.rowIDs)
}

// GetSortedRowIDs returns all resident row ids sorted ascending.
func (t *TableData) GetSortedRowIDs() []int64 {
	ids := slices.Clone(t.rowIDs)
	slices.Sort(ids)
	return ids
}

// GetColValues returns a copy of a column's dense value sequence,
// parallel in index to GetRowIDs as long as no mutation intervenes
// between the two calls. ok is false for an undeclared column.
func (t *TableData) GetColValues(colID string) ([]any, bool) {
	if colID == "id" {
		vals := make([]any, len(t.rowIDs))
		for i, id := range t.rowIDs {
			vals[i] = id
		}
		return vals, true
	}
	col, ok := t.columns[colID]
	if !ok {
		return nil, false
	}
	return slices.Clone(col.values), true
}

// GetDistinctValues returns up to limit distinct values of a column,
// scanning in storage order and stopping early once the limit is
// reached. limit <= 0 means no limit. The result is a valid sample but
// not necessarily the first N in any logical order.
func (t *TableData) GetDistinctValues(colID string, limit int) ([]any, bool) {
	vals, ok := t.GetColValues(colID)
	if !ok {
		return nil, false
	}
	seen := make(map[any]struct{})
	var distinct, unhashable []any
	for _, v := range vals {
		if limit > 0 && len(distinct) >= limit {
			break
		}
		if v == nil || reflect.TypeOf(v).Comparable() {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
		} else {
			if slices.ContainsFunc(unhashable, func(u any) bool { return reflect.DeepEqual(u, v) }) {
				continue
			}
			unhashable = append(unhashable, v)
		}
		distinct = append(distinct, v)
	}
	return distinct, true
}

// GetRecord materializes one row as a map keyed by column id,
// including "id". ok is false if the row is absent.
func (t *TableData) GetRecord(rowID int64) (map[string]any, bool) {
	pos, ok := t.rowMap[rowID]
	if !ok {
		return nil, false
	}
	return t.recordAt(pos), true
}

// GetRecords materializes all resident rows in storage order.
func (t *TableData) GetRecords() []map[string]any {
	recs := make([]map[string]any, len(t.rowIDs))
	for i := range t.rowIDs {
		recs[i] = t.recordAt(i)
	}
	return recs
}

// FilterRecords returns the rows whose named columns all equal the
// given values (conjunction). An undeclared column in props matches
// nothing.
func (t *TableData) FilterRecords(props map[string]any) []map[string]any {
	var recs []map[string]any
	for i := range t.rowIDs {
		if t.matchesAt(i, props) {
			recs = append(recs, t.recordAt(i))
		}
	}
	return recs
}

// FindRow returns the id of the first row in storage order whose colID
// value equals value. ok reports whether a match was found; this
// replaces the historical 0 sentinel, which is ambiguous if a row id 0
// ever exists.
func (t *TableData) FindRow(colID string, value any) (int64, bool) {
	col, colOK := t.columns[colID]
	if !colOK {
		return 0, false
	}
	for i, v := range col.values {
		if valuesEqual(v, value) {
			return t.rowIDs[i], true
		}
	}
	return 0, false
}

func (t *TableData) recordAt(pos int) map[string]any {
	rec := make(map[string]any, len(t.columns)+1)
	rec["id"] = t.rowIDs[pos]
	for colID, col := range t.columns {
		rec[colID] = col.values[pos]
	}
	return rec
}

func (t *TableData) matchesAt(pos int, props map[string]any) bool {
	for colID, want := range props {
		if colID == "id" {
			if !valuesEqual(t.rowIDs[pos], want) {
				return false
			}
			continue
		}
		col, ok := t.columns[colID]
		if !ok || !valuesEqual(col.values[pos], want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// tableHandler adapts TableData to the dispatcher contract. It is
// unexported so that mutations cannot bypass ReceiveAction.
type tableHandler struct{ t *TableData }

func (h tableHandler) AddRecord(tableID string, rowID int64, values actions.ColValues) error {
	h.t.addRecord(rowID, values)
	return nil
}

func (h tableHandler) BulkAddRecord(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	h.t.bulkAddRecord(rowIDs, columns)
	return nil
}

func (h tableHandler) RemoveRecord(tableID string, rowID int64) error {
	h.t.removeRecord(rowID)
	return nil
}

func (h tableHandler) BulkRemoveRecord(tableID string, rowIDs []int64) error {
	h.t.bulkRemoveRecord(rowIDs)
	return nil
}

func (h tableHandler) UpdateRecord(tableID string, rowID int64, values actions.ColValues) error {
	h.t.updateRecord(rowID, values)
	return nil
}

func (h tableHandler) BulkUpdateRecord(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	for i, rowID := range rowIDs {
		vals := make(actions.ColValues, len(columns))
		for colID, colVals := range columns {
			if i < len(colVals) {
				vals[colID] = colVals[i]
			}
		}
		h.t.updateRecord(rowID, vals)
	}
	return nil
}

func (h tableHandler) ReplaceTableData(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	h.t.LoadData(&actions.TableDataAction{Table: tableID, RowIDs: rowIDs, Columns: columns})
	return nil
}

func (h tableHandler) TableData(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	h.t.LoadData(&actions.TableDataAction{Table: tableID, RowIDs: rowIDs, Columns: columns})
	return nil
}

func (h tableHandler) AddColumn(tableID, colID string, info actions.ColInfo) error {
	t := h.t
	if colID == "id" {
		return nil
	}
	if _, exists := t.columns[colID]; exists {
		return nil // schema conflicts are no-ops
	}
	col := newColumnData(colID, info.Type)
	col.fill(len(t.rowIDs))
	t.columns[colID] = col
	t.colOrder = append(t.colOrder, colID)
	return nil
}

func (h tableHandler) RemoveColumn(tableID, colID string) error {
	t := h.t
	if _, exists := t.columns[colID]; !exists {
		return nil
	}
	delete(t.columns, colID)
	t.colOrder = slices.DeleteFunc(t.colOrder, func(id string) bool { return id == colID })
	return nil
}

func (h tableHandler) RenameColumn(tableID, oldColID, newColID string) error {
	t := h.t
	col, exists := t.columns[oldColID]
	if !exists || newColID == "id" || oldColID == newColID {
		return nil
	}
	delete(t.columns, oldColID)
	col.colID = newColID
	t.columns[newColID] = col
	for i, id := range t.colOrder {
		if id == oldColID {
			t.colOrder[i] = newColID
		}
	}
	t.colOrder = dedupKeepFirst(t.colOrder)
	return nil
}

func (h tableHandler) ModifyColumn(tableID, colID string, info actions.ColInfo) error {
	col, exists := h.t.columns[colID]
	if !exists {
		return nil
	}
	// Retype changes only the tag and the default for future rows;
	// stored values are not converted.
	col.typ = info.Type
	col.defl = DefaultForType(info.Type)
	return nil
}

func (h tableHandler) AddTable(tableID string, columns []actions.ColSpec) error {
	t := h.t
	for _, spec := range columns {
		if spec.ID == "id" {
			continue
		}
		if _, exists := t.columns[spec.ID]; exists {
			continue
		}
		col := newColumnData(spec.ID, spec.Type)
		col.fill(len(t.rowIDs))
		t.columns[spec.ID] = col
		t.colOrder = append(t.colOrder, spec.ID)
	}
	return nil
}

func (h tableHandler) RemoveTable(tableID string) error {
	t := h.t
	// Self-removal: the table becomes unloaded and reads behave as if
	// it is gone. Row storage is discarded immediately; the declared
	// columns remain so a later reload can restore the table.
	t.loaded = false
	t.rowIDs = nil
	t.rowMap = make(map[int64]int)
	for _, col := range t.columns {
		col.values = nil
	}
	return nil
}

func (h tableHandler) RenameTable(oldTableID, newTableID string) error {
	h.t.tableID = newTableID
	return nil
}

func (t *TableData) addRecord(rowID int64, values actions.ColValues) {
	if _, exists := t.rowMap[rowID]; exists {
		return // duplicate add is inapplicable, skip
	}
	t.rowMap[rowID] = len(t.rowIDs)
	t.rowIDs = append(t.rowIDs, rowID)
	for colID, col := range t.columns {
		if v, ok := values[colID]; ok {
			col.values = append(col.values, v)
		} else {
			col.values = append(col.values, col.defl)
		}
	}
}

func (t *TableData) bulkAddRecord(rowIDs []int64, columns actions.BulkColValues) {
	for i, rowID := range rowIDs {
		vals := make(actions.ColValues, len(columns))
		for colID, colVals := range columns {
			if i < len(colVals) {
				vals[colID] = colVals[i]
			}
		}
		t.addRecord(rowID, vals)
	}
}

// removeRecord deletes a row by moving the last row's values into the
// freed position and shortening every column by one. This keeps all
// columns dense without shifting, at the cost of unstable storage
// order after any removal.
func (t *TableData) removeRecord(rowID int64) {
	pos, ok := t.rowMap[rowID]
	if !ok {
		return
	}
	last := len(t.rowIDs) - 1
	if pos != last {
		moved := t.rowIDs[last]
		t.rowIDs[pos] = moved
		t.rowMap[moved] = pos
		for _, col := range t.columns {
			col.values[pos] = col.values[last]
		}
	}
	t.rowIDs = t.rowIDs[:last]
	for _, col := range t.columns {
		col.values[last] = nil // release reference
		col.values = col.values[:last]
	}
	delete(t.rowMap, rowID)
}

func (t *TableData) bulkRemoveRecord(rowIDs []int64) {
	for _, rowID := range rowIDs {
		t.removeRecord(rowID)
	}
}

func (t *TableData) updateRecord(rowID int64, values actions.ColValues) {
	pos, ok := t.rowMap[rowID]
	if !ok {
		return
	}
	for colID, v := range values {
		if col, exists := t.columns[colID]; exists {
			col.values[pos] = v
		}
	}
}

func dedupKeepFirst(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
