package docstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/swuecho/grist-core/internal/actions"
	"github.com/swuecho/grist-core/internal/storage"
	"github.com/swuecho/grist-core/internal/table"
)

// removeChunk bounds the IN (...) list of a bulk delete.
const removeChunk = 500

// sqlHandler translates dispatched document actions into SQL. It runs
// inside the bundle transaction opened by ApplyBundle, so the store
// routes every statement into that transaction. Schema actions mutate
// the handler's staged copy of the table cache, never the live one;
// ApplyBundle installs the staged copy only after the transaction
// commits, so a rolled-back bundle leaves cache and database agreeing.
//
// Schema conflicts (adding an existing column, removing an absent one,
// and so on) are no-ops per the dispatch contract. Row actions against
// an unknown table are errors: the durable store has no lazy-load skip
// window, its tables exist from the moment their AddTable is applied.
type sqlHandler struct {
	d      *DocStorage
	ctx    context.Context
	tables map[string][]colMeta
}

func (h *sqlHandler) cols(tableID string) ([]colMeta, error) {
	cols, ok := h.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", tableID)
	}
	return cols, nil
}

func (h *sqlHandler) AddRecord(tableID string, rowID int64, values actions.ColValues) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	return h.insertRow(tableID, cols, rowID, func(colID string) (any, bool) {
		v, ok := values[colID]
		return v, ok
	})
}

func (h *sqlHandler) BulkAddRecord(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	for i, rowID := range rowIDs {
		err := h.insertRow(tableID, cols, rowID, func(colID string) (any, bool) {
			vals, ok := columns[colID]
			if !ok || i >= len(vals) {
				return nil, false
			}
			return vals[i], true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// insertRow inserts one row, filling columns the action does not carry
// with their type default.
func (h *sqlHandler) insertRow(tableID string, cols []colMeta, rowID int64, value func(colID string) (any, bool)) error {
	names := []string{"id"}
	args := []any{rowID}
	for _, col := range cols {
		names = append(names, storage.QuoteIdent(col.id))
		if v, ok := value(col.id); ok {
			args = append(args, v)
		} else {
			args = append(args, table.DefaultForType(col.typ))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		storage.QuoteIdent(tableID),
		strings.Join(names, ", "),
		placeholders(len(names)))
	if _, err := h.d.store.Exec(h.ctx, query, args...); err != nil {
		return fmt.Errorf("add record %s[%d]: %w", tableID, rowID, err)
	}
	return nil
}

func (h *sqlHandler) RemoveRecord(tableID string, rowID int64) error {
	if _, err := h.cols(tableID); err != nil {
		return err
	}
	query := "DELETE FROM " + storage.QuoteIdent(tableID) + " WHERE id = ?"
	if _, err := h.d.store.Exec(h.ctx, query, rowID); err != nil {
		return fmt.Errorf("remove record %s[%d]: %w", tableID, rowID, err)
	}
	return nil
}

func (h *sqlHandler) BulkRemoveRecord(tableID string, rowIDs []int64) error {
	if _, err := h.cols(tableID); err != nil {
		return err
	}
	for len(rowIDs) > 0 {
		chunk := rowIDs
		if len(chunk) > removeChunk {
			chunk = chunk[:removeChunk]
		}
		rowIDs = rowIDs[len(chunk):]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)",
			storage.QuoteIdent(tableID), placeholders(len(chunk)))
		if _, err := h.d.store.Exec(h.ctx, query, args...); err != nil {
			return fmt.Errorf("bulk remove %s: %w", tableID, err)
		}
	}
	return nil
}

func (h *sqlHandler) UpdateRecord(tableID string, rowID int64, values actions.ColValues) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	return h.updateRow(tableID, cols, rowID, func(colID string) (any, bool) {
		v, ok := values[colID]
		return v, ok
	})
}

func (h *sqlHandler) BulkUpdateRecord(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	for i, rowID := range rowIDs {
		err := h.updateRow(tableID, cols, rowID, func(colID string) (any, bool) {
			vals, ok := columns[colID]
			if !ok || i >= len(vals) {
				return nil, false
			}
			return vals[i], true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *sqlHandler) updateRow(tableID string, cols []colMeta, rowID int64, value func(colID string) (any, bool)) error {
	var sets []string
	var args []any
	for _, col := range cols {
		if v, ok := value(col.id); ok {
			sets = append(sets, storage.QuoteIdent(col.id)+" = ?")
			args = append(args, v)
		}
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, rowID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		storage.QuoteIdent(tableID), strings.Join(sets, ", "))
	if _, err := h.d.store.Exec(h.ctx, query, args...); err != nil {
		return fmt.Errorf("update record %s[%d]: %w", tableID, rowID, err)
	}
	return nil
}

func (h *sqlHandler) ReplaceTableData(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	if _, err := h.cols(tableID); err != nil {
		return err
	}
	query := "DELETE FROM " + storage.QuoteIdent(tableID)
	if _, err := h.d.store.Exec(h.ctx, query); err != nil {
		return fmt.Errorf("replace table %s: %w", tableID, err)
	}
	return h.BulkAddRecord(tableID, rowIDs, columns)
}

func (h *sqlHandler) TableData(tableID string, rowIDs []int64, columns actions.BulkColValues) error {
	return h.ReplaceTableData(tableID, rowIDs, columns)
}

func (h *sqlHandler) AddColumn(tableID, colID string, info actions.ColInfo) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	if colID == "id" || hasCol(cols, colID) {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		storage.QuoteIdent(tableID), storage.QuoteIdent(colID), sqlType(info.Type))
	// A DEFAULT clause backfills existing rows with the same type
	// default new rows receive.
	if lit, ok := defaultLiteral(info.Type); ok {
		query += " DEFAULT " + lit
	}
	if _, err := h.d.store.Exec(h.ctx, query); err != nil {
		return fmt.Errorf("add column %s.%s: %w", tableID, colID, err)
	}
	_, err = h.d.store.Exec(h.ctx, `
		INSERT INTO doc_columns (table_ref, col_id, col_type)
		SELECT id, ?, ? FROM doc_tables WHERE table_id = ?
	`, colID, info.Type, tableID)
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", tableID, colID, err)
	}
	h.tables[tableID] = append(cols, colMeta{id: colID, typ: info.Type})
	return nil
}

func (h *sqlHandler) RemoveColumn(tableID, colID string) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	if !hasCol(cols, colID) {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		storage.QuoteIdent(tableID), storage.QuoteIdent(colID))
	if _, err := h.d.store.Exec(h.ctx, query); err != nil {
		return fmt.Errorf("remove column %s.%s: %w", tableID, colID, err)
	}
	_, err = h.d.store.Exec(h.ctx, `
		DELETE FROM doc_columns WHERE col_id = ?
		AND table_ref = (SELECT id FROM doc_tables WHERE table_id = ?)
	`, colID, tableID)
	if err != nil {
		return fmt.Errorf("remove column %s.%s: %w", tableID, colID, err)
	}
	h.tables[tableID] = deleteCol(cols, colID)
	return nil
}

func (h *sqlHandler) RenameColumn(tableID, oldColID, newColID string) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	if !hasCol(cols, oldColID) || hasCol(cols, newColID) || newColID == "id" || oldColID == newColID {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		storage.QuoteIdent(tableID), storage.QuoteIdent(oldColID), storage.QuoteIdent(newColID))
	if _, err := h.d.store.Exec(h.ctx, query); err != nil {
		return fmt.Errorf("rename column %s.%s: %w", tableID, oldColID, err)
	}
	_, err = h.d.store.Exec(h.ctx, `
		UPDATE doc_columns SET col_id = ? WHERE col_id = ?
		AND table_ref = (SELECT id FROM doc_tables WHERE table_id = ?)
	`, newColID, oldColID, tableID)
	if err != nil {
		return fmt.Errorf("rename column %s.%s: %w", tableID, oldColID, err)
	}
	for i := range cols {
		if cols[i].id == oldColID {
			cols[i].id = newColID
		}
	}
	return nil
}

func (h *sqlHandler) ModifyColumn(tableID, colID string, info actions.ColInfo) error {
	cols, err := h.cols(tableID)
	if err != nil {
		return err
	}
	if !hasCol(cols, colID) {
		return nil
	}
	// Only the declared type tag changes; stored values and the SQL
	// column keep their shape.
	_, err = h.d.store.Exec(h.ctx, `
		UPDATE doc_columns SET col_type = ? WHERE col_id = ?
		AND table_ref = (SELECT id FROM doc_tables WHERE table_id = ?)
	`, info.Type, colID, tableID)
	if err != nil {
		return fmt.Errorf("modify column %s.%s: %w", tableID, colID, err)
	}
	for i := range cols {
		if cols[i].id == colID {
			cols[i].typ = info.Type
		}
	}
	return nil
}

func (h *sqlHandler) AddTable(tableID string, columns []actions.ColSpec) error {
	if isMetaTable(tableID) {
		return fmt.Errorf("add table: %q is reserved", tableID)
	}
	if _, exists := h.tables[tableID]; exists {
		return nil
	}
	defs := []string{"id INTEGER PRIMARY KEY"}
	var cols []colMeta
	for _, spec := range columns {
		if spec.ID == "id" {
			continue
		}
		defs = append(defs, storage.QuoteIdent(spec.ID)+" "+sqlType(spec.Type))
		cols = append(cols, colMeta{id: spec.ID, typ: spec.Type})
	}
	query := fmt.Sprintf("CREATE TABLE %s (%s)",
		storage.QuoteIdent(tableID), strings.Join(defs, ", "))
	if _, err := h.d.store.Exec(h.ctx, query); err != nil {
		return fmt.Errorf("add table %s: %w", tableID, err)
	}
	res, err := h.d.store.Exec(h.ctx, "INSERT INTO doc_tables (table_id) VALUES (?)", tableID)
	if err != nil {
		return fmt.Errorf("add table %s: %w", tableID, err)
	}
	tableRef, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("add table %s: %w", tableID, err)
	}
	for _, col := range cols {
		_, err := h.d.store.Exec(h.ctx,
			"INSERT INTO doc_columns (table_ref, col_id, col_type) VALUES (?, ?, ?)",
			tableRef, col.id, col.typ)
		if err != nil {
			return fmt.Errorf("add table %s: %w", tableID, err)
		}
	}
	h.tables[tableID] = cols
	return nil
}

func (h *sqlHandler) RemoveTable(tableID string) error {
	if _, exists := h.tables[tableID]; !exists {
		return nil
	}
	if _, err := h.d.store.Exec(h.ctx, "DROP TABLE "+storage.QuoteIdent(tableID)); err != nil {
		return fmt.Errorf("remove table %s: %w", tableID, err)
	}
	if _, err := h.d.store.Exec(h.ctx, "DELETE FROM doc_tables WHERE table_id = ?", tableID); err != nil {
		return fmt.Errorf("remove table %s: %w", tableID, err)
	}
	delete(h.tables, tableID)
	return nil
}

func (h *sqlHandler) RenameTable(oldTableID, newTableID string) error {
	if isMetaTable(newTableID) {
		return fmt.Errorf("rename table: %q is reserved", newTableID)
	}
	_, oldExists := h.tables[oldTableID]
	_, newExists := h.tables[newTableID]
	if !oldExists || newExists || oldTableID == newTableID {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		storage.QuoteIdent(oldTableID), storage.QuoteIdent(newTableID))
	if _, err := h.d.store.Exec(h.ctx, query); err != nil {
		return fmt.Errorf("rename table %s: %w", oldTableID, err)
	}
	_, err := h.d.store.Exec(h.ctx,
		"UPDATE doc_tables SET table_id = ? WHERE table_id = ?", newTableID, oldTableID)
	if err != nil {
		return fmt.Errorf("rename table %s: %w", oldTableID, err)
	}
	h.tables[newTableID] = h.tables[oldTableID]
	delete(h.tables, oldTableID)
	return nil
}

// defaultLiteral renders a column type's default value as a constant
// SQL literal, or ok=false for types whose default is NULL.
func defaultLiteral(typ string) (string, bool) {
	switch v := table.DefaultForType(typ).(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

func hasCol(cols []colMeta, colID string) bool {
	for _, col := range cols {
		if col.id == colID {
			return true
		}
	}
	return false
}

func deleteCol(cols []colMeta, colID string) []colMeta {
	out := cols[:0]
	for _, col := range cols {
		if col.id != colID {
			out = append(out, col)
		}
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
