package actions

import (
	"errors"
	"fmt"
)

// ErrUnknownAction reports an action tag outside the closed vocabulary.
// It is a programming error: the dispatcher never drops an action it
// does not recognize, and callers must treat it as fatal.
var ErrUnknownAction = errors.New("unknown document action")

// Handler receives dispatched document actions with their fields
// unpacked in canonical order (tableId, rowId(s), payload).
//
// Handlers must be idempotent-safe against inapplicable schema changes:
// adding a column that already exists, removing one that does not, and
// similar conflicts are treated as no-ops, never as errors.
type Handler interface {
	AddRecord(tableID string, rowID int64, values ColValues) error
	BulkAddRecord(tableID string, rowIDs []int64, columns BulkColValues) error
	RemoveRecord(tableID string, rowID int64) error
	BulkRemoveRecord(tableID string, rowIDs []int64) error
	UpdateRecord(tableID string, rowID int64, values ColValues) error
	BulkUpdateRecord(tableID string, rowIDs []int64, columns BulkColValues) error
	ReplaceTableData(tableID string, rowIDs []int64, columns BulkColValues) error
	TableData(tableID string, rowIDs []int64, columns BulkColValues) error

	AddColumn(tableID, colID string, info ColInfo) error
	RemoveColumn(tableID, colID string) error
	RenameColumn(tableID, oldColID, newColID string) error
	ModifyColumn(tableID, colID string, info ColInfo) error

	AddTable(tableID string, columns []ColSpec) error
	RemoveTable(tableID string) error
	RenameTable(oldTableID, newTableID string) error
}

// Dispatch routes an action to the correspondingly named Handler method.
// The type switch is exhaustive over the vocabulary; the default case is
// reachable only through a nil action or a variant added without a
// matching handler, and returns ErrUnknownAction.
func Dispatch(h Handler, a DocAction) error {
	switch a := a.(type) {
	case *AddRecord:
		return h.AddRecord(a.Table, a.RowID, a.Values)
	case *BulkAddRecord:
		return h.BulkAddRecord(a.Table, a.RowIDs, a.Columns)
	case *RemoveRecord:
		return h.RemoveRecord(a.Table, a.RowID)
	case *BulkRemoveRecord:
		return h.BulkRemoveRecord(a.Table, a.RowIDs)
	case *UpdateRecord:
		return h.UpdateRecord(a.Table, a.RowID, a.Values)
	case *BulkUpdateRecord:
		return h.BulkUpdateRecord(a.Table, a.RowIDs, a.Columns)
	case *ReplaceTableData:
		return h.ReplaceTableData(a.Table, a.RowIDs, a.Columns)
	case *TableDataAction:
		return h.TableData(a.Table, a.RowIDs, a.Columns)
	case *AddColumn:
		return h.AddColumn(a.Table, a.ColID, a.Info)
	case *RemoveColumn:
		return h.RemoveColumn(a.Table, a.ColID)
	case *RenameColumn:
		return h.RenameColumn(a.Table, a.OldColID, a.NewColID)
	case *ModifyColumn:
		return h.ModifyColumn(a.Table, a.ColID, a.Info)
	case *AddTable:
		return h.AddTable(a.Table, a.Columns)
	case *RemoveTable:
		return h.RemoveTable(a.Table)
	case *RenameTable:
		return h.RenameTable(a.OldTableID, a.NewTableID)
	default:
		return fmt.Errorf("dispatch: %w: %T", ErrUnknownAction, a)
	}
}
