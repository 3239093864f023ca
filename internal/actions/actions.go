package actions

// ColValues maps column ids to single cell values, as carried by the
// singular record actions.
type ColValues map[string]any

// BulkColValues maps column ids to value sequences. Every sequence is
// index-aligned with the RowIDs slice of the carrying action.
type BulkColValues map[string][]any

// ColInfo describes a column in schema actions. Type is one of the
// declared type tags (see internal/schema); it drives the default value
// used when a row does not supply the column.
type ColInfo struct {
	Type string `json:"type"`
}

// ColSpec names a column inside an AddTable action.
type ColSpec struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// DocAction is one element of the closed document-action vocabulary.
// The set of implementations is fixed; new variants require a change to
// this package and to every Handler.
type DocAction interface {
	// Tag returns the wire tag, e.g. "BulkAddRecord".
	Tag() string
	// TableID returns the table the action addresses. For RenameTable
	// this is the table's id before the rename.
	TableID() string

	isDocAction()
}

// AddRecord adds a single row with the given id. Columns absent from
// Values receive their type default.
type AddRecord struct {
	Table  string
	RowID  int64
	Values ColValues
}

// BulkAddRecord adds rows in bulk. Columns carries one value per row id,
// index-aligned with RowIDs.
type BulkAddRecord struct {
	Table   string
	RowIDs  []int64
	Columns BulkColValues
}

// RemoveRecord removes a single row by id.
type RemoveRecord struct {
	Table string
	RowID int64
}

// BulkRemoveRecord removes rows in bulk.
type BulkRemoveRecord struct {
	Table  string
	RowIDs []int64
}

// UpdateRecord sets the named columns of one existing row.
type UpdateRecord struct {
	Table  string
	RowID  int64
	Values ColValues
}

// BulkUpdateRecord sets the named columns of several existing rows,
// index-aligned with RowIDs.
type BulkUpdateRecord struct {
	Table   string
	RowIDs  []int64
	Columns BulkColValues
}

// ReplaceTableData replaces the entire contents of a table.
type ReplaceTableData struct {
	Table   string
	RowIDs  []int64
	Columns BulkColValues
}

// TableDataAction is the full-snapshot form of a table's contents, as
// produced by export. Applying it has the same replace-all semantics as
// ReplaceTableData. The synthetic "id" column is never present in
// Columns; row ids are carried in RowIDs.
type TableDataAction struct {
	Table   string
	RowIDs  []int64
	Columns BulkColValues
}

// AddColumn declares a new column. Existing rows are backfilled with the
// column type's default.
type AddColumn struct {
	Table string
	ColID string
	Info  ColInfo
}

// RemoveColumn drops a column and its values.
type RemoveColumn struct {
	Table string
	ColID string
}

// RenameColumn re-keys a column without touching stored values.
type RenameColumn struct {
	Table    string
	OldColID string
	NewColID string
}

// ModifyColumn changes a column's declared type. Stored values are not
// converted; only the type tag and the default for future rows change.
type ModifyColumn struct {
	Table string
	ColID string
	Info  ColInfo
}

// AddTable declares a new table with its columns.
type AddTable struct {
	Table   string
	Columns []ColSpec
}

// RemoveTable removes a table as a whole.
type RemoveTable struct {
	Table string
}

// RenameTable renames a table.
type RenameTable struct {
	OldTableID string
	NewTableID string
}

// Wire tags. These are the discriminators of the tuple encoding and are
// part of the persisted format; they must never change.
const (
	TagAddRecord        = "AddRecord"
	TagBulkAddRecord    = "BulkAddRecord"
	TagRemoveRecord     = "RemoveRecord"
	TagBulkRemoveRecord = "BulkRemoveRecord"
	TagUpdateRecord     = "UpdateRecord"
	TagBulkUpdateRecord = "BulkUpdateRecord"
	TagReplaceTableData = "ReplaceTableData"
	TagTableData        = "TableData"
	TagAddColumn        = "AddColumn"
	TagRemoveColumn     = "RemoveColumn"
	TagRenameColumn     = "RenameColumn"
	TagModifyColumn     = "ModifyColumn"
	TagAddTable         = "AddTable"
	TagRemoveTable      = "RemoveTable"
	TagRenameTable      = "RenameTable"
)

func (*AddRecord) Tag() string        { return TagAddRecord }
func (*BulkAddRecord) Tag() string    { return TagBulkAddRecord }
func (*RemoveRecord) Tag() string     { return TagRemoveRecord }
func (*BulkRemoveRecord) Tag() string { return TagBulkRemoveRecord }
func (*UpdateRecord) Tag() string     { return TagUpdateRecord }
func (*BulkUpdateRecord) Tag() string { return TagBulkUpdateRecord }
func (*ReplaceTableData) Tag() string { return TagReplaceTableData }
func (*TableDataAction) Tag() string  { return TagTableData }
func (*AddColumn) Tag() string        { return TagAddColumn }
func (*RemoveColumn) Tag() string     { return TagRemoveColumn }
func (*RenameColumn) Tag() string     { return TagRenameColumn }
func (*ModifyColumn) Tag() string     { return TagModifyColumn }
func (*AddTable) Tag() string         { return TagAddTable }
func (*RemoveTable) Tag() string      { return TagRemoveTable }
func (*RenameTable) Tag() string      { return TagRenameTable }

func (a *AddRecord) TableID() string        { return a.Table }
func (a *BulkAddRecord) TableID() string    { return a.Table }
func (a *RemoveRecord) TableID() string     { return a.Table }
func (a *BulkRemoveRecord) TableID() string { return a.Table }
func (a *UpdateRecord) TableID() string     { return a.Table }
func (a *BulkUpdateRecord) TableID() string { return a.Table }
func (a *ReplaceTableData) TableID() string { return a.Table }
func (a *TableDataAction) TableID() string  { return a.Table }
func (a *AddColumn) TableID() string        { return a.Table }
func (a *RemoveColumn) TableID() string     { return a.Table }
func (a *RenameColumn) TableID() string     { return a.Table }
func (a *ModifyColumn) TableID() string     { return a.Table }
func (a *AddTable) TableID() string         { return a.Table }
func (a *RemoveTable) TableID() string      { return a.Table }
func (a *RenameTable) TableID() string      { return a.OldTableID }

func (*AddRecord) isDocAction()        {}
func (*BulkAddRecord) isDocAction()    {}
func (*RemoveRecord) isDocAction()     {}
func (*BulkRemoveRecord) isDocAction() {}
func (*UpdateRecord) isDocAction()     {}
func (*BulkUpdateRecord) isDocAction() {}
func (*ReplaceTableData) isDocAction() {}
func (*TableDataAction) isDocAction()  {}
func (*AddColumn) isDocAction()        {}
func (*RemoveColumn) isDocAction()     {}
func (*RenameColumn) isDocAction()     {}
func (*ModifyColumn) isDocAction()     {}
func (*AddTable) isDocAction()         {}
func (*RemoveTable) isDocAction()      {}
func (*RenameTable) isDocAction()      {}

// IsSchemaAction reports whether the action defines or alters schema
// (columns or tables) rather than row data. Schema actions are applied
// even to tables that have never been loaded.
func IsSchemaAction(a DocAction) bool {
	switch a.(type) {
	case *AddColumn, *RemoveColumn, *RenameColumn, *ModifyColumn,
		*AddTable, *RemoveTable, *RenameTable:
		return true
	}
	return false
}
