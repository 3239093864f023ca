package schema

import (
	"fmt"
	"strings"

	"github.com/swuecho/grist-core/internal/actions"
)

// Column declares one column of a document table.
type Column struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Table declares one document table: an id and its ordered columns.
// The synthetic "id" column is implicit and must not be declared.
type Table struct {
	ID      string   `json:"id"`
	Columns []Column `json:"columns"`
}

// Document is a full document schema: the set of user tables.
type Document struct {
	Tables []Table `json:"tables"`
}

// validBaseTypes are the column type tags a schema may declare.
// Ref and RefList additionally carry a target table, e.g. "Ref:Owners".
var validBaseTypes = map[string]bool{
	"Text":        true,
	"Numeric":     true,
	"Int":         true,
	"Bool":        true,
	"Date":        true,
	"DateTime":    true,
	"Choice":      true,
	"Ref":         true,
	"RefList":     true,
	"Attachments": true,
	"Any":         true,
}

// ValidColumnType reports whether typ is a recognized column type tag.
func ValidColumnType(typ string) bool {
	base, _, _ := strings.Cut(typ, ":")
	return validBaseTypes[base]
}

// ColTypes returns the column-id to type map used to construct a
// TableData for this table.
func (t *Table) ColTypes() map[string]string {
	types := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		types[col.ID] = col.Type
	}
	return types
}

// AddTableAction expresses the table declaration as a document action.
func (t *Table) AddTableAction() *actions.AddTable {
	specs := make([]actions.ColSpec, len(t.Columns))
	for i, col := range t.Columns {
		specs[i] = actions.ColSpec{ID: col.ID, Type: col.Type}
	}
	return &actions.AddTable{Table: t.ID, Columns: specs}
}

// Table looks up a table declaration by id.
func (d *Document) Table(id string) (*Table, bool) {
	for i := range d.Tables {
		if d.Tables[i].ID == id {
			return &d.Tables[i], true
		}
	}
	return nil, false
}

// Validate checks the document schema's internal consistency: unique
// table ids, unique column ids per table, known column types, and no
// reserved ids. All problems are returned, not just the first.
func (d *Document) Validate() []error {
	var errs []error
	seenTables := make(map[string]bool)
	for _, table := range d.Tables {
		if table.ID == "" {
			errs = append(errs, fmt.Errorf("table with empty id"))
			continue
		}
		if seenTables[table.ID] {
			errs = append(errs, fmt.Errorf("duplicate table id %q", table.ID))
		}
		seenTables[table.ID] = true
		if strings.HasPrefix(table.ID, "sqlite_") {
			errs = append(errs, fmt.Errorf("table %s: id uses reserved prefix sqlite_", table.ID))
		}
		seenCols := make(map[string]bool)
		for _, col := range table.Columns {
			switch {
			case col.ID == "":
				errs = append(errs, fmt.Errorf("table %s: column with empty id", table.ID))
			case col.ID == "id":
				errs = append(errs, fmt.Errorf("table %s: column id %q is reserved", table.ID, col.ID))
			case seenCols[col.ID]:
				errs = append(errs, fmt.Errorf("table %s: duplicate column id %q", table.ID, col.ID))
			}
			seenCols[col.ID] = true
			if !ValidColumnType(col.Type) {
				errs = append(errs, fmt.Errorf("table %s: column %s: invalid type %q", table.ID, col.ID, col.Type))
			}
		}
	}
	return errs
}
