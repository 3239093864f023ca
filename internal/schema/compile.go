package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"
)

// CompileError reports a problem compiling a CUE value into a table
// declaration, with its position in the source when available.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileTable parses a CUE value into a Table declaration. The value
// is the table struct itself; its name is taken from the struct label:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`table: Pets: {columns: {name: {type: "Text"}}}`)
//	tbl, err := CompileTable(v.LookupPath(cue.ParsePath("table.Pets")))
func CompileTable(v cue.Value) (*Table, error) {
	if err := v.Err(); err != nil {
		return nil, &CompileError{Field: "table", Message: err.Error(), Pos: v.Pos()}
	}

	table := &Table{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		table.ID = labels[len(labels)-1].String()
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, &CompileError{
			Field:   "columns",
			Message: "columns is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return nil, &CompileError{Field: "columns", Message: err.Error(), Pos: colsVal.Pos()}
	}
	for iter.Next() {
		col, err := compileColumn(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		table.Columns = append(table.Columns, *col)
	}
	if len(table.Columns) == 0 {
		return nil, &CompileError{
			Field:   "columns",
			Message: "at least one column is required",
			Pos:     colsVal.Pos(),
		}
	}
	return table, nil
}

func compileColumn(colID string, v cue.Value) (*Column, error) {
	typVal := v.LookupPath(cue.ParsePath("type"))
	if !typVal.Exists() {
		return nil, &CompileError{
			Field:   "columns." + colID + ".type",
			Message: "type is required",
			Pos:     v.Pos(),
		}
	}
	typ, err := typVal.String()
	if err != nil {
		return nil, &CompileError{
			Field:   "columns." + colID + ".type",
			Message: err.Error(),
			Pos:     typVal.Pos(),
		}
	}
	if !ValidColumnType(typ) {
		return nil, &CompileError{
			Field:   "columns." + colID + ".type",
			Message: fmt.Sprintf("invalid column type %q", typ),
			Pos:     typVal.Pos(),
		}
	}
	return &Column{ID: colID, Type: typ}, nil
}
