package schema

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileTableFrom(t *testing.T, src, path string) (*Table, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileTable(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileTable_Valid(t *testing.T) {
	table, err := compileTableFrom(t, `
table: Pets: {
	columns: {
		name: {type: "Text"}
		age:  {type: "Int"}
	}
}
`, "table.Pets")
	require.NoError(t, err)

	assert.Equal(t, "Pets", table.ID, "the table id comes from the struct label")
	assert.Equal(t, []Column{
		{ID: "name", Type: "Text"},
		{ID: "age", Type: "Int"},
	}, table.Columns)
}

func TestCompileTable_MissingColumns(t *testing.T) {
	_, err := compileTableFrom(t, `table: Pets: {purpose: "no columns here"}`, "table.Pets")
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "columns", cerr.Field)
	assert.Contains(t, cerr.Message, "required")
}

func TestCompileTable_EmptyColumns(t *testing.T) {
	_, err := compileTableFrom(t, `table: Pets: {columns: {}}`, "table.Pets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one column")
}

func TestCompileTable_ColumnWithoutType(t *testing.T) {
	_, err := compileTableFrom(t, `table: Pets: {columns: {name: {label: "Name"}}}`, "table.Pets")
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "columns.name.type", cerr.Field)
}

func TestCompileTable_InvalidType(t *testing.T) {
	_, err := compileTableFrom(t, `table: Pets: {columns: {name: {type: "Varchar"}}}`, "table.Pets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid column type "Varchar"`)
}

func TestCompileTable_NonStringType(t *testing.T) {
	_, err := compileTableFrom(t, `table: Pets: {columns: {name: {type: 42}}}`, "table.Pets")
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "columns.name.type", cerr.Field)
}
