package table

// columnData is one column's dense value storage. values always has
// exactly one element per resident row, parallel to the table's row-id
// slice.
type columnData struct {
	colID  string
	typ    string
	defl   any
	values []any
}

func newColumnData(colID, typ string) *columnData {
	return &columnData{colID: colID, typ: typ, defl: DefaultForType(typ)}
}

// fill resets the column to n copies of its default value.
func (c *columnData) fill(n int) {
	c.values = make([]any, n)
	for i := range c.values {
		c.values[i] = c.defl
	}
}

// DefaultForType returns the value a column of the given type takes when
// a row does not supply one. Reference types default to row id 0 (the
// "no reference" value); temporal and untyped columns default to nil.
func DefaultForType(typ string) any {
	switch baseType(typ) {
	case "Text", "Choice":
		return ""
	case "Bool":
		return false
	case "Int", "Ref":
		return int64(0)
	case "Numeric":
		return float64(0)
	default:
		// Date, DateTime, RefList, Any, Attachments and unknown tags.
		return nil
	}
}

// baseType strips a composite tag's target, e.g. "Ref:Owners" -> "Ref".
func baseType(typ string) string {
	for i := 0; i < len(typ); i++ {
		if typ[i] == ':' {
			return typ[:i]
		}
	}
	return typ
}
