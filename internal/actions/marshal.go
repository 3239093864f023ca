package actions

import (
	"encoding/json"
	"fmt"
)

// The wire form of an action is a JSON tuple: a heterogeneous array
// whose first element is the tag and whose remaining elements are the
// action's fields in canonical order, e.g.
//
//	["AddRecord", "Pets", 17, {"name": "Rex"}]
//	["BulkRemoveRecord", "Pets", [1, 2, 3]]
//
// Maps are emitted as objects (never null) so that a round-trip of an
// action with no column values stays stable.

func marshalTuple(parts ...any) ([]byte, error) {
	return json.Marshal(parts)
}

func orEmptyVals(v ColValues) ColValues {
	if v == nil {
		return ColValues{}
	}
	return v
}

func orEmptyBulk(v BulkColValues) BulkColValues {
	if v == nil {
		return BulkColValues{}
	}
	return v
}

func orEmptyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func (a *AddRecord) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagAddRecord, a.Table, a.RowID, orEmptyVals(a.Values))
}

func (a *BulkAddRecord) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagBulkAddRecord, a.Table, orEmptyIDs(a.RowIDs), orEmptyBulk(a.Columns))
}

func (a *RemoveRecord) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagRemoveRecord, a.Table, a.RowID)
}

func (a *BulkRemoveRecord) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagBulkRemoveRecord, a.Table, orEmptyIDs(a.RowIDs))
}

func (a *UpdateRecord) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagUpdateRecord, a.Table, a.RowID, orEmptyVals(a.Values))
}

func (a *BulkUpdateRecord) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagBulkUpdateRecord, a.Table, orEmptyIDs(a.RowIDs), orEmptyBulk(a.Columns))
}

func (a *ReplaceTableData) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagReplaceTableData, a.Table, orEmptyIDs(a.RowIDs), orEmptyBulk(a.Columns))
}

func (a *TableDataAction) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagTableData, a.Table, orEmptyIDs(a.RowIDs), orEmptyBulk(a.Columns))
}

func (a *AddColumn) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagAddColumn, a.Table, a.ColID, a.Info)
}

func (a *RemoveColumn) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagRemoveColumn, a.Table, a.ColID)
}

func (a *RenameColumn) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagRenameColumn, a.Table, a.OldColID, a.NewColID)
}

func (a *ModifyColumn) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagModifyColumn, a.Table, a.ColID, a.Info)
}

func (a *AddTable) MarshalJSON() ([]byte, error) {
	cols := a.Columns
	if cols == nil {
		cols = []ColSpec{}
	}
	return marshalTuple(TagAddTable, a.Table, cols)
}

func (a *RemoveTable) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagRemoveTable, a.Table)
}

func (a *RenameTable) MarshalJSON() ([]byte, error) {
	return marshalTuple(TagRenameTable, a.OldTableID, a.NewTableID)
}

// MarshalBundle serializes an ordered sequence of actions as a JSON
// array of tuples. This is the persisted form used by the action log.
func MarshalBundle(bundle []DocAction) ([]byte, error) {
	if bundle == nil {
		bundle = []DocAction{}
	}
	return json.Marshal(bundle)
}

// UnmarshalBundle parses a JSON array of action tuples.
func UnmarshalBundle(data []byte) ([]DocAction, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	bundle := make([]DocAction, 0, len(raws))
	for i, raw := range raws {
		a, err := DecodeJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal bundle: action %d: %w", i, err)
		}
		bundle = append(bundle, a)
	}
	return bundle, nil
}

// DecodeJSON parses one action tuple. An unrecognized tag is reported
// via ErrUnknownAction; the vocabulary is closed, so this is a fatal
// condition for the caller, not a skippable one.
func DecodeJSON(data []byte) (DocAction, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("decode action: empty tuple")
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return nil, fmt.Errorf("decode action: tag: %w", err)
	}

	d := tupleDecoder{tag: tag, parts: parts[1:]}
	switch tag {
	case TagAddRecord:
		a := &AddRecord{}
		d.str(&a.Table).rowID(&a.RowID).vals(&a.Values)
		return d.done(a)
	case TagBulkAddRecord:
		a := &BulkAddRecord{}
		d.str(&a.Table).rowIDs(&a.RowIDs).bulk(&a.Columns)
		return d.done(a)
	case TagRemoveRecord:
		a := &RemoveRecord{}
		d.str(&a.Table).rowID(&a.RowID)
		return d.done(a)
	case TagBulkRemoveRecord:
		a := &BulkRemoveRecord{}
		d.str(&a.Table).rowIDs(&a.RowIDs)
		return d.done(a)
	case TagUpdateRecord:
		a := &UpdateRecord{}
		d.str(&a.Table).rowID(&a.RowID).vals(&a.Values)
		return d.done(a)
	case TagBulkUpdateRecord:
		a := &BulkUpdateRecord{}
		d.str(&a.Table).rowIDs(&a.RowIDs).bulk(&a.Columns)
		return d.done(a)
	case TagReplaceTableData:
		a := &ReplaceTableData{}
		d.str(&a.Table).rowIDs(&a.RowIDs).bulk(&a.Columns)
		return d.done(a)
	case TagTableData:
		a := &TableDataAction{}
		d.str(&a.Table).rowIDs(&a.RowIDs).bulk(&a.Columns)
		return d.done(a)
	case TagAddColumn:
		a := &AddColumn{}
		d.str(&a.Table).str(&a.ColID).colInfo(&a.Info)
		return d.done(a)
	case TagRemoveColumn:
		a := &RemoveColumn{}
		d.str(&a.Table).str(&a.ColID)
		return d.done(a)
	case TagRenameColumn:
		a := &RenameColumn{}
		d.str(&a.Table).str(&a.OldColID).str(&a.NewColID)
		return d.done(a)
	case TagModifyColumn:
		a := &ModifyColumn{}
		d.str(&a.Table).str(&a.ColID).colInfo(&a.Info)
		return d.done(a)
	case TagAddTable:
		a := &AddTable{}
		d.str(&a.Table).colSpecs(&a.Columns)
		return d.done(a)
	case TagRemoveTable:
		a := &RemoveTable{}
		d.str(&a.Table)
		return d.done(a)
	case TagRenameTable:
		a := &RenameTable{}
		d.str(&a.OldTableID).str(&a.NewTableID)
		return d.done(a)
	default:
		return nil, fmt.Errorf("decode action: %w: %q", ErrUnknownAction, tag)
	}
}

// tupleDecoder consumes tuple fields left to right, recording the first
// error. done() reports either that error or an arity mismatch.
type tupleDecoder struct {
	tag   string
	parts []json.RawMessage
	pos   int
	err   error
}

func (d *tupleDecoder) next(what string, dst any) *tupleDecoder {
	if d.err != nil {
		return d
	}
	if d.pos >= len(d.parts) {
		d.err = fmt.Errorf("decode %s: missing %s (field %d)", d.tag, what, d.pos+1)
		return d
	}
	if err := json.Unmarshal(d.parts[d.pos], dst); err != nil {
		d.err = fmt.Errorf("decode %s: %s: %w", d.tag, what, err)
		return d
	}
	d.pos++
	return d
}

func (d *tupleDecoder) str(dst *string) *tupleDecoder    { return d.next("identifier", dst) }
func (d *tupleDecoder) rowID(dst *int64) *tupleDecoder   { return d.next("rowId", dst) }
func (d *tupleDecoder) rowIDs(dst *[]int64) *tupleDecoder { return d.next("rowIds", dst) }
func (d *tupleDecoder) vals(dst *ColValues) *tupleDecoder { return d.next("colValues", dst) }
func (d *tupleDecoder) bulk(dst *BulkColValues) *tupleDecoder {
	return d.next("colValues", dst)
}
func (d *tupleDecoder) colInfo(dst *ColInfo) *tupleDecoder { return d.next("colInfo", dst) }
func (d *tupleDecoder) colSpecs(dst *[]ColSpec) *tupleDecoder {
	return d.next("columns", dst)
}

func (d *tupleDecoder) done(a DocAction) (DocAction, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.pos != len(d.parts) {
		return nil, fmt.Errorf("decode %s: %d trailing fields", d.tag, len(d.parts)-d.pos)
	}
	return a, nil
}
