// Package table implements the in-memory columnar store for one
// document table.
//
// A TableData holds row data as dense parallel slices, one per column,
// and identifies rows by stable integer ids rather than positions. It
// is mutated exclusively by the document-action vocabulary of
// internal/actions, applied through ReceiveAction.
//
// # Invariants
//
//   - Every column's value slice has exactly one element per resident
//     row, with no holes.
//   - rowIDs[rowMap[id]] == id for every resident row, and the reverse
//     for every position.
//   - Removal moves the last row into the freed slot, so storage order
//     is NOT stable across removals. Enumeration (GetRowIDs,
//     GetRecords, GetDistinctValues) reflects that reordering; sort
//     explicitly via GetSortedRowIDs when order matters.
//
// # Loading
//
// A table starts unloaded. It becomes loaded by LoadData (full
// replace), FetchData (lazy, deduplicated) or LoadPartial (demand
// paging), and unloaded again if a RemoveTable action arrives. While
// unloaded, row-data actions are silently skipped, a deliberate
// tolerance for data arriving before a lazy load, not an error.
package table
