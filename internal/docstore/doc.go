// Package docstore persists a document in a single SQLite file.
//
// DocStorage and the in-memory table.TableData are independent
// consumers of the same document-action vocabulary: one keeps columnar
// slices, the other translates each action into SQL. Neither replicates
// the other; both interpret the same ordered action stream.
//
// The store carries its own metadata schema (doc_info, doc_tables,
// doc_columns, action_log) versioned and migrated by internal/storage.
// User tables are created and altered only by schema actions; every
// applied bundle is recorded in the action log as tuple-encoded JSON.
package docstore
