// Package storage provides the transactional SQLite wrapper that
// underlies durable document storage.
//
// A Store opens one SQLite file in one of four modes, reconciles the
// persisted schema version (the user_version pragma) against the
// version implied by its SchemaInfo, and replays any untried
// migrations inside a single transaction with a pre-migration file
// backup. A failed migration never corrupts existing data: the
// transaction rolls back, the fresh backup is deleted, and the error
// is recorded on the handle while the store still opens. Callers are
// responsible for checking MigrationError.
//
// Nested RunInTransaction calls collapse into the outermost
// transaction. Opening the same path twice concurrently is detected
// via an OpenRegistry and logged, never prevented; contention is the
// operator's responsibility.
package storage
