package storage

import "errors"

var (
	// ErrExists reports an exclusive-create open against a store that
	// already has content. Fatal to Open; the store is not modified.
	ErrExists = errors.New("store already exists")

	// ErrMigrationNeeded reports a store whose schema version is behind
	// the target but which could not (read-only) or must not (backup
	// failure) be migrated. Recorded on the handle via MigrationError;
	// the store still opens.
	ErrMigrationNeeded = errors.New("store needs schema migration")

	// ErrClosed reports use of a store after Close.
	ErrClosed = errors.New("store is closed")
)
