package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// RunInTransaction runs body inside a transaction. If a transaction is
// already active on this store, body runs inline within it: nesting
// collapses into the single outermost transaction, so all nested
// attempts commit or roll back together as one unit.
//
// On failure the transaction is rolled back and the body's error is
// returned; a rollback failure is logged but never masks the original
// error. A Vacuum requested while inside the transaction runs after
// the outermost commit.
func (s *Store) RunInTransaction(ctx context.Context, body func(tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	if s.tx != nil {
		return body(s.tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	err = body(tx)
	s.tx = nil

	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", "path", s.path, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.runPendingVacuum(ctx)
	return nil
}

// Vacuum reclaims free space. A vacuum cannot run inside a
// transaction; when one is active, the request is deferred until the
// outermost transaction commits.
func (s *Store) Vacuum(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}
	if s.tx != nil {
		s.vacuumPending = true
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) runPendingVacuum(ctx context.Context) {
	if !s.vacuumPending {
		return
	}
	s.vacuumPending = false
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		s.log.Warn("deferred vacuum failed", "path", s.path, "error", err)
	}
}
