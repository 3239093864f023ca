package table

import (
	"context"
	"fmt"

	"github.com/swuecho/grist-core/internal/actions"
)

// FetchFunc supplies a full snapshot of a table's contents, typically
// from a remote source. It is invoked at most once concurrently per
// table.
type FetchFunc func(ctx context.Context, tableID string) (*actions.TableDataAction, error)

// FetchData populates an unloaded table from fetchFn. If a fetch is
// already in flight, the call attaches to it and returns its result
// instead of issuing a duplicate fetch; this is the one operation on
// TableData that is safe to call concurrently. An already-loaded table
// returns immediately without fetching.
func (t *TableData) FetchData(ctx context.Context, fetchFn FetchFunc) error {
	if t.loaded {
		return nil
	}
	_, err, _ := t.fetch.Do("fetch", func() (any, error) {
		snap, err := fetchFn(ctx, t.tableID)
		if err != nil {
			return nil, fmt.Errorf("fetch table %s: %w", t.tableID, err)
		}
		t.LoadData(snap)
		return nil, nil
	})
	return err
}
