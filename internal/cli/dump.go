package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swuecho/grist-core/internal/docstore"
	"github.com/swuecho/grist-core/internal/storage"
)

// NewDumpCommand creates the "dump" command: export one table's full
// contents as a tuple-encoded TableData action.
func NewDumpCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <document> <table>",
		Short: "Export a table as a TableData action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, tableID := args[0], args[1]
			ctx := cmd.Context()
			d, err := docstore.Open(ctx, path, storage.OpenReadOnly, storage.Options{})
			if err != nil {
				return err
			}
			defer d.Close()

			snap, err := d.FetchTable(ctx, tableID)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
