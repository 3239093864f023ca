package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swuecho/grist-core/internal/actions"
	"github.com/swuecho/grist-core/internal/docstore"
	"github.com/swuecho/grist-core/internal/storage"
)

// NewApplyCommand creates the "apply" command: apply a JSON file of
// action tuples to a document as one bundle.
func NewApplyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <document> <actions.json>",
		Short: "Apply a bundle of document actions",
		Long: `Apply a bundle of document actions from a JSON file.

The file holds a JSON array of action tuples, e.g.

  [["AddTable", "Pets", [{"id": "name", "type": "Text"}]],
   ["AddRecord", "Pets", 1, {"name": "Rex"}]]

The whole bundle is applied in one transaction and recorded in the
action log.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, actionsPath := args[0], args[1]
			data, err := os.ReadFile(actionsPath)
			if err != nil {
				return err
			}
			bundle, err := actions.UnmarshalBundle(data)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := docstore.Open(ctx, path, storage.OpenExisting, storage.Options{})
			if err != nil {
				return err
			}
			defer d.Close()
			if merr := d.Store().MigrationError(); merr != nil {
				return fmt.Errorf("refusing to write: %w", merr)
			}

			if err := d.ApplyBundle(ctx, bundle); err != nil {
				return err
			}
			if opts.Verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d action(s) to %s\n", len(bundle), path)
			}
			return nil
		},
	}
}
