package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swuecho/grist-core/internal/docstore"
	"github.com/swuecho/grist-core/internal/schema"
	"github.com/swuecho/grist-core/internal/storage"
)

// NewCreateCommand creates the "create" command: build a new document
// file, optionally declaring user tables from a CUE schema directory.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	var schemaDir string
	var docID string

	cmd := &cobra.Command{
		Use:   "create <document>",
		Short: "Create a new document store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := documentArg(opts, args)
			if err != nil {
				return err
			}
			if schemaDir == "" && opts.cfg != nil {
				schemaDir = opts.cfg.SchemaDir
			}
			if docID == "" {
				docID = path
			}

			ctx := cmd.Context()
			var d *docstore.DocStorage
			if schemaDir != "" {
				doc, errs := schema.LoadDir(schemaDir)
				if len(errs) > 0 {
					for _, e := range errs {
						fmt.Fprintln(cmd.ErrOrStderr(), e)
					}
					return fmt.Errorf("schema %s: %d problem(s)", schemaDir, len(errs))
				}
				d, err = docstore.CreateWithSchema(ctx, path, docID, doc, storage.Options{})
			} else {
				d, err = docstore.Create(ctx, path, docID, storage.Options{})
			}
			if err != nil {
				if errors.Is(err, storage.ErrExists) {
					return fmt.Errorf("document already exists: %s", path)
				}
				return err
			}
			defer d.Close()

			if opts.Verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s with %d table(s)\n", path, len(d.Tables()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaDir, "schema", "", "directory of CUE schema files")
	cmd.Flags().StringVar(&docID, "doc-id", "", "document id stored in doc_info (defaults to the path)")
	return cmd
}
