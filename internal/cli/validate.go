package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swuecho/grist-core/internal/schema"
)

// validateReport is the machine-readable output of the validate
// command.
type validateReport struct {
	SchemaDir string   `json:"schema_dir"`
	Tables    []string `json:"tables"`
	Errors    []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the "validate" command: compile a CUE
// schema directory and report all problems.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate a CUE document schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 0 {
				dir = args[0]
			} else if opts.cfg != nil {
				dir = opts.cfg.SchemaDir
			}
			if dir == "" {
				return fmt.Errorf("no schema directory given (argument or config 'schema_dir')")
			}

			doc, errs := schema.LoadDir(dir)
			report := validateReport{SchemaDir: dir}
			if doc != nil {
				for _, table := range doc.Tables {
					report.Tables = append(report.Tables, table.ID)
				}
			}
			for _, e := range errs {
				report.Errors = append(report.Errors, e.Error())
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "schema %s: %d table(s)\n", dir, len(report.Tables))
				for _, table := range report.Tables {
					fmt.Fprintf(out, "  %s\n", table)
				}
				for _, e := range report.Errors {
					fmt.Fprintf(out, "error: %s\n", e)
				}
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d schema problem(s)", len(errs))
			}
			return nil
		},
	}
}
