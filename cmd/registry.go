package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rxtrust/rxtrust-api/logging"
	"github.com/rxtrust/rxtrust-api/registry"
)

func newRegistryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the CDSCO NSQ registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cases",
		Short: "List registry records with the verdict each issue implies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(opts.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			reg, err := registry.Load(cfg.Registry.DatasetPath, logger)
			if err != nil {
				return err
			}
			records := reg.Records()
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No registry records found at %s\n", reg.Path())
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBATCH\tMANUFACTURER\tPRODUCT\tEXPECTED\tISSUE")
			for _, rec := range records {
				verdict := registry.ClassifyIssue(rec.Issue)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.BatchNumber, rec.Manufacturer, rec.Product,
					verdictColor(verdict).Sprint(strings.ToUpper(string(verdict))), rec.Issue)
			}
			return w.Flush()
		},
	})
	return cmd
}
