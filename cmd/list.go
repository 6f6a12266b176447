package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/mapharness/internal/scenario"
)

func newListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios run can execute",
		Args:  cobra.NoArgs,
		// Listing needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, _ := cmd.Flags().GetStringSlice("tags")
			selected, err := scenario.Default().Select(nil, tags)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCENARIO\tTAGS\tAUTH\tDESCRIPTION")
			for _, s := range selected {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.Name, strings.Join(s.Tags, ","), s.Auth, s.Description)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().StringSlice("tags", nil, "Only list scenarios carrying any of these tags")
	return listCmd
}
