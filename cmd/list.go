package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newListCmd creates the 'list' subcommand, which prints the current fleet.
func newListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the live proxy units",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			units := appInstance.Fleet().Units()
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(units)
			case "table":
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tREGION\tENDPOINT\tCREATED")
				for _, u := range units {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						u.ID, u.Region, u.Endpoint, u.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}
