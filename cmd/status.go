package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// newStatusCmd creates the 'status' subcommand, a quick fleet summary. The
// full status surface, including queue and worker state, lives on the HTTP
// server's /v1/status while 'run' is active.
func newStatusCmd() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarizes the fleet by region",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			units := appInstance.Fleet().Units()

			byRegion := make(map[string][]watch.ProxyUnit)
			for _, u := range units {
				byRegion[u.Region] = append(byRegion[u.Region], u)
			}
			regions := make([]string, 0, len(byRegion))
			for region := range byRegion {
				regions = append(regions, region)
			}
			sort.Strings(regions)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "units: %d\n", len(units))
			for _, region := range regions {
				fmt.Fprintf(out, "  %-14s %d\n", region, len(byRegion[region]))
				if detailed {
					for _, u := range byRegion[region] {
						fmt.Fprintf(out, "    %s  %s  created %s\n",
							u.ID, u.Endpoint, u.CreatedAt.Format(time.RFC3339))
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "list every unit under its region")
	return cmd
}
