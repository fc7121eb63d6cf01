package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// newCreateCmd creates the 'create' subcommand, which provisions a batch of
// proxy units and prints the resulting fleet.
func newCreateCmd() *cobra.Command {
	var (
		regions    []string
		sequential bool
	)

	cmd := &cobra.Command{
		Use:   "create <count>",
		Short: "Provisions proxy units",
		Long: `Provisions the requested number of proxy units, spreading them round-robin
across the target regions. Units that fail to become ready within the
configured timeout are reported; the successful remainder is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count <= 0 {
				return fmt.Errorf("count must be a positive integer, got %q", args[0])
			}

			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			fleet := appInstance.Fleet()

			var (
				units   []watch.ProxyUnit
				provErr error
			)
			if sequential {
				for range count {
					batch, err := fleet.ProvisionBatch(cmd.Context(), 1, regions)
					units = append(units, batch...)
					if err != nil {
						provErr = err
						break
					}
				}
			} else {
				units, provErr = fleet.ProvisionBatch(cmd.Context(), count, regions)
			}

			out := cmd.OutOrStdout()
			if len(units) > 0 {
				fmt.Fprintf(out, "provisioned %d unit(s):\n", len(units))
				for _, u := range units {
					fmt.Fprintf(out, "  %s  %-14s  %s\n", u.ID, u.Region, u.Endpoint)
				}
			}
			if failed := count - len(units); failed > 0 {
				fmt.Fprintf(out, "failed: %d of %d\n", failed, count)
			}
			if provErr != nil {
				return fmt.Errorf("provision: %w", provErr)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "regions to spread units across (default uses fleet.regions from config)")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "provision one unit at a time instead of a concurrent batch")
	return cmd
}
