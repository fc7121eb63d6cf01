package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newTeardownCmd creates the 'teardown' subcommand for removing a single unit.
func newTeardownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teardown <unit-id>",
		Short: "Removes one proxy unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Fleet().Teardown(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("teardown %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

// newTeardownAllCmd creates the 'teardown-all' subcommand, which removes every
// unit and the shared per-region resources.
func newTeardownAllCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "teardown-all",
		Short: "Removes every proxy unit and shared region resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			units := appInstance.Fleet().Units()
			if len(units) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "fleet is already empty")
				return nil
			}
			if !force {
				return fmt.Errorf("refusing to remove %d unit(s) without --force", len(units))
			}
			if err := appInstance.Fleet().TeardownAll(cmd.Context()); err != nil {
				return fmt.Errorf("teardown all: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d unit(s)\n", len(units))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm removal of the entire fleet")
	return cmd
}
