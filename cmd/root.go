// Package cmd defines and implements the CLI commands for the fleetpoller
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/app"
	"github.com/dropsignal/fleetpoller/internal/config"
	"github.com/dropsignal/fleetpoller/internal/notify"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// Fleet is the slice of fleet manager behavior the commands use. Narrowing it
// to an interface lets tests inject a fake fleet.
type Fleet interface {
	Units() []watch.ProxyUnit
	ProvisionBatch(ctx context.Context, count int, regions []string) ([]watch.ProxyUnit, error)
	Teardown(ctx context.Context, unitID string) error
	TeardownAll(ctx context.Context) error
}

// App defines the application services the commands depend on.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Clock() watch.Clock
	Fleet() Fleet
	Executor() watch.Executor
	Observations() watch.ObservationStore
	Captures() watch.CaptureStore
	Hub() *notify.Hub
	Close(ctx context.Context)
}

// realApp adapts *app.App to the command-facing App interface.
type realApp struct {
	*app.App
}

func (r *realApp) Fleet() Fleet { return r.App.Manager() }

// newApp is the application factory. It is a variable so tests can replace it
// with a mock factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &realApp{App: a}, nil
}

// newRootCmd creates and configures the root command. Application services are
// built in PersistentPreRunE so every subcommand finds them in the context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetpoller",
		Short: "Polls product pages through an ephemeral cloud proxy fleet.",
		Long: `fleetpoller provisions a fleet of ephemeral cloud proxy units and polls
configured product pages through them. Observed state changes feed a priority
scheduler so targets that go live get re-checked ahead of the base rotation.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults plus FLEETPOLLER_* env vars)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTeardownCmd())
	cmd.AddCommand(newTeardownAllCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() error {
	return newRootCmd().Execute()
}
