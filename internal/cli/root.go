// Package cli implements the listing-filter command line.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"listing_filter/internal/app"
	"listing_filter/internal/config"
	"listing_filter/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "listing-filter",
		Short: "Keyword-based restriction filtering for marketplace listings",
		Long: `listing-filter screens product listings against export, patent-troll,
country, mall-specific and VERO keyword lists and keeps each product's
final publish judgment.

Examples:
  listing-filter migrate                  # Apply the schema
  listing-filter seed keywords/           # Import keyword seed files
  listing-filter serve                    # Run the HTTP API
  listing-filter check "replica watch"    # One realtime check`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .yaml or .toml (default $LISTING_FILTER_CONFIG)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newCheckCmd(),
		newFlushCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the command line until it finishes or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// withApp builds the application for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
