// Package cmd defines and implements the CLI commands for the preprint-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/app"
	"github.com/JakeFAU/preprint-crawler/internal/config"
	"github.com/JakeFAU/preprint-crawler/internal/logging"
	"github.com/JakeFAU/preprint-crawler/internal/pipeline"
	"github.com/JakeFAU/preprint-crawler/internal/stats"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the container. Tests inject fakes.
type App interface {
	Run(ctx context.Context, mode pipeline.Mode, limit int) (app.Report, error)
	Serve(ctx context.Context) error
	Sources() []app.SourceInfo
	Snapshot() stats.Snapshot
	Logger() *zap.Logger
	Config() config.Config
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (App, error) {
	return app.New(ctx, cfg, logger, app.WithOutput(out))
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "preprint-crawler",
		Short: "Polite ingestion of preprints and their discussions.",
		Long: `preprint-crawler lists preprints from the configured sources for a date
window, downloads their PDFs, extracts clean text and writes one JSON record
per preprint together with CSV run reports.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads .env and config, then builds
		// the application container and stores it on the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(
		newRunCmd(),
		newTrialCmd(),
		newDryRunCmd(),
		newScheduleCmd(),
		newSourcesCmd(),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "preprint-crawler:", err)
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
