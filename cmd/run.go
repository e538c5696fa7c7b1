package cmd

import (
	"context"
	"errors"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/app"
	"github.com/JakeFAU/preprint-crawler/internal/pipeline"
)

// defaultTrialLimit caps trial runs.
const defaultTrialLimit = 25

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch and persist every item in the configured window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := runMode(cmd, pipeline.ModeRun, 0)
			return err
		},
	}
}

func newTrialCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trial",
		Short: "A normal run capped at --limit items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := runMode(cmd, pipeline.ModeTrial, limit)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultTrialLimit, "maximum number of items across all sources")
	return cmd
}

func newDryRunCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "List sources and log what would be fetched, writing nothing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := runMode(cmd, pipeline.ModeDryRun, limit)
			if err != nil {
				return err
			}
			renderPlan(cmd, report)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of items to list (0 means no cap)")
	return cmd
}

// runMode executes one run, serving the status endpoints alongside it when
// enabled.
func runMode(cmd *cobra.Command, mode pipeline.Mode, limit int) (app.Report, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return app.Report{}, err
	}
	if limit < 0 {
		return app.Report{}, errors.New("--limit must be >= 0")
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go serveStatus(ctx, appInstance)

	report, err := appInstance.Run(ctx, mode, limit)
	if err != nil {
		return app.Report{}, err
	}
	appInstance.Logger().Info("run complete",
		zap.String("run_id", report.RunID),
		zap.String("mode", string(mode)),
		zap.Int("records", report.Records),
		zap.Int("errors", report.Errors),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func serveStatus(ctx context.Context, appInstance App) {
	if err := appInstance.Serve(ctx); err != nil {
		appInstance.Logger().Warn("status server stopped", zap.Error(err))
	}
}

func renderPlan(cmd *cobra.Command, report app.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.SetTitle("would fetch")
	t.AppendHeader(table.Row{"#", "ID", "URL", "PDF"})
	for i, item := range report.Planned {
		t.AppendRow(table.Row{i + 1, item.Identity(), item.URL, item.PDFURL})
	}
	t.Render()
}
