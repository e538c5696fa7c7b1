package cmd

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/preprint-crawler/internal/pipeline"
)

func newScheduleCmd() *cobra.Command {
	var expr string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Repeat the normal run on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if expr == "" {
				expr = appInstance.Config().Schedule.Cron
			}
			if expr == "" {
				return errors.New("--cron or schedule.cron is required")
			}
			logger := appInstance.Logger().Named("schedule")
			ctx := cmd.Context()
			go serveStatus(ctx, appInstance)

			clog := cronLogger{logger.Sugar()}
			c := cron.New(cron.WithLogger(clog), cron.WithChain(
				cron.Recover(clog),
				cron.SkipIfStillRunning(clog),
			))
			if _, err := c.AddFunc(expr, func() {
				report, err := appInstance.Run(ctx, pipeline.ModeRun, 0)
				if err != nil {
					logger.Error("scheduled run failed", zap.Error(err))
					return
				}
				logger.Info("scheduled run complete",
					zap.String("run_id", report.RunID),
					zap.Int("records", report.Records),
					zap.Int("errors", report.Errors),
				)
			}); err != nil {
				return fmt.Errorf("parse cron expression %q: %w", expr, err)
			}

			logger.Info("scheduler started", zap.String("cron", expr))
			c.Start()
			<-ctx.Done()
			logger.Info("scheduler stopping, waiting for the active run")
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", `five-field cron expression, e.g. "0 3 * * *"`)
	return cmd
}

// cronLogger routes cron's logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
