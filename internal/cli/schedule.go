package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/tpodg/smscampaign/internal/fault"
)

var scheduleExpr string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the campaign on a cron schedule",
	Long: `Run the campaign every time the cron expression fires, until interrupted.
Standard five-field expressions and descriptors such as "@daily" or
"@every 6h" are accepted. A run that is still in progress when the schedule
fires again causes that tick to be skipped.`,
	Example: `  smscampaign schedule --cron "0 9 * * MON"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		smsApp := getApp(cmd)
		applyCampaignFlags(cmd, smsApp.Config)

		if err := smsApp.Config.Validate(); err != nil {
			smsApp.Logger.Error("Invalid configuration", "error", err)
			return err
		}

		return scheduleCampaign(cmd.Context(), smsApp.Logger, scheduleExpr, func(ctx context.Context) {
			report, err := runCampaign(ctx, smsApp)
			if err != nil {
				smsApp.Logger.Error("Scheduled campaign aborted", "error", err)
				return
			}
			if !report.OK() {
				smsApp.Logger.Warn("Scheduled campaign incomplete", "run", report.RunID)
			}
		})
	},
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// scheduleCampaign blocks until ctx is done, running job on every tick of
// expr. Overlapping ticks are skipped.
func scheduleCampaign(ctx context.Context, logger *slog.Logger, expr string, job func(context.Context)) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fault.New(fault.Config, "parse cron schedule "+expr, err)
	}

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() { job(ctx) }))

	c.Start()
	logger.Info("Campaign scheduled", "schedule", expr, "next", sched.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	logger.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's logging through slog. Cron's info messages are
// per-tick chatter and go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleExpr, "cron", "", "cron expression for the campaign (required)")
	cobra.CheckErr(scheduleCmd.MarkFlagRequired("cron"))
	addCampaignFlags(scheduleCmd)
	rootCmd.AddCommand(scheduleCmd)
}
