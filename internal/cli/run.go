package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpodg/smscampaign/internal/app"
	"github.com/tpodg/smscampaign/internal/campaign"
	"github.com/tpodg/smscampaign/internal/config"
	"github.com/tpodg/smscampaign/internal/credential"
	"github.com/tpodg/smscampaign/internal/history"
	"github.com/tpodg/smscampaign/internal/recipient"
	"github.com/tpodg/smscampaign/internal/remote"
)

var (
	flagRecipients string
	flagTemplate   string
	flagCapability string
	flagPacing     time.Duration
	flagWorkers    int
	flagFailFast   bool
	flagRetry      int
	flagReport     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send the campaign to every recipient",
	Long: `Send one templated message per recipient by running the send script on the
phone. Progress is printed per recipient and the exit status is non-zero when
any recipient failed, was cancelled or was rejected.`,
	RunE: runCampaignCommand,
}

func runCampaignCommand(cmd *cobra.Command, args []string) error {
	smsApp := getApp(cmd)
	applyCampaignFlags(cmd, smsApp.Config)

	report, err := runCampaign(cmd.Context(), smsApp)
	if err != nil {
		smsApp.Logger.Error("Campaign aborted", "error", err)
		return err
	}
	if !report.OK() {
		return errIncomplete
	}
	return nil
}

// runCampaign performs one full run: setup errors abort before any send,
// per-recipient errors end up in the returned report.
func runCampaign(ctx context.Context, a *app.App) (*campaign.Report, error) {
	cfg := a.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	batch, err := recipient.Load(cfg.Campaign.Recipients)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("Loaded recipients", "file", cfg.Campaign.Recipients, "valid", len(batch.Recipients), "rejected", len(batch.Rejected))

	tmpl := campaign.DefaultTemplate()
	if cfg.Campaign.Template != "" {
		if tmpl, err = campaign.LoadTemplate(cfg.Campaign.Template); err != nil {
			return nil, err
		}
	}

	ch, err := newChannel(a)
	if err != nil {
		return nil, err
	}

	a.Progress.Rejected(batch.Rejected)
	a.Progress.SetConcurrent(cfg.Campaign.Workers > 1)

	dispatcher := campaign.NewDispatcher(ch, campaign.Options{
		Template:     tmpl,
		Capability:   cfg.Remote.Capability,
		Pacing:       cfg.Campaign.Pacing,
		Workers:      cfg.Campaign.Workers,
		FailFast:     cfg.Campaign.FailFast,
		RetryMax:     cfg.Campaign.RetryMax,
		RetryBackoff: cfg.Campaign.RetryBackoff,
		Observer:     a.Progress,
		Logger:       a.Logger,
	})
	report := dispatcher.Run(ctx, batch.Recipients)
	report.Rejected = batch.Rejected
	a.Progress.Summary(report)

	if cfg.Campaign.Report != "" {
		if err := report.SaveYAML(cfg.Campaign.Report); err != nil {
			a.Logger.Error("Failed to write report", "file", cfg.Campaign.Report, "error", err)
		} else {
			a.Logger.Info("Report written", "file", cfg.Campaign.Report)
		}
	}
	recordHistory(a, report)

	return report, nil
}

func newChannel(a *app.App) (*remote.SSHChannel, error) {
	cfg := a.Config
	resolver := credential.NewResolver(credential.Options{
		Path:   cfg.Credentials.EnvFile,
		Key:    cfg.Credentials.Key,
		Logger: a.Logger,
	})
	cred, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}
	a.Logger.Debug("Resolved credential", "key", cfg.Credentials.Key, "credential", cred)

	return remote.NewSSHChannel(cfg.Endpoint(), cred, remote.SSHOptions{
		UseAgent:       cfg.Remote.UseAgent,
		ConnectTimeout: cfg.Remote.ConnectTimeout,
		CommandTimeout: cfg.Remote.CommandTimeout,
		Prompt:         remote.TerminalPrompt(os.Stdin, os.Stderr),
		Logger:         a.Logger,
	}), nil
}

// recordHistory stores the report when history is enabled. Failures are
// logged and never change the run's outcome.
func recordHistory(a *app.App, report *campaign.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := history.Open(ctx, a.Config.History.Path)
	if err != nil {
		a.Logger.Warn("History unavailable", "path", a.Config.History.Path, "error", err)
		return
	}
	defer store.Close()

	if err := store.Record(ctx, report); err != nil {
		if !errors.Is(err, history.ErrDisabled) {
			a.Logger.Warn("Failed to record run history", "run", report.RunID, "error", err)
		}
		return
	}
	a.Logger.Debug("Run recorded", "run", report.RunID, "path", a.Config.History.Path)
}

func addCampaignFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&flagRecipients, "recipients", "r", "", fmt.Sprintf("recipient file (default %s)", recipient.DefaultFileName))
	f.StringVarP(&flagTemplate, "template", "t", "", "message template file (default built-in message)")
	f.StringVar(&flagCapability, "capability", "", fmt.Sprintf("send script on the phone (default %s)", campaign.DefaultCapability))
	f.DurationVar(&flagPacing, "pacing", campaign.DefaultPacing, "minimum delay between two sends")
	f.IntVar(&flagWorkers, "workers", 1, "number of concurrent sends")
	f.BoolVar(&flagFailFast, "fail-fast", false, "stop after the first failed recipient")
	f.IntVar(&flagRetry, "retry", 0, "retries for connection and timeout errors")
	f.StringVar(&flagReport, "report", "", "write a YAML report to this file")
}

// applyCampaignFlags copies explicitly set flags over the loaded config.
func applyCampaignFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("recipients") {
		cfg.Campaign.Recipients = flagRecipients
	}
	if f.Changed("template") {
		cfg.Campaign.Template = flagTemplate
	}
	if f.Changed("capability") {
		cfg.Remote.Capability = flagCapability
	}
	if f.Changed("pacing") {
		cfg.Campaign.Pacing = flagPacing
	}
	if f.Changed("workers") {
		cfg.Campaign.Workers = flagWorkers
	}
	if f.Changed("fail-fast") {
		cfg.Campaign.FailFast = flagFailFast
	}
	if f.Changed("retry") {
		cfg.Campaign.RetryMax = flagRetry
	}
	if f.Changed("report") {
		cfg.Campaign.Report = flagReport
	}
}

func init() {
	addCampaignFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
