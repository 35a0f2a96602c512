package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tpodg/smscampaign/internal/app"
	"github.com/tpodg/smscampaign/internal/config"
)

type contextKey string

const appKey contextKey = "app"

// errIncomplete makes the process exit non-zero when a run did not reach
// every recipient.
var errIncomplete = errors.New("campaign finished with failed, cancelled or rejected recipients")

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "smscampaign",
	Short: "Send an SMS campaign through a phone reachable over SSH",
	Long: `smscampaign reads a recipient list, renders one message per recipient and
sends it by running a send script on a phone (for example Termux) over SSH.

Without a subcommand it runs the campaign, like "smscampaign run".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		smsApp := app.New(cfg, app.Options{Verbose: verbose, Out: cmd.OutOrStdout()})
		ctx := context.WithValue(cmd.Context(), appKey, smsApp)
		cmd.SetContext(ctx)

		return nil
	},
	RunE: runCampaignCommand,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", fmt.Sprintf("config file (default is $HOME/%s)", config.DefaultConfigFileName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	addCampaignFlags(rootCmd)
}

func getApp(cmd *cobra.Command) *app.App {
	if a, ok := cmd.Context().Value(appKey).(*app.App); ok {
		return a
	}
	return nil
}
