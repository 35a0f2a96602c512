package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tpodg/smscampaign/internal/remote"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify the connection to the phone",
	Long:  `Connect to the configured phone and run a simple command to verify that it is reachable and accepts the credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		smsApp := getApp(cmd)
		smsApp.Logger.Info("Starting connection verification")

		if err := smsApp.Config.Validate(); err != nil {
			smsApp.Logger.Error("Invalid configuration", "error", err)
			return err
		}

		ch, err := newChannel(smsApp)
		if err != nil {
			smsApp.Logger.Error("Failed to prepare connection", "error", err)
			return err
		}

		return verifyPhone(cmd.Context(), smsApp.Logger, ch)
	},
}

func verifyPhone(ctx context.Context, logger *slog.Logger, ch remote.Channel) error {
	logger.Info("Checking phone", "name", ch.ID(), "address", ch.Address())

	if err := remote.Ping(ctx, ch); err != nil {
		logger.Error("Verification failed", "phone", ch.ID(), "error", err)
		return err
	}

	logger.Info("Verification successful", "phone", ch.ID())
	return nil
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
