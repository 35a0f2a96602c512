package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpodg/smscampaign/internal/history"
)

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past campaign runs",
	Long:  `List recent campaign runs recorded in the history database, or the per-recipient outcomes of one run with --run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		smsApp := getApp(cmd)

		store, err := history.Open(cmd.Context(), smsApp.Config.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		if historyRun != "" {
			err = printOutcomes(cmd, w, store)
		} else {
			err = printRuns(cmd, w, store)
		}
		if errors.Is(err, history.ErrDisabled) {
			return fmt.Errorf("%w: set history.path in the config file", err)
		}
		if err != nil {
			return err
		}
		return w.Flush()
	},
}

func printRuns(cmd *cobra.Command, w *tabwriter.Writer, store *history.Store) error {
	runs, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSENT\tFAILED\tCANCELLED\tREJECTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\n",
			r.ID, r.Started.Local().Format(time.DateTime), r.Finished.Sub(r.Started).Round(time.Second),
			r.Sent, r.Total, r.Failed, r.Cancelled, r.Rejected)
	}
	return nil
}

func printOutcomes(cmd *cobra.Command, w *tabwriter.Writer, store *history.Store) error {
	entries, err := store.Outcomes(cmd.Context(), historyRun)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no outcomes recorded for run %s", historyRun)
	}
	fmt.Fprintln(w, "#\tNAME\tNUMBER\tSTATUS\tATTEMPTS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\t%d\t%s\n",
			e.Position+1, e.Name, e.Surname, e.Number, e.Status, e.Attempts, e.Error)
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to list")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the outcomes of one run")
	rootCmd.AddCommand(historyCmd)
}
