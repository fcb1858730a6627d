package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qafactory/internal/analytics"
	"github.com/lucasnoah/qafactory/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query run and stage analytics",
}

// withDB opens the configured event log for the duration of fn.
func withDB(fn func(*db.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(database)
}

var analyticsStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "First-pass rate, attempts and escalation per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		format, _ := cmd.Flags().GetString("format")
		return withDB(func(database *db.DB) error {
			stats, err := analytics.QueryStageStats(database, since)
			if err != nil {
				return err
			}
			esc, err := analytics.QueryEscalationRate(database, since)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, map[string]interface{}{"stages": stats, "escalation": esc})
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stage attempts recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tINVOCATIONS\tFIRST PASS\tPASSED\tAVG ATTEMPTS\tP50 MS\tP95 MS")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f\t%.0f\t%.0f\n",
					s.Stage, s.Invocations, s.FirstPass, s.Passed, s.AvgAttempts, s.P50AttemptMs, s.P95AttemptMs)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nRetrieval escalated to the secondary source in %d of %d invocations (%.1f%%)\n",
				esc.Escalated, esc.Invocations, esc.EscalatedPct)
			return nil
		})
	},
}

var analyticsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Failed attempts by stage and failure kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		format, _ := cmd.Flags().GetString("format")
		return withDB(func(database *db.DB) error {
			kinds, err := analytics.QueryFailureKinds(database, since)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, kinds)
			}
			if len(kinds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed attempts recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tKIND\tCOUNT\tSHARE\tCOMMON REASON")
			for _, k := range kinds {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%s\n", k.Stage, k.Kind, k.Count, k.Pct, truncate(k.Reason, 60))
			}
			return w.Flush()
		})
	},
}

var analyticsLoopsCmd = &cobra.Command{
	Use:   "loops",
	Short: "Distribution of backward transitions per run",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		format, _ := cmd.Flags().GetString("format")
		return withDB(func(database *db.DB) error {
			dist, err := analytics.QueryLoopDistribution(database, since)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, dist)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Finished runs: %d\n", dist.Total)
			fmt.Fprintf(out, "  0 backward:  %.1f%%\n", dist.Zero)
			fmt.Fprintf(out, "  1 backward:  %.1f%%\n", dist.One)
			fmt.Fprintf(out, "  2 backward:  %.1f%%\n", dist.Two)
			fmt.Fprintf(out, "  3+ backward: %.1f%%\n", dist.ThreePlus)
			fmt.Fprintf(out, "Loop budget exhausted: %d\n", dist.BudgetExceeded)
			return nil
		})
	},
}

var analyticsOutcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Run outcomes per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		format, _ := cmd.Flags().GetString("format")
		return withDB(func(database *db.DB) error {
			outcomes, err := analytics.QueryRunOutcomes(database, since)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, outcomes)
			}
			if len(outcomes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tSTARTED\tSUCCEEDED\tFAILED\tCANCELLED\tAVG SECONDS")
			for _, o := range outcomes {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\n", o.Period, o.Started, o.Succeeded, o.Failed, o.Cancelled, o.AvgDuration)
			}
			return w.Flush()
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{analyticsStagesCmd, analyticsFailuresCmd, analyticsLoopsCmd, analyticsOutcomesCmd} {
		c.Flags().String("since", "", "only include data from this date on (e.g. 2024-06-01)")
		c.Flags().String("format", "text", "Output format: text or json")
		analyticsCmd.AddCommand(c)
	}
}
