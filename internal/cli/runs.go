package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		records, err := store.List(status)
		if err != nil {
			return err
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(records) > limit {
			records = records[:limit]
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, records)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tBACKWARD\tEVIDENCE\tCREATED\tQUESTION")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				rec.RunID, rec.Status, rec.State.BackwardCount, len(rec.State.Evidence),
				rec.CreatedAt, truncate(rec.Question, 50))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's history and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		rec, err := store.Get(args[0])
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, rec)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run:      %s\n", rec.RunID)
		fmt.Fprintf(out, "Status:   %s\n", rec.Status)
		fmt.Fprintf(out, "Question: %s\n", rec.Question)
		if rec.State.RefinedQuestion != "" {
			fmt.Fprintf(out, "Refined:  %s\n", rec.State.RefinedQuestion)
		}
		fmt.Fprintf(out, "Backward: %d\n", rec.State.BackwardCount)
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tINV\tATT\tVERDICT\tKIND\tREASON")
		for _, o := range rec.State.History {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
				o.Stage, o.Invocation, o.Attempt, o.Verdict, o.Kind, truncate(o.Reason, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(out)
		switch {
		case rec.FinalAnswer != "":
			fmt.Fprintf(out, "Answer:\n%s\n", rec.FinalAnswer)
		case rec.FailureReason != "":
			fmt.Fprintf(out, "Failure: %s\n", rec.FailureReason)
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete stored runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := store.Delete(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status: running, succeeded, failed, cancelled")
	runsListCmd.Flags().Int("limit", 0, "maximum runs to list (0 = all)")
	runsListCmd.Flags().String("format", "text", "Output format: text or json")
	runsShowCmd.Flags().String("format", "text", "Output format: text or json")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}
