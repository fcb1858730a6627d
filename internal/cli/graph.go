package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qafactory/internal/router"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the stage transition table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FROM\tVERDICT\tTO\tNOTE")
		for _, t := range router.Table() {
			to := make([]string, len(t.To))
			for i, id := range t.To {
				to[i] = string(id)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.From, t.Verdict, strings.Join(to, " | "), t.Note)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nrouter: %s, max backward transitions: %d\n", cfg.Run.Router, cfg.Run.MaxGlobalLoops)
		fmt.Fprintf(cmd.OutOrStdout(), "retries: query=%d retrieval=%d answer=%d\n",
			cfg.Run.MaxRetries.Query, cfg.Run.MaxRetries.Retrieval, cfg.Run.MaxRetries.Answer)
		return nil
	},
}
