package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qafactory/internal/orchestrator"
	"github.com/lucasnoah/qafactory/internal/prompt"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question through the staged pipeline",
	Long: `Run one question through query refinement, evidence retrieval and answer
synthesis. Progress lines go to stderr; the answer goes to stdout.

Ctrl-C cancels the run at the next collaborator boundary. With --partial the
evidence accepted so far is printed with the cancellation reason.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if noPersist, _ := cmd.Flags().GetBool("no-persist"); noPersist {
			cfg.Storage.Persist = false
		}

		store, database, cleanup, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		orch, err := orchestrator.NewFromConfig(cfg, orchestrator.Options{
			Store:     store,
			DB:        database,
			PromptDir: prompt.DefaultDir(),
		})
		if err != nil {
			return err
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			orch.SetProgress(cmd.ErrOrStderr())
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		partial, _ := cmd.Flags().GetBool("partial")
		res, err := orch.Run(ctx, strings.Join(args, " "), orchestrator.RunOptions{Partial: partial})
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			return runErr(res)
		}

		out := cmd.OutOrStdout()
		if answer, err := res.Answer(); err == nil {
			fmt.Fprintln(out, answer)
			return nil
		}
		if len(res.Evidence) > 0 {
			fmt.Fprintf(out, "Partial evidence (%d units):\n", len(res.Evidence))
			for i, u := range res.Evidence {
				fmt.Fprintf(out, "  [%d] (%s) %s\n", i+1, u.Source, truncate(u.Content, 200))
			}
		}
		return runErr(res)
	},
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runErr turns a failed or cancelled result into the command error.
func runErr(res *orchestrator.Result) error {
	_, err := res.Answer()
	var re *orchestrator.RunError
	if errors.As(err, &re) {
		return fmt.Errorf("run %s %s: %s", re.RunID, re.Status, re.Reason)
	}
	return err
}

func init() {
	askCmd.Flags().Bool("partial", false, "print accepted evidence when the run fails or is cancelled")
	askCmd.Flags().Bool("no-persist", false, "do not save the run record or event log")
	askCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
	askCmd.Flags().String("format", "text", "Output format: text or json")
}
