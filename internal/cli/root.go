package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "qafactory",
	Short: "qafactory — a staged question-answering engine",
	Long: `qafactory answers questions through three evaluated stages: query refinement,
evidence retrieval (primary source first, then a secondary source) and answer
synthesis. A router sends failed retrievals back to query refinement with
feedback, bounded by a global loop budget.

Configuration is read from ./qafactory.yaml or ~/.qafactory/config.yaml.
Runs are stored in ~/.qafactory/ (JSON run records, SQLite event log).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to qafactory config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(promptsCmd)
	rootCmd.AddCommand(graphCmd)
}
