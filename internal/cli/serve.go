package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/metrics"
	"github.com/lucasnoah/qafactory/internal/orchestrator"
	"github.com/lucasnoah/qafactory/internal/prompt"
	"github.com/lucasnoah/qafactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ask API, run history and metrics over HTTP",
	Long: `Start an HTTP server with:
  POST /api/ask                 answer a question ({"question": ..., "partial": bool})
  GET  /api/runs[/{id}]         stored runs
  GET  /api/runs/{id}/events    run timeline
  GET  /api/analytics/stages    stage statistics
  GET  /metrics                 Prometheus metrics
  GET  /                        dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.Check(cfg); err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		store, database, cleanup, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec := metrics.New(reg)

		orch, err := orchestrator.NewFromConfig(cfg, orchestrator.Options{
			Store:     store,
			DB:        database,
			Metrics:   rec,
			PromptDir: prompt.DefaultDir(),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return web.NewServer(web.Options{
			Addr:              cfg.Server.Addr,
			Runner:            orch,
			Store:             store,
			DB:                database,
			Gatherer:          reg,
			MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		}).Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, :8088)")
}
