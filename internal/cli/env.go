package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/db"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// loadConfig reads --config, or the first config on the search path.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

// openDB opens and migrates the event log named by cfg.
func openDB(cfg *config.Config) (*db.DB, error) {
	dsn := cfg.Storage.DB
	if dsn == "" {
		var err error
		if dsn, err = db.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("db path: %w", err)
		}
	} else if db.DialectFor(dsn) == db.DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	database, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// openStore returns the run store named by cfg.
func openStore(cfg *config.Config) (*pipeline.Store, error) {
	if cfg.Storage.Dir == "" {
		store, err := pipeline.DefaultStore()
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return store, nil
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return pipeline.NewStore(cfg.Storage.Dir), nil
}

// openStorage opens the run store and event log when persistence is on.
// The returned cleanup is always safe to call.
func openStorage(cfg *config.Config) (*pipeline.Store, *db.DB, func(), error) {
	noop := func() {}
	if !cfg.Storage.Persist {
		return nil, nil, noop, nil
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, noop, err
	}
	database, err := openDB(cfg)
	if err != nil {
		return nil, nil, noop, err
	}
	return store, database, func() { database.Close() }, nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
