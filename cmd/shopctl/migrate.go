package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Clark-Hu/coffeemap/db/migrations"
	"github.com/Clark-Hu/coffeemap/internal/config"
	"github.com/Clark-Hu/coffeemap/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if cfg.StoreBackend != config.BackendPostgres {
			return fmt.Errorf("migrate only applies to the postgres backend (got %s)", cfg.StoreBackend)
		}

		st, err := store.New(cmd.Context(), cfg.DBURL, store.Options{
			MaxConns:               1,
			ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
			StatementCacheCapacity: -1,
			Logger:                 newLogger(cfg),
		})
		if err != nil {
			return err
		}
		defer st.Close()

		names, err := migrations.UpFiles()
		if err != nil {
			return err
		}
		if err := migrations.Apply(cmd.Context(), st.Pool()); err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
