// Command shopctl administers the coffeemap shop store from a terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Clark-Hu/coffeemap/internal/config"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/repository"
	"github.com/Clark-Hu/coffeemap/internal/shops"
)

var backendFlag string

var rootCmd = &cobra.Command{
	Use:   "shopctl",
	Short: "Inspect and seed the coffee shop store",
	Long: `shopctl talks to the same store as the API server, configured through
the same environment variables (STORE_BACKEND, DB_URL, REDIS_ADDR, ...).

Examples:
  shopctl migrate
  shopctl seed --file shops.yaml
  shopctl nearby --lat 37.7749 --lng -122.4194 --radius 2000
  shopctl rate blue-bottle --name "Blue Bottle" --lat 37.78 --lng -122.40 --rating 4
  shopctl get blue-bottle`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "override STORE_BACKEND (postgres, redis, memory)")
}

// loadConfig reads the environment, applying the --backend override.
func loadConfig() (config.Config, error) {
	if backendFlag != "" {
		if err := os.Setenv("STORE_BACKEND", backendFlag); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

func newLogger(cfg config.Config) *slog.Logger {
	return logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr).With("service", "shopctl")
}

// openService connects to the configured store. The caller must invoke the
// returned close function.
func openService(ctx context.Context) (*shops.Service, config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("config: %w", err)
	}
	log := newLogger(cfg)
	st, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("open store: %w", err)
	}
	return shops.New(st, shops.Options{MaxRating: cfg.MaxRating, Logger: log}), cfg, closeStore, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
