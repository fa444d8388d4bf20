package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/coffeemap/internal/config"
	httpserver "github.com/Clark-Hu/coffeemap/internal/http"
	"github.com/Clark-Hu/coffeemap/internal/logger"
	"github.com/Clark-Hu/coffeemap/internal/repository"
	"github.com/Clark-Hu/coffeemap/internal/shops"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With("service", "coffeemap-api")

	storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, closeStore, err := repository.Open(storeCtx, cfg, log)
	if err != nil {
		log.Error("open store", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	svc := shops.New(st, shops.Options{MaxRating: cfg.MaxRating, Logger: log})
	server := httpserver.New(cfg, svc, log)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			log.Error("server error", "err", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("graceful shutdown error", "err", err)
	}
}
