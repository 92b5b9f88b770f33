package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mujojo03/BitMarket-sub000/internal/config"
	"github.com/Mujojo03/BitMarket-sub000/internal/payment/simulator"
	"github.com/Mujojo03/BitMarket-sub000/pkg/logger"
)

func main() {
	cfg, err := config.LoadSimulator()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel)

	sim := simulator.NewServer(simulator.Config{
		APIKey:           cfg.APIKey,
		InvoiceTTL:       cfg.InvoiceTTL,
		SettleAfterPolls: cfg.SettleAfterPolls,
	}, simulator.RandomOutcome{SuccessPercent: int(cfg.SuccessRate * 100)}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           sim.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("payment simulator listening", "port", cfg.HTTPPort, "settle_after_polls", cfg.SettleAfterPolls)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down payment simulator...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("payment simulator stopped")
}
