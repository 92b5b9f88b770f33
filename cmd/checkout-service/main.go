package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Mujojo03/BitMarket-sub000/internal/cart"
	"github.com/Mujojo03/BitMarket-sub000/internal/config"
	h "github.com/Mujojo03/BitMarket-sub000/internal/http"
	"github.com/Mujojo03/BitMarket-sub000/internal/metrics"
	"github.com/Mujojo03/BitMarket-sub000/internal/orders"
	"github.com/Mujojo03/BitMarket-sub000/internal/payment"
	"github.com/Mujojo03/BitMarket-sub000/internal/publisher"
	"github.com/Mujojo03/BitMarket-sub000/internal/registry"
	"github.com/Mujojo03/BitMarket-sub000/internal/repository"
	"github.com/Mujojo03/BitMarket-sub000/internal/service"
	"github.com/Mujojo03/BitMarket-sub000/internal/watcher"
	"github.com/Mujojo03/BitMarket-sub000/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("checkout service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("checkout-service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.Name,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds, log)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.RunMigrations(creds); err != nil {
		return err
	}

	orderRepo := orders.NewRepository(repo.DB(), log)
	if err := orderRepo.RunMigrations(cfg.Postgres.OrdersMigrationsPath); err != nil {
		return err
	}
	log.Info("database migrations completed")

	mongoDB, err := cart.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = mongoDB.Client().Disconnect(disconnectCtx)
	}()
	cartRepo := cart.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info("redis ping succeeded", "addr", cfg.Redis.Addr)

	carts := cart.NewStore(cartRepo, cart.NewRedisCache(redisClient), log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	payments := payment.NewClient(payment.ClientConfig{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: cfg.Payment.Timeout,
	}, log)

	co := cfg.Checkout
	intents := service.NewIntentCreator(payments, service.IntentCreatorConfig{
		Attempts:     co.IntentAttempts,
		Backoff:      co.IntentRetryBackoff,
		Timeout:      co.CollaboratorTimeout,
		TTL:          co.IntentTTL,
		FiatRate:     co.MobileMoneyRate,
		FiatCurrency: co.MobileMoneyFiat,
	}, m, log)

	checkout := service.NewCheckoutService(service.Settings{
		NetworkFeeSats:      co.NetworkFeeSats,
		CollaboratorTimeout: co.CollaboratorTimeout,
		SessionRetention:    co.SessionRetention,
		JanitorInterval:     co.JanitorInterval,
		SubscriberBuffer:    co.SubscriberBuffer,
	}, service.Dependencies{
		Intents:   intents,
		Finalizer: service.NewOrderFinalizer(orderRepo, carts, co.CollaboratorTimeout, log),
		Payments:  payments,
		Watcher:   watcher.New(payments, co.PollInterval, co.CollaboratorTimeout, m, log),
		Registry:  registry.NewRedisRegistry(redisClient, co.ClaimTTL),
		Journal:   repo,
		Metrics:   m,
		Logger:    log,
	})

	writer := publisher.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
	defer writer.Close()
	pollerCfg := publisher.DefaultConfig()
	pollerCfg.StuckAfter = co.StuckAfter
	poller := publisher.NewOutboxPoller(repo, writer, pollerCfg, log)

	clearConsumer := cart.NewClearConsumer(cart.NewKafkaReader(cfg.Kafka.Topic, cfg.Kafka.Brokers...), carts, log)
	defer clearConsumer.Close()

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		poller.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		clearConsumer.Run(ctx)
	}()

	router := h.NewRouter(h.RouterConfig{
		Checkout:       h.NewCheckoutHandler(checkout, carts, repo, cfg.RequestTimeout, log),
		Cart:           h.NewCartHandler(carts, cfg.RequestTimeout),
		Orders:         h.NewOrdersHandler(orderRepo, cfg.RequestTimeout),
		JWTSecret:      []byte(cfg.JWTSecret),
		Metrics:        metrics.Handler(reg),
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "checkout-service"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("checkout service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			workers.Wait()
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down checkout service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := checkout.Close(shutdownCtx); err != nil {
		log.Error("checkout service close", "error", err)
	}
	workers.Wait()

	log.Info("checkout service stopped")
	return nil
}
