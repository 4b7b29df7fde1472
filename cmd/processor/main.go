package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/ledger-processor/internal/balance"
	"github.com/congo-pay/ledger-processor/internal/cache"
	"github.com/congo-pay/ledger-processor/internal/config"
	"github.com/congo-pay/ledger-processor/internal/infra"
	"github.com/congo-pay/ledger-processor/internal/ledger"
	"github.com/congo-pay/ledger-processor/internal/logging"
	"github.com/congo-pay/ledger-processor/internal/processor"
	"github.com/congo-pay/ledger-processor/internal/queue"
	"github.com/congo-pay/ledger-processor/internal/routes"
	"github.com/congo-pay/ledger-processor/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, int32(2*cfg.Prefetch))
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := ledger.Migrate(ctx, db); err != nil {
			logger.Error("migrate", "error", err)
			os.Exit(1)
		}
		logger.Info("ledger schema applied")
	}

	redisClient, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	conn, err := infra.NewAMQPConnection(cfg.AMQPURL)
	if err != nil {
		logger.Error("connect rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	txCh, err := infra.OpenChannel(conn)
	if err != nil {
		logger.Error("open transactions channel", "error", err)
		os.Exit(1)
	}
	balanceCh, err := infra.OpenChannel(conn)
	if err != nil {
		logger.Error("open balance channel", "error", err)
		os.Exit(1)
	}
	publishCh, err := infra.OpenChannel(conn)
	if err != nil {
		logger.Error("open publish channel", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := ledger.NewPostgresStore(db)
	balances := cache.NewRedisCache(redisClient)
	engine := balance.NewEngine(store)
	refresher := balance.NewHandler(store, engine, balances, cfg.BalanceTTL, logger)
	proc := processor.New(store, engine, refresher, processor.NewMetrics(registry), logger)

	txConsumer := queue.NewConsumer(txCh, cfg.TransactionsQueue, cfg.Prefetch, proc.HandleTransaction, logger)
	balanceConsumer := queue.NewConsumer(balanceCh, cfg.BalanceQueue, cfg.Prefetch, proc.HandleBalanceRequest, logger)

	srv := server.New(cfg, routes.Deps{
		DB:       db,
		Balances: balances,
		Requests: queue.NewPublisher(publishCh, cfg.BalanceQueue),
		Gatherer: registry,
		Logger:   logger,
	})

	logger.Info("processor starting",
		"transactions_queue", cfg.TransactionsQueue,
		"balance_queue", cfg.BalanceQueue,
		"addr", cfg.Address())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return txConsumer.Run(gctx) })
	g.Go(func() error { return balanceConsumer.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("processor stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("processor exited cleanly")
}
