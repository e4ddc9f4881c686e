package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/onchain-casino-settlement/internal/config"
	"github.com/onchain-casino-settlement/internal/data/mongo"
	"github.com/onchain-casino-settlement/internal/data/postgres"
	"github.com/onchain-casino-settlement/internal/logger"
	"github.com/onchain-casino-settlement/internal/ops"
	"github.com/onchain-casino-settlement/internal/platform/cache"
	"github.com/onchain-casino-settlement/internal/platform/chain"
	"github.com/onchain-casino-settlement/internal/platform/messaging/consumers"
	"github.com/onchain-casino-settlement/internal/platform/messaging/producers"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
	"github.com/onchain-casino-settlement/internal/platform/persistence"
	"github.com/onchain-casino-settlement/internal/platform/scheduler"
	"github.com/onchain-casino-settlement/internal/settlement_processor/abuse"
	"github.com/onchain-casino-settlement/internal/settlement_processor/consumer"
	"github.com/onchain-casino-settlement/internal/settlement_processor/deposits"
	"github.com/onchain-casino-settlement/internal/settlement_processor/fairness"
	"github.com/onchain-casino-settlement/internal/settlement_processor/ledger"
	"github.com/onchain-casino-settlement/internal/settlement_processor/outbox_poller"
	"github.com/onchain-casino-settlement/internal/settlement_processor/payouts"
	"github.com/onchain-casino-settlement/internal/settlement_processor/service"
	"github.com/onchain-casino-settlement/internal/settlement_processor/sweep"
	"github.com/segmentio/kafka-go"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("settlement_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting Settlement Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"treasury", cfg.Chain.TreasuryAddress,
	)

	m := metrics.Settlement()

	// Stores
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}
	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}
	if err := mongo.EnsureEventIndexes(appCtx, mongoDB.Database()); err != nil {
		log.Error("Failed to prepare audit collection", "error", err)
		os.Exit(1)
	}
	redisDB, err := persistence.NewRedisDB(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}
	ttlCache := cache.NewRedisStore(redisDB.Client(), cfg.Redis.KeyPrefix)

	// Only the in-memory devnet chain ships; a real RPC client satisfies the same interface
	chainClient := chain.NewSimulated()
	chainClient.Fund(cfg.Chain.TreasuryAddress, cfg.Chain.SimulatedFunds)

	// Repositories
	userRepo := postgres.NewUserRepository(log, postgresDB)
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	depositRepo := postgres.NewDepositRepository(log, postgresDB)
	withdrawalRepo := postgres.NewWithdrawalRepository(log, postgresDB)
	payoutRepo := postgres.NewPayoutRepository(log, postgresDB)
	gameRepo := postgres.NewGameRepository(log, postgresDB)
	discrepancyRepo := postgres.NewDiscrepancyRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	eventStore := mongo.NewEventRepository(log, mongoDB.Database())

	// Kafka producers
	dlqProducer, err := producers.NewDLQProducer(log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	eventProducer, err := producers.NewSettlementEventProducer(log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize settlement event producer", "error", err)
		os.Exit(1)
	}

	// Settlement components
	ledgerService := ledger.NewService(userRepo, ledgerRepo, log)
	events := ledger.NewEvents(outboxRepo, log)

	registry, err := fairness.LoadTable(cfg.Fairness.GamesConfigPath)
	if err != nil {
		log.Error("Failed to load game table", "error", err)
		os.Exit(1)
	}
	engine := fairness.NewEngine(ttlCache, registry, cfg.Fairness.CommitTTL, log)

	reconciler := deposits.NewReconciler(postgresDB, chainClient, userRepo, depositRepo, ledgerService, events, ttlCache, m, deposits.Config{
		TreasuryAddress:       cfg.Chain.TreasuryAddress,
		ConfirmationThreshold: cfg.Deposit.ConfirmationThreshold,
		SignatureLimit:        cfg.Deposit.SignatureLimit,
		IntentTTL:             cfg.Deposit.IntentTTL,
		CursorTTL:             cfg.Deposit.CursorTTL,
		RPCTimeout:            cfg.Chain.RPCTimeout,
	}, log)
	if err := reconciler.Seed(appCtx); err != nil {
		log.Error("Failed to seed processed signatures", "error", err)
		os.Exit(1)
	}

	processor, err := payouts.NewProcessor(postgresDB, chainClient, userRepo, withdrawalRepo, payoutRepo, ledgerService, events, m, payouts.Config{
		TreasuryAddress:   cfg.Chain.TreasuryAddress,
		BatchSize:         cfg.Payout.BatchSize,
		AutoApprovalLimit: cfg.Payout.AutoApprovalLimit,
		MaxAttempts:       cfg.Payout.MaxAttempts,
		Confirmations:     cfg.Payout.Confirmations,
		FaucetAmount:      cfg.Payout.FaucetAmount,
		RPCTimeout:        cfg.Chain.RPCTimeout,
		PoolSize:          cfg.WorkerPool.Size,
		ShutdownTimeout:   cfg.Payout.ShutdownTimeout,
	}, log)
	if err != nil {
		log.Error("Failed to initialize payout processor", "error", err)
		os.Exit(1)
	}

	balanceSweep := sweep.New(postgresDB, chainClient, userRepo, depositRepo, payoutRepo, discrepancyRepo, ledgerService, events, reconciler, processor, m, sweep.Config{
		TreasuryAddress:      cfg.Chain.TreasuryAddress,
		OpeningFloat:         cfg.Chain.OpeningFloat,
		Tolerance:            cfg.Sweep.Tolerance,
		StaleProcessingAfter: cfg.Sweep.StaleProcessingAfter,
		RPCTimeout:           cfg.Chain.RPCTimeout,
	}, log)

	guard := abuse.NewGuard(ttlCache, abuse.Thresholds{
		Window:                    cfg.Abuse.Window,
		MaxAccountsPerIP:          cfg.Abuse.MaxAccountsPerIP,
		MaxAccountsPerFingerprint: cfg.Abuse.MaxAccountsPerFingerprint,
		FaucetCooldown:            cfg.Abuse.FaucetCooldown,
		MaxFaucetPerIP:            cfg.Abuse.MaxFaucetPerIP,
		MaxReferralsPerReferrer:   cfg.Abuse.MaxReferralsPerReferrer,
		MaxWithdrawalsPerWindow:   cfg.Abuse.MaxWithdrawalsPerWindow,
		MaxWithdrawalSumPerWindow: cfg.Abuse.MaxWithdrawalSumPerWindow,
	}, m, log)

	casino := service.NewCasinoService(postgresDB, userRepo, withdrawalRepo, gameRepo, ledgerService, events, engine, reconciler, processor, guard, m, log)

	poller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, outbox_poller.NewEventRelay(outboxRepo, eventStore, eventProducer, log), m, log)

	// Health
	health := ops.NewHealthChecker(cfg.Chain.RPCTimeout, m, log)
	health.Register("postgres", postgresDB.Ping)
	health.Register("mongodb", mongoDB.Ping)
	health.Register("redis", redisDB.Ping)
	health.Register("chain", func(ctx context.Context) error {
		_, err := chainClient.GetBalance(ctx, cfg.Chain.TreasuryAddress)
		return err
	})
	health.Register("kafka", func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		return conn.Close()
	})

	// Periodic tasks
	sched, err := scheduler.New(log, m)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	tasks := []scheduler.Task{
		{Name: "deposit_poll", Interval: cfg.Deposit.PollInterval, RunImmediately: true, Run: reconciler.PollOnce},
		{Name: "payout_drain", Interval: cfg.Payout.DrainInterval, Run: func(ctx context.Context) error {
			_, err := processor.DrainOnce(ctx)
			return err
		}},
		{Name: "outbox_relay", Interval: cfg.Outbox.PollingInterval, Run: poller.PollOnce},
		{Name: "balance_sweep", Interval: cfg.Sweep.Interval, Run: func(ctx context.Context) error {
			_, err := balanceSweep.RunOnce(ctx)
			return err
		}},
		{Name: "health_check", Interval: cfg.Sweep.HealthInterval, RunImmediately: true, Run: health.RunChecks},
	}
	for _, task := range tasks {
		if err := sched.Register(appCtx, task); err != nil {
			log.Error("Failed to register task", "task", task.Name, "error", err)
			os.Exit(1)
		}
	}

	// Kafka consumers
	chainConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, cfg.Kafka.ChainTopic)
	commandConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, cfg.Kafka.CommandTopic)
	chainHandler := consumer.NewChainNotificationHandler(log, reconciler, dlqProducer, cfg.Chain.TreasuryAddress)
	commandHandler := consumer.NewOperatorCommandHandler(log, casino, dlqProducer)

	errChan := make(chan error, 3)

	if err := chainConsumer.Subscribe(appCtx, chainHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("chain notification consumer error: %w", err)
	}
	if err := commandConsumer.Subscribe(appCtx, commandHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("operator command consumer error: %w", err)
	}

	sched.Start()

	opsServer := ops.NewServer(log, cfg, health)
	go func() {
		if err := opsServer.Start(); err != nil {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case serviceErr = <-errChan:
		log.Error("Service error occurred", "error", serviceErr)
	}

	// Graceful shutdown: stop intake, drain in-flight work, then close stores
	cancelAppCtx()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := sched.Shutdown(); err != nil {
		log.Error("Error stopping scheduler", "error", err)
	}

	for name, done := range map[string]<-chan struct{}{"chain": chainConsumer.Done(), "command": commandConsumer.Done()} {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn("Consumer did not stop before shutdown timeout", "consumer", name)
		}
	}

	if err := processor.Shutdown(); err != nil {
		log.Error("Payout workers did not finish in time", "error", err)
	}

	if err := opsServer.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping ops server", "error", err)
	}
	if err := chainConsumer.Close(); err != nil {
		log.Error("Error closing chain notification consumer", "error", err)
	}
	if err := commandConsumer.Close(); err != nil {
		log.Error("Error closing operator command consumer", "error", err)
	}
	if err := eventProducer.Close(); err != nil {
		log.Error("Error closing settlement event producer", "error", err)
	}
	if err := dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ producer", "error", err)
	}
	if err := redisDB.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}
	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}
	postgresDB.Close()

	if serviceErr != nil {
		log.Error("Settlement Processor shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Settlement Processor shutdown completed successfully")
}
