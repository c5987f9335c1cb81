// Server entrypoint. main wires stores, services, background workers, and
// the HTTP router; business logic lives in the internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	consensushandler "merit/internal/consensus/handler"
	consensusmetrics "merit/internal/consensus/metrics"
	consensusservice "merit/internal/consensus/service"
	consensusstore "merit/internal/consensus/store"
	synchandler "merit/internal/githubsync/handler"
	syncmetrics "merit/internal/githubsync/metrics"
	syncservice "merit/internal/githubsync/service"
	syncstore "merit/internal/githubsync/store"
	syncworker "merit/internal/githubsync/worker"
	"merit/internal/jwttoken"
	ledgeradapters "merit/internal/ledger/adapters"
	ledgerhandler "merit/internal/ledger/handler"
	ledgermetrics "merit/internal/ledger/metrics"
	ledgerservice "merit/internal/ledger/service"
	ledgerstore "merit/internal/ledger/store"
	"merit/internal/platform/config"
	"merit/internal/platform/database"
	"merit/internal/platform/github"
	"merit/internal/platform/httpserver"
	"merit/internal/platform/logger"
	platformmetrics "merit/internal/platform/metrics"
	platformredis "merit/internal/platform/redis"
	registryhandler "merit/internal/registry/handler"
	registryservice "merit/internal/registry/service"
	registrystore "merit/internal/registry/store"
	rewardsadapters "merit/internal/rewards/adapters"
	rewardsconfig "merit/internal/rewards/config"
	rewardshandler "merit/internal/rewards/handler"
	rewardsmetrics "merit/internal/rewards/metrics"
	overrideservice "merit/internal/rewards/service/override"
	weightsservice "merit/internal/rewards/service/weights"
	accountsstore "merit/internal/rewards/store/accounts"
	overridestore "merit/internal/rewards/store/override"
	httptransport "merit/internal/transport/http"
	validatorhandler "merit/internal/validator/handler"
	validatorservice "merit/internal/validator/service"
	validatorstore "merit/internal/validator/store"
	id "merit/pkg/domain"
	audit "merit/pkg/platform/audit"
	auditrelay "merit/pkg/platform/audit/relay"
	auditmemory "merit/pkg/platform/audit/store/memory"
	auditpostgres "merit/pkg/platform/audit/store/postgres"
	auditworker "merit/pkg/platform/audit/worker"
	"merit/pkg/platform/tx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := rewardsconfig.FromEnv()
	metrics := platformmetrics.New()

	// Stores: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		participants registrystore.Store
		issues       ledgerstore.Store
		accounts     accountsstore.Store
		overrides    overridestore.Store
		proposals    consensusstore.Store
		validators   validatorstore.Store
		syncState    syncstore.Store
		auditStore   audit.Store
		txRunner     tx.Runner = tx.NewNopRunner()
		readiness    []httptransport.HealthChecker
	)
	if cfg.Postgres.URL != "" {
		db, err := database.Open(ctx, cfg.Postgres)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db, log); err != nil {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		pool, err := database.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			log.Error("failed to open pgx pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		participants = registrystore.NewPostgresStore(db)
		issues = ledgerstore.NewPostgresStore(db)
		accounts = accountsstore.NewPostgresStore(db)
		overrides = overridestore.NewPostgresStore(db)
		proposals = consensusstore.NewPostgresStore(db)
		validators = validatorstore.NewPostgresStore(db)
		syncState = syncstore.NewPostgresStore(pool)
		auditStore = auditpostgres.New(db)
		txRunner = tx.NewSQLRunner(db)
		readiness = append(readiness, dbHealth{db: db})
	} else {
		log.Warn("no DATABASE_URL configured, using in-memory stores")
		participants = registrystore.NewInMemoryStore()
		issues = ledgerstore.NewInMemoryStore()
		accounts = accountsstore.NewInMemoryStore()
		overrides = overridestore.NewInMemoryStore()
		proposals = consensusstore.NewInMemoryStore()
		validators = validatorstore.NewInMemoryStore()
		syncState = syncstore.NewInMemoryStore()
		auditStore = auditmemory.New()
	}

	// Audit pipeline: non-blocking publisher, store worker, optional Kafka
	// relay draining the outbox.
	publisher, inbox := audit.NewChannelPublisher(256, log)
	auditWorker := auditworker.New(auditStore, inbox, log)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()
	if len(cfg.Kafka.Brokers) > 0 {
		if outbox, ok := auditStore.(auditrelay.Outbox); ok {
			relay, err := auditrelay.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, outbox, log)
			if err != nil {
				log.Error("failed to start audit relay", "error", err)
				os.Exit(1)
			}
			go func() {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("audit relay stopped", "error", err)
				}
			}()
		} else {
			log.Warn("kafka configured without a persistent outbox, relay disabled")
		}
	}

	// Services.
	registrySvc := registryservice.New(participants,
		registryservice.WithLogger(log),
		registryservice.WithAuditPublisher(publisher),
		registryservice.WithEpochInterval(cfg.Sync.EpochInterval),
	)
	ledgerSvc := ledgerservice.New(issues, accounts, ledgeradapters.NewRegistryResolver(registrySvc), policy,
		ledgerservice.WithLogger(log),
		ledgerservice.WithAuditPublisher(publisher),
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithTxRunner(txRunner),
	)
	overrideSvc := overrideservice.New(overrides, rewardsadapters.NewRegistryChecker(registrySvc), policy,
		overrideservice.WithLogger(log),
		overrideservice.WithAuditPublisher(publisher),
	)

	weightsOpts := []weightsservice.Option{
		weightsservice.WithLogger(log),
		weightsservice.WithMetrics(rewardsmetrics.New()),
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		weightsOpts = append(weightsOpts, weightsservice.WithCache(rewardsadapters.NewRedisCache(redisClient)))
		readiness = append(readiness, redisClient)
	}
	weightsSvc := weightsservice.New(accounts, overrideSvc,
		rewardsadapters.NewRegistryDirectory(registrySvc), ledgerSvc, policy, weightsOpts...)
	go weightsSvc.Run(ctx)

	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	validatorSvc := validatorservice.New(validators, tokens, cfg.Auth.TokenTTL,
		validatorservice.WithLogger(log),
		validatorservice.WithAuditPublisher(publisher),
	)
	consensusSvc := consensusservice.New(proposals, validatorSvc,
		consensusservice.WithLogger(log),
		consensusservice.WithAuditPublisher(publisher),
		consensusservice.WithMetrics(consensusmetrics.New()),
	)

	githubClient := github.New(cfg.GitHub)
	syncSvc := syncservice.New(
		id.ValidatorID(cfg.Sync.ValidatorID),
		githubClient, consensusSvc, ledgerSvc, accounts,
		ledgeradapters.NewRegistryResolver(registrySvc), syncState,
		policy.ValidLabel, policy.InvalidLabel,
		syncservice.WithLogger(log),
		syncservice.WithAuditPublisher(publisher),
		syncservice.WithMetrics(syncmetrics.New()),
	)
	if cfg.Sync.Enabled {
		go syncworker.New(syncSvc, cfg.Sync.Interval, log).Run(ctx)
	} else {
		log.Info("sync worker disabled")
	}

	// HTTP.
	router := httptransport.NewRouter(httptransport.Handlers{
		Registry:  registryhandler.New(registrySvc, log),
		Rewards:   rewardshandler.New(weightsSvc, overrideSvc, log),
		Ledger:    ledgerhandler.New(ledgerSvc, log),
		Consensus: consensushandler.New(consensusSvc, validatorSvc, log),
		Validator: validatorhandler.New(validatorSvc, log),
		Sync:      synchandler.New(syncSvc, log),
	}, httptransport.Config{
		AdminToken:     cfg.Auth.AdminToken,
		TokenValidator: tokens,
		Metrics:        metrics,
		Logger:         log,
		Readiness:      readiness,
	})

	srv := httpserver.New(cfg.HTTP.Addr, router)
	go func() {
		log.Info("merit server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

type dbHealth struct {
	db interface {
		PingContext(ctx context.Context) error
	}
}

func (h dbHealth) Health(ctx context.Context) error {
	return h.db.PingContext(ctx)
}
