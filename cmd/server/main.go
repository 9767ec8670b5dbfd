package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"brandaudit/internal/audit/classifier"
	"brandaudit/internal/audit/events"
	"brandaudit/internal/audit/handler"
	"brandaudit/internal/audit/llm"
	auditmetrics "brandaudit/internal/audit/metrics"
	"brandaudit/internal/audit/search"
	"brandaudit/internal/audit/service"
	"brandaudit/internal/audit/store"
	"brandaudit/internal/audit/strategy"
	"brandaudit/internal/audit/worker"
	"brandaudit/internal/platform/config"
	"brandaudit/internal/platform/httpserver"
	"brandaudit/internal/platform/kafka"
	"brandaudit/internal/platform/logger"
	"brandaudit/internal/platform/metrics"
	"brandaudit/internal/platform/postgres"
	redisplatform "brandaudit/internal/platform/redis"
	httptransport "brandaudit/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("brandaudit exited", "error", err)
		os.Exit(1)
	}
}

// run wires the dependencies and blocks until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auditMetrics := auditmetrics.New(reg)

	searchClient, err := search.New(cfg.Serper.APIKey,
		search.WithBaseURL(cfg.Serper.URL),
		search.WithCreditAllowance(cfg.Serper.CreditAllowance),
		search.WithLogger(log),
		search.WithMetrics(auditMetrics),
	)
	if err != nil {
		return fmt.Errorf("init search client: %w", err)
	}

	llmOpts := []llm.Option{
		llm.WithModel(cfg.OpenAI.Model),
		llm.WithTimeout(cfg.OpenAI.Timeout),
		llm.WithLogger(log),
		llm.WithMetrics(auditMetrics),
	}
	if cfg.OpenAI.BaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	llmClient, err := llm.New(cfg.OpenAI.APIKey, llmOpts...)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}

	st, checks, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closeEvents, err := openEvents(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer closeEvents()

	orch, err := service.NewOrchestrator(st, searchClient,
		classifier.New(llmClient, classifier.WithLogger(log), classifier.WithMetrics(auditMetrics)),
		strategy.New(llmClient, strategy.WithLogger(log)),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithBatchDelay(cfg.Audit.BatchDelay),
		service.WithBaseURL(cfg.Server.BaseURL),
		service.WithStrategyFailurePolicy(service.StrategyFailurePolicy(cfg.Audit.StrategyFailurePolicy)),
		service.WithEventPublisher(publisher),
		service.WithOrchestratorLogger(log),
		service.WithOrchestratorMetrics(auditMetrics),
	)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	runner := worker.New(orch.Run,
		worker.WithWorkers(cfg.Audit.Workers),
		worker.WithQueueSize(cfg.Audit.QueueSize),
		worker.WithLogger(log),
	)
	// Runs are detached from the signal; the shutdown deadline below is what
	// cancels them.
	runner.Start(context.Background())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := runner.Shutdown(shutdownCtx); err != nil {
			log.Warn("audit workers did not drain", "error", err)
		}
	}()

	svc, err := service.New(st, runner,
		service.WithLogger(log),
		service.WithMetrics(auditMetrics),
		service.WithCreditChecker(searchClient),
		service.WithPublicationCount(orch.PublicationCount()),
	)
	if err != nil {
		return fmt.Errorf("init audit service: %w", err)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Checks:   checks,
	}, handler.New(svc, log))

	srv := httpserver.New(cfg.Server.Addr, router)
	log.Info("starting brandaudit",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"kafka", len(cfg.Kafka.Brokers) > 0,
		"workers", cfg.Audit.Workers,
	)
	return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, log)
}

// openStore builds the configured AuditStore along with its health checks.
func openStore(ctx context.Context, cfg config.Store, log *slog.Logger) (service.Store, map[string]httptransport.HealthCheck, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client, err := redisplatform.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("using redis audit store", "ttl", cfg.RedisTTL.String())
		checks := map[string]httptransport.HealthCheck{"redis": client.Health}
		return store.NewRedis(client.Client, store.WithTTL(cfg.RedisTTL)), checks, func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.DefaultPool)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := store.NewPostgres(db)
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := pg.Migrate(migrateCtx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("using postgres audit store")
		checks := map[string]httptransport.HealthCheck{"postgres": pingDB(db)}
		return pg, checks, func() { _ = db.Close() }, nil

	default:
		log.Info("using in-memory audit store")
		return store.NewInMemory(), nil, func() {}, nil
	}
}

func pingDB(db *sql.DB) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// openEvents returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func openEvents(ctx context.Context, cfg config.Kafka, log *slog.Logger) (service.EventPublisher, func(), error) {
	kcfg := kafka.Config{Brokers: cfg.Brokers, Topic: cfg.Topic, ClientID: cfg.ClientID}
	if !kcfg.Enabled() {
		return events.NopPublisher{}, func() {}, nil
	}
	client, err := kafka.NewClient(ctx, kcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect kafka: %w", err)
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.Topic, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", "topic", cfg.Topic, "error", err)
	}
	log.Info("publishing audit events", "topic", cfg.Topic, "brokers", cfg.Brokers)
	return events.NewKafkaPublisher(client, cfg.Topic, log), func() { closeKafka(client) }, nil
}

func closeKafka(client *kgo.Client) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Flush(flushCtx)
	client.Close()
}
