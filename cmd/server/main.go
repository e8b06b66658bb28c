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

	"golang.org/x/sync/errgroup"

	"blogguard/internal/authz"
	authzsource "blogguard/internal/authz/source"
	"blogguard/internal/platform/config"
	"blogguard/internal/platform/httpserver"
	"blogguard/internal/platform/kafka"
	kafkaconsumer "blogguard/internal/platform/kafka/consumer"
	"blogguard/internal/platform/logger"
	"blogguard/internal/platform/postgres"
	platformredis "blogguard/internal/platform/redis"
	"blogguard/internal/security"
	"blogguard/internal/security/capture"
	secconsumer "blogguard/internal/security/consumer"
	"blogguard/internal/security/escalate"
	"blogguard/internal/security/escalate/counters"
	"blogguard/internal/security/producer"
	pgstore "blogguard/internal/security/store/postgres"
	httptransport "blogguard/internal/transport/http"
)

// main wires the security pipeline: broker clients, stores, producer,
// escalation engine, consumer group, authorization cache, and the admin
// HTTP surface. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Infrastructure clients.
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	if cfg.Kafka.CreateTopics {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka, security.Topics()...); err != nil {
			return err
		}
	}

	broker, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	defer broker.Close()

	// Pipeline components.
	pub := producer.New(broker,
		producer.WithLogger(log),
		producer.WithTimeout(cfg.Producer.PublishTimeout),
		producer.WithAsyncBuffer(cfg.Producer.AsyncBuffer),
	)
	defer pub.Close() // drains deferred publishes

	captureOpts := []capture.Option{capture.WithLogger(log)}
	if cfg.StrictCapture {
		captureOpts = append(captureOpts, capture.WithStrictMode())
	}
	auditor := capture.New(pub, captureOpts...)

	rules := escalate.DefaultRules()
	if cfg.Escalation.RulesFile != "" {
		rules, err = escalate.LoadRules(cfg.Escalation.RulesFile)
		if err != nil {
			return err
		}
	}
	engine, err := escalate.New(
		counters.NewRedisStore(redisClient.Client),
		pub,
		escalate.WithLogger(log),
		escalate.WithRules(rules),
	)
	if err != nil {
		return err
	}

	st := pgstore.New(db)
	pipeline := secconsumer.NewPipeline(st, engine, log)
	group, err := kafkaconsumer.NewGroup(cfg.Kafka, security.Topics(), pipeline, log)
	if err != nil {
		return err
	}

	// Authorization cache.
	decisionCache, err := authz.NewDecisionCache(cfg.Authz.CacheSize, cfg.Authz.CacheTTL)
	if err != nil {
		return err
	}
	authzSvc, err := authz.NewService(decisionCache, authzsource.NewPostgres(pool),
		authz.WithLogger(log),
		authz.WithPublisher(pub),
		authz.WithQueryTimeout(cfg.Authz.QueryTimeout),
	)
	if err != nil {
		return err
	}

	// HTTP surface.
	handler := httptransport.NewHandler(st, authzSvc, auditor, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, cfg.JWTSigningKey))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("consumer group started", "group", cfg.Kafka.ConsumerGroup)
		return group.Run(ctx)
	})

	g.Go(func() error {
		log.Info("http server started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
