package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticket-fulfillment/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-ticket-fulfillment/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/event-ticket-fulfillment/internal/adapters/redis"
	"github.com/robertarktes/event-ticket-fulfillment/internal/alerting"
	"github.com/robertarktes/event-ticket-fulfillment/internal/checkout"
	"github.com/robertarktes/event-ticket-fulfillment/internal/config"
	"github.com/robertarktes/event-ticket-fulfillment/internal/fulfillment"
	httphandler "github.com/robertarktes/event-ticket-fulfillment/internal/http"
	"github.com/robertarktes/event-ticket-fulfillment/internal/idempotency"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"github.com/robertarktes/event-ticket-fulfillment/internal/rateLimit"
	"github.com/robertarktes/event-ticket-fulfillment/internal/signature"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "tickets-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	repo := crdb.NewRepository(pool)

	engineOpts := []fulfillment.Option{fulfillment.WithAlerter(alerting.NewOutboxAlerter(repo))}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
		engineOpts = append(engineOpts, fulfillment.WithAuditor(audit))
	} else {
		logger.Warn("MONGO_URI not set, webhook audit trail disabled")
	}

	var (
		rl    *rateLimit.RateLimiter
		idemp httphandler.ResponseCache
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rl = rateLimit.NewRateLimiter(redisadapter.NewCache(redisClient), logger)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting and checkout replay disabled")
	}

	verifier := signature.NewVerifier(cfg.PaddleWebhookSecret, signature.WithTolerance(cfg.WebhookTolerance))
	engine := fulfillment.NewEngine(verifier, repo, logger, engineOpts...)
	issuer := checkout.NewIssuer(repo, checkout.ProviderConfig{
		Environment: cfg.PaddleEnvironment,
		ClientToken: cfg.PaddleClientToken,
	})

	handlers := httphandler.NewHandlers(cfg, repo, engine, issuer, idemp)
	r := httphandler.SetupRouter(httphandler.RouterDeps{
		Handlers: handlers,
		Auth:     httphandler.NewAuthenticator(cfg.JWTSecret),
		Logger:   logger,
		Limiter:  rl,
		PerUser:  cfg.RateLimitPerUser,
		PerIP:    cfg.RateLimitPerIP,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WebhookTimeout+5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
