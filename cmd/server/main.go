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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/api"
	"github.com/mariomelembe98/necrologia-tempo/internal/circuitbreaker"
	"github.com/mariomelembe98/necrologia-tempo/internal/config"
	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/lifecycle"
	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
	"github.com/mariomelembe98/necrologia-tempo/internal/mpesa"
	"github.com/mariomelembe98/necrologia-tempo/internal/notify"
	"github.com/mariomelembe98/necrologia-tempo/internal/observ"
	"github.com/mariomelembe98/necrologia-tempo/internal/redis"
	"github.com/mariomelembe98/necrologia-tempo/internal/sqs"
	"github.com/mariomelembe98/necrologia-tempo/internal/worker"
)

const serviceName = "necrologia-tempo"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, zap.String("service", serviceName))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	promotionEnd, err := cfg.PromotionEnd()
	if err != nil {
		return err
	}

	logger.Info("starting necrologia server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Time("promotion_end", promotionEnd),
		zap.Bool("strict_transitions", cfg.StrictTransitions),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observ.SetupTracing(ctx, serviceName, cfg.OTelEndpoint, logger)
	if err != nil {
		logger.Warn("tracing unavailable", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		AppName:  serviceName,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	go reportPoolStats(ctx, database)

	repo := db.NewRepository(database, logger)

	// Redis backs idempotency, rate limiting and checkout locks. Without it
	// the service runs with all three disabled.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:       cfg.RedisHost,
		Port:       cfg.RedisPort,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		ClientName: serviceName,
		KeyPrefix:  cfg.RedisPrefix,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency, rate limiting and checkout locks disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var (
		idempotency *redis.IdempotencyService
		rateLimiter *redis.RateLimiter
		locker      lifecycle.Locker
	)
	if redisClient != nil {
		defer redisClient.Close()
		idempotency = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		locker = redis.NewLocker(redisClient, logger)
	}

	gateway := mpesa.NewClient(mpesa.Config{
		Host:                cfg.MpesaHost,
		Origin:              cfg.MpesaOrigin,
		APIKey:              cfg.MpesaAPIKey,
		ServiceProviderCode: cfg.MpesaServiceProviderCode,
		Env:                 cfg.MpesaEnv,
		Timeout:             cfg.MpesaTimeout(),
		CountryCode:         cfg.MpesaCountryCode,
	}, newBreaker("mpesa", logger), logger)
	if !gateway.Configured() {
		logger.Warn("mpesa gateway not configured, checkout will report failure")
	}

	dispatcher, consumerWorker := setupNotifications(ctx, cfg, logger)
	if consumerWorker != nil {
		go consumerWorker.Start(ctx)
		logger.Info("notification worker started")
	}

	notifier := notify.NewNotifier(notify.Config{
		AppName:         cfg.AppName,
		PublicBaseURL:   cfg.PublicBaseURL,
		PublicPath:      cfg.PublicAnnouncementPath,
		AdminPath:       cfg.AdminAnnouncementPath,
		OperatorEmail:   cfg.OperatorEmail,
		ModerationEmail: cfg.ModerationEmail,
		CountryCode:     cfg.MpesaCountryCode,
	}, dispatcher, logger)

	manager := lifecycle.New(repo, gateway, notifier, locker, lifecycle.Options{
		Policy:       lifecycle.PolicyFor(cfg.StrictTransitions),
		PromotionEnd: promotionEnd,
	}, logger)

	handler := api.NewHandler(logger, manager, idempotency)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimiter:    rateLimiter,
		AdminToken:     cfg.AdminToken,
		Health:         func(r *http.Request) error { return database.Health(r.Context()) },
		RequestTimeout: gateway.Timeout() + 30*time.Second,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: gateway.Timeout() + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	// Let in-flight notifications finish before the pools close.
	manager.Wait()
	logger.Info("server stopped gracefully")
	return nil
}

// setupNotifications builds the dispatcher used by the notifier. With
// SQS_QUEUE_URL set, messages are queued and a worker delivers them;
// otherwise they are sent inline. Without AWS credentials the senders fail
// and the failures are logged.
func setupNotifications(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Dispatcher, *worker.Worker) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Warn("aws config unavailable, notifications are logged only", zap.Error(err))
		return notify.Direct{Sender: notify.NewLogSender(logger)}, nil
	}

	snsCfg := awsCfg.Copy()
	snsCfg.Region = cfg.SNSRegion

	sender := notify.NewMultiSender(logger,
		notify.NewProtectedSender(notify.NewSESSenderFromConfig(awsCfg, cfg.SESFromEmail, logger), newBreaker("ses", logger)),
		notify.NewProtectedSender(notify.NewSNSSenderFromConfig(snsCfg, logger), newBreaker("sns", logger)),
	)

	if cfg.SQSQueueURL == "" {
		logger.Info("notifications sent inline")
		return notify.Direct{Sender: sender}, nil
	}

	sqsCfg := awsCfg.Copy()
	sqsCfg.Region = cfg.SQSRegion
	client := sqs.NewAPI(sqsCfg)

	producer := sqs.NewProducer(client, cfg.SQSQueueURL, logger)
	consumer := sqs.NewConsumer(client, sqs.Config{QueueURL: cfg.SQSQueueURL, DLQURL: cfg.SQSDLQURL}, logger)
	w := worker.New(consumer, sender, worker.Config{
		PollInterval: 5 * time.Second,
		BatchSize:    10,
		MaxRetries:   3,
	}, logger)

	logger.Info("notifications queued on sqs", zap.String("queue_url", cfg.SQSQueueURL))
	return producer, w
}

func newBreaker(name string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	bcfg := circuitbreaker.DefaultConfig(name)
	bcfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		metrics.SetBreakerState(name, int(to))
	}
	return circuitbreaker.New(bcfg, logger)
}

func reportPoolStats(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(int(database.AcquiredConns()))
		}
	}
}
