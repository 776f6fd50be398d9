package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/events"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/cache"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/cleanup"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/handlers"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/notifications"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/studiobook/services/notification-service/migrations"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.PoolConfig{ApplicationName: service, MaxConns: int32(maxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("DB_AUTO_MIGRATE", true) {
		applied, err := db.Migrate(ctx, pool, migrations.FS)
		if err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "files", applied)
		}
	}

	loc, err := time.LoadLocation(config.String("BUSINESS_TIMEZONE", "Europe/Berlin"))
	if err != nil {
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	var counts notifications.CountCache
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		defer func() { _ = rdb.Close() }()
		counts = cache.NewUnreadCache(rdb, mustDuration("UNREAD_CACHE_TTL", time.Minute))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	repo := storage.NewRepository(pool)
	svc := notifications.NewService(repo, counts, logger, notifications.Config{Location: loc})

	inboxRepo := inbox.NewRepository(pool)
	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers:      brokers,
		GroupID:      config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:        config.String("KAFKA_CONSUME_TOPIC", events.TypeNotificationRequested),
		RetryBackoff: mustDuration("KAFKA_RETRY_BACKOFF", time.Second),
	}, func(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) error {
		req, err := events.DecodeNotificationRequested(msg.Value)
		if err != nil {
			// Redelivery cannot fix a malformed payload.
			logger.Error("invalid notification payload", "event_id", meta.EventID, "err", err)
			return nil
		}
		created, err := svc.Deliver(ctx, meta.EventID, req)
		if errors.Is(err, notifications.ErrInvalid) {
			logger.Error("notification rejected", "event_id", meta.EventID, "err", err)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("notification delivered",
			"event_id", meta.EventID,
			"user_id", req.UserID,
			"type", req.Kind,
			"created", created,
		)
		return nil
	})
	go eventConsumer.Run(ctx)

	inboxRetention := mustDuration("INBOX_RETENTION", 30*24*time.Hour)
	go cleanup.NewWorker(logger, mustDuration("CLEANUP_INTERVAL", 24*time.Hour),
		cleanup.Task{Name: "expired_notifications", Purge: svc.PurgeExpired},
		cleanup.Task{Name: "inbox_events", Purge: func(ctx context.Context) (int64, error) {
			return inboxRepo.Prune(ctx, time.Now().Add(-inboxRetention))
		}},
	).Run(ctx)

	verifier := &auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if url := config.String("JWKS_URL", ""); url != "" {
		verifier.JWKS = auth.NewJWKSClient(url, mustDuration("JWKS_CACHE_TTL", 10*time.Minute))
	}

	mux := runtime.NewBaseMux(checks...)
	handlers.NewNotificationHandler(svc, logger, config.String("ADMIN_API_KEY_HASH", "")).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(mustDuration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
		httpx.WithAuth(verifier, logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func mustDuration(key string, fallback time.Duration) time.Duration {
	v, err := config.Duration(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
