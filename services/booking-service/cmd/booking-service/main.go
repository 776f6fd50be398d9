package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/catalog"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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
	calendar, err := availability.ParseCalendar(config.String("BUSINESS_HOURS", availability.DefaultCalendarSpec))
	if err != nil {
		panic(err)
	}
	step := mustInt("SLOT_STEP_MINUTES", availability.DefaultStepMinutes)
	buffer := mustInt("BOOKING_BUFFER_MINUTES", 0)
	horizon := mustInt("BOOKING_HORIZON_DAYS", 90)
	txTimeout := mustDuration("BOOKING_TX_TIMEOUT", storage.DefaultTxTimeout)

	var cat catalog.Store = catalog.NewPostgresStore(pool)
	if addr := config.String("CATALOG_GRPC_ADDR", ""); addr != "" {
		client, err := catalog.NewGRPCClient(addr, mustDuration("CATALOG_CALL_TIMEOUT", 2*time.Second))
		if err != nil {
			logger.Error("catalog grpc client failed", "addr", addr, "err", err)
			panic(err)
		}
		defer func() { _ = client.Close() }()
		cat = client
		logger.Info("catalog served over grpc", "addr", addr)
	}

	now := func() time.Time { return time.Now().In(loc) }
	outboxRepo := outbox.NewRepository()
	repo := storage.NewAppointmentRepository(pool, outboxRepo, loc, txTimeout)
	reconciler := &availability.Reconciler{
		Generator:     &availability.Generator{Calendar: calendar, Step: step, Providers: cat},
		BufferMinutes: buffer,
		Now:           now,
	}
	manager := booking.NewManager(repo, cat, reconciler, booking.Config{HorizonDays: horizon, Location: loc, Now: now}, logger)
	lifecycle := booking.NewLifecycle(repo, cat, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:       brokers,
		PollEvery:     mustDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize:     mustInt("OUTBOX_BATCH_SIZE", 50),
		MaxAttempts:   mustInt("OUTBOX_MAX_ATTEMPTS", 5),
		RetentionDays: mustInt("OUTBOX_RETENTION_DAYS", 7),
	})
	go publisher.Run(ctx)

	reminderWorker := reminders.NewWorker(repo, lifecycle, logger, reminders.WorkerConfig{
		Interval: mustDuration("REMINDER_INTERVAL", 30*time.Minute),
		LeadMin:  mustDuration("REMINDER_LEAD_MIN", 2*time.Hour),
		LeadMax:  mustDuration("REMINDER_LEAD_MAX", 3*time.Hour),
	})
	go reminderWorker.Run(ctx)

	verifier := &auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if url := config.String("JWKS_URL", ""); url != "" {
		verifier.JWKS = auth.NewJWKSClient(url, mustDuration("JWKS_CACHE_TTL", 10*time.Minute))
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	rateLimit := httpx.RateLimit{
		Limit:         mustInt("RATE_LIMIT_PER_MINUTE", 120),
		Window:        time.Minute,
		ForwardedHops: mustInt("TRUSTED_PROXY_HOPS", 1),
		FailOpen:      true,
	}
	limiter := httpx.NewRateLimiter(rateLimit).Middleware()
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, rateLimit, "studiobook:rl:booking").Middleware(logger)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := runtime.NewBaseMux(checks...)
	handlers.NewBookingHandler(manager, lifecycle, loc, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "Accept-Language"},
			MaxAge:         10 * time.Minute,
		}),
		limiter,
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(mustDuration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
		httpx.WithAuth(verifier, logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", loc.String())
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

func mustInt(key string, fallback int) int {
	v, err := config.Int(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

func mustDuration(key string, fallback time.Duration) time.Duration {
	v, err := config.Duration(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

