package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
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

	up := upstreams{
		Booking:      mustParseURL(config.String("BOOKING_URL", "http://booking-service:8083")),
		Catalog:      mustParseURL(config.String("CATALOG_URL", "http://catalog-service:8082")),
		Notification: mustParseURL(config.String("NOTIFICATION_URL", "http://notification-service:8085")),
	}
	var checks []runtime.ReadyCheck

	rateLimit := httpx.RateLimit{
		Limit:         mustInt("RATE_LIMIT_PER_MINUTE", 60),
		Window:        time.Minute,
		ForwardedHops: mustInt("TRUSTED_PROXY_HOPS", 0),
		FailOpen:      config.Bool("RATE_LIMIT_FAIL_OPEN", true),
	}
	rateLimitMW := httpx.NewRateLimiter(rateLimit).Middleware()
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		rateLimitMW = httpx.NewRedisRateLimiter(rdb, rateLimit, config.String("RATE_LIMIT_PREFIX", "studiobook:rl:gateway")).Middleware(logger)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("rate limiting enabled (redis)", "per_minute", rateLimit.Limit, "redis_addr", addr)
	} else {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", rateLimit.Limit)
	}

	verifier := &auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if url := config.String("JWKS_URL", ""); url != "" {
		verifier.JWKS = auth.NewJWKSClient(url, mustDuration("JWKS_CACHE_TTL", 10*time.Minute))
	}

	mux := runtime.NewBaseMux(checks...)
	registerRoutes(mux, up, defaultTransport())

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "Accept-Language", httpx.RequestIDHeader},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           mustDuration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(mustInt("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(mustDuration("REQUEST_TIMEOUT", 10*time.Second)),
		rateLimitMW,
		httpx.WithAuth(verifier, logger),
	)
	handler = otelhttp.NewHandler(handler, "gateway")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
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
