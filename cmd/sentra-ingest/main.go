package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"sentra/internal/alert"
	"sentra/internal/anomaly"
	"sentra/internal/api"
	"sentra/internal/config"
	"sentra/internal/event"
	"sentra/internal/pipeline"
	"sentra/internal/scoring"
	"sentra/internal/tenant"
	"sentra/migrations"
	"sentra/pkg/database"
	otelobs "sentra/pkg/observability/otel"
	"sentra/pkg/ratelimit"
	"sentra/pkg/structlog"
)

func main() {
	cfg := config.Load()
	logger := structlog.New("sentra-ingest", structlog.ParseLevel(cfg.LogLevel), nil)

	shutdownTracer := otelobs.InitTracer("sentra-ingest")
	defer shutdownTracer(context.Background())

	db, err := database.New(database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("failed to connect to database", structlog.Fields{"error": err.Error()})
	}
	defer db.Close()

	if err := db.Migrate(migrations.FS, "."); err != nil {
		logger.Fatal("migration failed", structlog.Fields{"error": err.Error()})
	}

	// Redis is optional: without it, alert publishing is skipped and rate
	// limiting is disabled, but ingestion keeps working.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, alerts and rate limiting degraded", structlog.Fields{
				"addr": cfg.RedisAddr, "error": err.Error(),
			})
		}
		cancel()
	}

	resolver := tenant.NewResolver(db)
	events := event.NewStore(db)
	anomalies := anomaly.NewStore(db)
	scorer := scoring.NewClient(cfg.ScorerURL, cfg.ScorerTimeout)
	publisher := alert.NewPublisher(rdb, cfg.AlertStream)

	var limiter pipeline.RateLimiter
	if rdb != nil && cfg.RateLimitCapacity > 0 {
		limiter = ratelimit.NewTenantLimiter(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitInterval)
	}

	orchestrator := pipeline.New(resolver, events, scorer, anomalies, publisher, limiter, cfg.AnomalyThreshold, logger)
	server := api.NewServer(orchestrator, resolver, events, anomalies, logger)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("sentra-ingest listening", structlog.Fields{
			"port": cfg.Port, "threshold": cfg.AnomalyThreshold, "alerts_enabled": publisher.Enabled(),
		})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", structlog.Fields{"error": err.Error()})
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", structlog.Fields{"error": err.Error()})
	}
	logger.Info("sentra-ingest stopped", nil)
}
