package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logger"
	"qrattend/internal/metrics"
	"qrattend/internal/qrtoken"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/telemetry"
)

func main() {
	log, err := logger.Init(logger.ConfigFromEnv())
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "qrattend-api", cfg.OTELEndpoint)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	keys, err := qrtoken.NewKeyring(cfg.RootSecret())
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	repo := attendance.NewRepository(db.Client)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		q = mem
		// no separate worker can read an in-process queue
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		go attendance.ConsumeDecisions(ctx, msgs, repo, auditHandled(log, collector))
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	svc := attendance.NewService(repo, repo, attendance.Options{
		Keyring:            keys,
		Location:           loc,
		Logger:             log.Named("attendance"),
		Metrics:            collector,
		Publisher:          attendance.NewQueuePublisher(q),
		AcceptStoredTokens: cfg.AcceptStored,
	})

	h := handler.New(svc, repo, handler.AuthConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		EnrollKey:  cfg.DeviceEnrollKey,
	}, log.Named("http"))
	h.AddHealthCheck("db", db.Healthy)
	if cfg.QueueBackend != "memory" {
		h.AddHealthCheck("redis", redisClient.Healthy)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, log.Named("ratelimit"))
	defer limiter.Stop()

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.Router(handler.RouterOptions{
			Limiter:      limiter,
			Metrics:      metrics.Handler(prometheus.DefaultGatherer),
			AllowOrigins: cfg.AllowOrigins,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func auditHandled(log *zap.Logger, rec metrics.Recorder) func(attendance.Decision, error) {
	return func(d attendance.Decision, err error) {
		rec.RecordAuditPersisted(err == nil)
		if err != nil {
			log.Warn("audit persist failed", zap.String("decision_id", d.ID), zap.Error(err))
		}
	}
}
