package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scamshield/wa-gateway/internal/analysis"
	"github.com/scamshield/wa-gateway/internal/config"
	"github.com/scamshield/wa-gateway/internal/creds"
	"github.com/scamshield/wa-gateway/internal/dispatcher"
	httpserver "github.com/scamshield/wa-gateway/internal/http"
	"github.com/scamshield/wa-gateway/internal/http/handlers"
	"github.com/scamshield/wa-gateway/internal/orchestrator"
	"github.com/scamshield/wa-gateway/internal/quota"
	"github.com/scamshield/wa-gateway/internal/supervisor"
	"github.com/scamshield/wa-gateway/internal/transport"
)

func main() {
	logger := log.New(os.Stdout, "[wa-gateway] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quotaStore, quotaCloser := setupQuota(ctx, cfg, logger)
	defer quotaCloser()

	credsStore, credsCloser := setupCreds(ctx, cfg, logger)
	defer credsCloser()

	dialer, err := transport.NewWSDialer(transport.WSDialerConfig{
		URL:          cfg.TransportURL,
		Token:        cfg.TransportToken,
		MediaBaseURL: cfg.MediaBaseURL,
	})
	if err != nil {
		logger.Fatalf("transport configuration invalid: %v", err)
	}

	sessions := supervisor.New(supervisor.Dependencies{
		Dialer:         dialer,
		Creds:          credsStore,
		Logger:         logger,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	sessions.Start(ctx)

	backend := analysis.NewClient(analysis.ClientConfig{
		BaseURL:    cfg.BackendBaseURL,
		APIKey:     cfg.BackendAPIKey,
		Timeout:    cfg.BackendTimeout,
		MaxRetries: cfg.BackendMaxRetries,
	})
	resultCache := analysis.NewResultCache(analysis.CacheConfig{
		TTL:        cfg.ResultCacheTTL,
		MaxEntries: cfg.ResultCacheMaxEntries,
	})
	orch := orchestrator.New(orchestrator.Dependencies{
		Backend:          backend,
		Sender:           sessions,
		Cache:            resultCache,
		Logger:           logger,
		PollInterval:     cfg.PollInterval,
		PollMaxAttempts:  cfg.PollMaxAttempts,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
	})

	dispatch := dispatcher.New(dispatcher.Dependencies{
		Messages:      sessions.Messages(),
		Quota:         quotaStore,
		Transport:     sessions,
		Orchestrator:  orch,
		Logger:        logger,
		MinTextLength: cfg.MinAnalysisLength,
		QuotaFailOpen: cfg.QuotaFailOpen,
	})
	dispatchDone := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(dispatchDone)
	}()

	api := handlers.NewAPI(sessions, quotaStore)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.OperatorAuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("operator api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}
	stop()

	<-dispatchDone
	sessions.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupQuota(ctx context.Context, cfg config.Config, logger *log.Logger) (quota.Store, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using in-memory quota store")
		return quota.NewMemoryStore(cfg.QuotaDailyLimit, cfg.QuotaRetentionDays), func() {}
	}

	redisStore, err := quota.NewRedisStore(ctx, quota.RedisConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		DailyLimit:    cfg.QuotaDailyLimit,
		RetentionDays: cfg.QuotaRetentionDays,
	}, logger)
	if err != nil {
		logger.Printf("failed to initialize redis quota store, fallback to memory: %v", err)
		return quota.NewMemoryStore(cfg.QuotaDailyLimit, cfg.QuotaRetentionDays), func() {}
	}
	logger.Printf("redis quota store initialized")
	return redisStore, func() {
		_ = redisStore.Close()
	}
}

func setupCreds(ctx context.Context, cfg config.Config, logger *log.Logger) (creds.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using file credential store")
		return creds.NewFileStore(cfg.CredsFile), func() {}
	}

	pgStore, err := creds.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres credential store, fallback to file: %v", err)
		return creds.NewFileStore(cfg.CredsFile), func() {}
	}
	logger.Printf("postgres credential store initialized")
	return pgStore, func() {
		pgStore.Close()
	}
}
