package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"notify-gateway/internal/auth"
	"notify-gateway/internal/common/logging"
	"notify-gateway/internal/config"
	"notify-gateway/internal/gateway"
	"notify-gateway/internal/middleware"
	"notify-gateway/internal/proxy"
	"notify-gateway/internal/ratelimit"
	"notify-gateway/internal/redis"
	"notify-gateway/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewZapLogger(logging.ParseLevel(cfg.LogLevel), nil)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)
	defer logging.MustSync()

	// Shared store when Redis is configured, in-process fallback otherwise.
	var store ratelimit.Store
	var health gateway.HealthChecker
	if cfg.RedisAddress != "" {
		client, err := redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", err,
				logging.String("address", cfg.RedisAddress),
			)
			os.Exit(1)
		}
		defer client.Close()
		store = client
		health = client
		logger.Info("Using Redis rate-limit store",
			logging.String("address", cfg.RedisAddress),
		)
	} else {
		store = ratelimit.NewMemoryStore()
		logger.Info("Using in-process rate-limit store; counts are not shared across instances")
	}

	limiter := ratelimit.NewLimiter(store, &ratelimit.Config{
		DefaultLimit:  cfg.RateLimitDefault,
		DefaultWindow: cfg.RateLimitWindow,
		BlockDuration: cfg.RateLimitBlockDuration,
		Enabled:       cfg.RateLimitEnabled,
	})

	var burst *ratelimit.LocalLimiter
	if cfg.BurstLimitEnabled {
		burst = ratelimit.NewLocalLimiter(cfg.BurstLimitRPS, cfg.BurstLimitSize)
	}

	table, err := gateway.DefaultTable(cfg)
	if err != nil {
		logger.Error("Failed to compile route table", err)
		os.Exit(1)
	}

	forwarderCfg := proxy.DefaultConfig()
	forwarderCfg.Timeout = cfg.UpstreamTimeout

	gw := gateway.New(gateway.Options{
		Config:    cfg,
		Table:     table,
		Gate:      auth.NewGate(cfg.JWTSecret, logger),
		Limiter:   limiter,
		Burst:     burst,
		Forwarder: proxy.New(forwarderCfg, logger),
		Store:     health,
		Logger:    logger,
	})

	handler := middleware.Logging(logger)(gw.Router())

	srv := server.New(handler, cfg.Port, cfg.TLSCert, cfg.TLSKey)
	srv.Start()
	logger.Info("Gateway listening",
		logging.String("addr", srv.Addr()),
		logging.Bool("tls", cfg.TLSCert != ""),
		logging.Bool("rate_limit", cfg.RateLimitEnabled),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srv.Errors():
		logger.Error("Server failed", err)
		os.Exit(1)
	case sig := <-quit:
		logger.Info("Shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", err)
		os.Exit(1)
	}

	logger.Info("Gateway stopped")
}
