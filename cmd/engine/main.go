package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cryptoscope/config"
	"cryptoscope/internal/alert"
	"cryptoscope/internal/engine"
	"cryptoscope/internal/gateway"
	"cryptoscope/internal/logger"
	"cryptoscope/internal/metrics"
	"cryptoscope/internal/model"
	"cryptoscope/internal/notification"
	"cryptoscope/internal/refresh"
	redisstore "cryptoscope/internal/store/redis"
	sqlitestore "cryptoscope/internal/store/sqlite"
	"cryptoscope/pkg/binance"

	goredis "github.com/go-redis/redis/v8"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("engine", logger.ParseLevel("info")).Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.Init("engine", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "symbols", cfg.Symbols, "timeframes", cfg.Timeframes, "schedule", cfg.RefreshSchedule)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(3 * time.Minute)

	// ---- SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("sqlite directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath}, log)
	if err != nil {
		log.Error("sqlite init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	// ---- Redis (optional) ----
	var (
		publisher model.SnapshotPublisher
		rdb       *goredis.Client
	)
	if cfg.RedisAddr != "" {
		health.SetRedisEnabled(true)
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, log)
		if err != nil {
			log.Warn("redis unavailable, publishing disabled", "error", err)
		} else {
			defer pub.Close()
			rdb = pub.Client()
			health.SetRedisConnected(true)

			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			}
			buffered := redisstore.NewBufferedPublisher(ctx, pub, cb, 1000, log)
			buffered.OnBuffer = prom.RedisBufferedEvents.Inc
			buffered.OnFlush = func(n int) { log.Info("flushed buffered alert events", "count", n) }
			publisher = buffered
		}
	}

	// ---- Alert sinks ----
	sinks := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	// ---- Refresh service ----
	src := binance.New(binance.Config{
		BaseURL:        cfg.BinanceBaseURL,
		Timeout:        cfg.FetchTimeout,
		RequestsPerSec: cfg.BinanceRPS,
	}, log)

	svc, err := refresh.New(refresh.Config{
		Symbols:      cfg.Symbols,
		Timeframes:   cfg.Timeframes,
		CandleLimit:  cfg.CandleLimit,
		HTFInterval:  cfg.HTFInterval,
		Schedule:     cfg.RefreshSchedule,
		Workers:      cfg.Workers,
		FetchTimeout: cfg.FetchTimeout,
		RingCapacity: cfg.RingCapacity,
		Engine: engine.Options{
			Resolution:    cfg.ProfileResolution,
			HTFResolution: cfg.HTFResolution,
		},
		Thresholds: alert.DefaultThresholds,
	}, refresh.Deps{
		Source:    src,
		Store:     store,
		Publisher: publisher,
		Notifier:  sinks,
		Metrics:   prom,
		Health:    health,
		Log:       log,
	})
	if err != nil {
		log.Error("refresh init failed", "error", err)
		os.Exit(1)
	}

	// ---- Gateway ----
	hub := gateway.NewHub(svc, store, prom, log)
	svc.SetBroadcaster(hub)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("gateway listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server error", "error", err)
			cancel()
		}
	}()

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()
	health.StartLivenessChecker(ctx, rdb, store.DB(), 15*time.Second)

	// Keep alert history bounded.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.PruneEvents(ctx, 10000); err != nil {
					log.Warn("prune events failed", "error", err)
				}
			}
		}
	}()

	if err := svc.Run(ctx); err != nil {
		log.Error("refresh service failed", "error", err)
	}

	// ---- Graceful shutdown ----
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	hub.Close()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := metricsSrv.Stop(shutCtx); err != nil {
		log.Warn("metrics shutdown", "error", err)
	}
	log.Info("shutdown complete")
}
