package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	rediscache "tokenduel/internal/cache/redis"
	"tokenduel/internal/config"
	cronrunner "tokenduel/internal/cron"
	"tokenduel/internal/db"
	"tokenduel/internal/escrow"
	"tokenduel/internal/handler"
	"tokenduel/internal/logger"
	"tokenduel/internal/notify"
	"tokenduel/internal/pair"
	"tokenduel/internal/prices"
	gormrepository "tokenduel/internal/repository/gorm"
	"tokenduel/internal/scheduler"
	"tokenduel/internal/twap"
)

func main() {
	cfgPath := os.Getenv("TD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TD_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var priceCache prices.Cache = prices.NewMemoryCache()
	if cfg.Redis.Enabled {
		rdb, err := rediscache.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("redis connect failed", zap.Error(err))
		}
		defer rdb.Close()
		priceCache = rediscache.NewPriceCache(rdb)
		logger.Info("redis price cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	sources, streamSource := buildSources(cfg.Prices.Sources, logger)
	if len(sources) == 0 {
		logger.Fatal("no price sources enabled")
	}

	aggregator := &prices.Aggregator{
		Repo:             store,
		Cache:            priceCache,
		Logger:           logger,
		Sources:          sources,
		CacheTTL:         cfg.Prices.CacheTTL,
		OutlierThreshold: cfg.Prices.OutlierThreshold,
		FetchTimeout:     cfg.Prices.FetchTimeout,
	}

	twapEngine := &twap.Engine{
		Repo:          store,
		WindowMinutes: cfg.TWAP.WindowMinutes,
	}

	selector := &pair.Selector{
		Repo:             store,
		Prices:           aggregator,
		Logger:           logger,
		MaxCapRatio:      cfg.Pair.MaxCapRatio,
		RepetitionWindow: cfg.Pair.RepetitionWindow,
		Blacklist:        cfg.Pair.Blacklist,
	}

	var settler escrow.Settler = &escrow.NoopSettler{}
	if cfg.Escrow.Enabled {
		settler = escrow.NewHTTPSettler(cfg.Escrow.BaseURL, cfg.Escrow.Timeout)
	}

	var notifier notify.Notifier
	if strings.TrimSpace(cfg.Notify.WebhookURL) != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}

	sched := scheduler.New(scheduler.Deps{
		Repo:     store,
		Prices:   aggregator,
		TWAP:     twapEngine,
		Pairs:    selector,
		Escrow:   settler,
		Notifier: notifier,
		Logger:   logger,
	}, cfg.Scheduler, cfg.Automation)
	defer sched.Shutdown()

	if streamSource != nil {
		go func() {
			if err := streamSource.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("binance stream stopped", zap.Error(err))
			}
		}()
	}

	// Rebuild the in-memory state machine from the database before the
	// HTTP surface or the cron loop can observe it.
	if err := sched.Recover(ctx); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	competitionHandler := &handler.CompetitionHandler{Repo: store, Scheduler: sched}
	competitionHandler.Register(engine)
	automationHandler := &handler.AutomationHandler{Scheduler: sched}
	automationHandler.Register(engine)
	priceHandler := &handler.PriceHandler{
		Repo:     store,
		Prices:   aggregator,
		TWAP:     twapEngine,
		Selector: selector,
	}
	priceHandler.Register(engine)

	cronRunner := cronrunner.New(logger, ctx)

	tickSpec := "@every " + cfg.Scheduler.Tick.String()
	if _, err := cronRunner.Add(tickSpec, sched.Tick); err != nil {
		logger.Fatal("cron register scheduler tick failed", zap.Error(err))
	}

	recordSpec := "@every " + cfg.Prices.RecordInterval.String()
	_, err = cronRunner.Add(recordSpec, func(ctx context.Context) {
		aggregator.RecordTrackedTokens(ctx)
	})
	if err != nil {
		logger.Warn("cron register price recorder failed", zap.Error(err))
	}

	if src := coingeckoSource(cfg.Prices.Sources, sources); src != nil {
		refresher := &prices.MarketDataRefresher{Repo: store, Source: src, Logger: logger}
		refreshSpec := "@every " + cfg.Scheduler.MarketDataRefresh.String()
		_, err = cronRunner.Add(refreshSpec, func(ctx context.Context) {
			if err := refresher.Refresh(ctx); err != nil {
				logger.Warn("market data refresh failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register market data refresh failed", zap.Error(err))
		}
	} else {
		logger.Warn("coingecko source disabled, market caps will go stale")
	}

	cronRunner.Start()
	defer cronRunner.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildSources assembles the enabled price source adapters. The stream
// source is returned separately because its Run loop is the caller's to
// start.
func buildSources(cfg config.PriceSourcesConfig, logger *zap.Logger) ([]prices.Source, *prices.BinanceStreamSource) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	var sources []prices.Source

	if cfg.Binance.Enabled {
		sources = append(sources, &prices.BinanceSource{
			HTTP:    httpClient,
			BaseURL: cfg.Binance.BaseURL,
			Conf:    cfg.Binance.Weight,
		})
	}
	if cfg.Coinbase.Enabled {
		sources = append(sources, &prices.CoinbaseSource{
			HTTP:    httpClient,
			BaseURL: cfg.Coinbase.BaseURL,
			Conf:    cfg.Coinbase.Weight,
		})
	}
	if cfg.Kraken.Enabled {
		sources = append(sources, &prices.KrakenSource{
			HTTP:    httpClient,
			BaseURL: cfg.Kraken.BaseURL,
			Conf:    cfg.Kraken.Weight,
		})
	}
	if cfg.Coingecko.Enabled {
		sources = append(sources, &prices.CoingeckoSource{
			HTTP:    httpClient,
			BaseURL: cfg.Coingecko.BaseURL,
			Conf:    cfg.Coingecko.Weight,
		})
	}

	var stream *prices.BinanceStreamSource
	if cfg.BinanceStream.Enabled {
		stream = &prices.BinanceStreamSource{
			URL:    cfg.BinanceStream.URL,
			Conf:   cfg.BinanceStream.Weight,
			MaxAge: cfg.BinanceStream.MaxAge,
			Logger: logger,
		}
		sources = append(sources, stream)
	}
	return sources, stream
}

func coingeckoSource(cfg config.PriceSourcesConfig, sources []prices.Source) *prices.CoingeckoSource {
	if !cfg.Coingecko.Enabled {
		return nil
	}
	for _, s := range sources {
		if cg, ok := s.(*prices.CoingeckoSource); ok {
			return cg
		}
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
