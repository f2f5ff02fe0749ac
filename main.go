package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/config"
	"portfolio-tracker/database"
	"portfolio-tracker/handlers"
	"portfolio-tracker/ledger"
	"portfolio-tracker/market"
	"portfolio-tracker/middleware"
	"portfolio-tracker/valuation"
)

func main() {
	path := os.Getenv("PORTFOLIO_CONFIG")
	if path == "" {
		path = "portfolio.toml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		config.NewLogger("info", "json").Fatal().Err(err).Msg("failed to load config")
	}
	logger := config.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   ledger.Store
		history market.HistoryStore
	)
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		store = ledger.NewMemoryStore()
		history = market.NewMemoryHistory()
	default:
		db, err := config.OpenDB(cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database unavailable")
		}
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get database instance")
		}
		defer sqlDB.Close()

		if err := database.AutoMigrate(db); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		store = database.NewStore(db)
		history = database.NewPriceStore(db)
	}

	marketOpts := []market.ServiceOption{market.WithHistoryTTL(cfg.Market.GetHistoryTTL())}
	if cfg.Redis.Addr != "" {
		rdb, err := config.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("running without quote cache")
		} else {
			defer rdb.Close()
			marketOpts = append(marketOpts, market.WithCache(
				market.NewCache(rdb, cfg.Market.GetQuoteTTL(), cfg.Market.GetHistoryTTL())))
		}
	}
	if cfg.Market.APIKey == "" {
		logger.Warn().Msg("ALPHA_VANTAGE_API_KEY is not set; price lookups will fail")
	}
	prices := market.NewService(market.NewClientFromConfig(cfg.Market, logger), history, logger, marketOpts...)

	book := ledger.NewService(store, logger,
		ledger.WithPriceSource(prices),
		ledger.WithInvalidator(prices))
	vals := valuation.NewService(book,
		valuation.NewAggregator(prices, valuation.WithReference(cfg.Valuation.Reference)),
		cfg.Benchmarks, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	handlers.New(book, vals, prices, logger).Register(router, middleware.JWTAuth(cfg.Auth.JWTSecret))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Driver).Msg("portfolio tracker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
}
