package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"vpa-trading-engine/config"
	"vpa-trading-engine/internal/api"
	"vpa-trading-engine/internal/cache"
	"vpa-trading-engine/internal/confluence"
	"vpa-trading-engine/internal/database"
	"vpa-trading-engine/internal/engine"
	"vpa-trading-engine/internal/events"
	"vpa-trading-engine/internal/exchange"
	"vpa-trading-engine/internal/logging"
	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/metrics"
	"vpa-trading-engine/internal/orders"
	"vpa-trading-engine/internal/risk"
	"vpa-trading-engine/internal/signal"
	"vpa-trading-engine/internal/vpa"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig.Level, cfg.LoggingConfig.Pretty)
	logger.Info().Msg("Starting VPA trading engine")

	metrics.Register()

	eventBus := events.NewEventBus()

	timeframes := make([]market.Timeframe, 0, len(cfg.FeedConfig.Timeframes))
	for _, tf := range cfg.FeedConfig.Timeframes {
		timeframes = append(timeframes, market.Timeframe(tf))
	}

	history := market.NewHistory(cfg.FeedConfig.RollingWindow)

	detector := vpa.NewDetector(cfg.DetectorConfig.Lookback, vpa.Thresholds{
		UltraHighVolume: cfg.DetectorConfig.UltraHighVolume,
		HighVolume:      cfg.DetectorConfig.HighVolume,
		LowVolume:       cfg.DetectorConfig.LowVolume,
		UltraLowVolume:  cfg.DetectorConfig.UltraLowVolume,
		WideSpread:      cfg.DetectorConfig.WideSpread,
		NarrowSpread:    cfg.DetectorConfig.NarrowSpread,
		UpperThird:      cfg.DetectorConfig.UpperThird,
		LowerThird:      cfg.DetectorConfig.LowerThird,
	})

	relational := confluence.NewRelationalScorer(
		history, cfg.FeedConfig.ReferencePairs, timeframes[0],
		cfg.ConfluenceConfig.RelationalWindow, logger,
	)
	calendar := confluence.NewCalendar(
		time.Duration(cfg.ConfluenceConfig.PreEventMinutes)*time.Minute,
		time.Duration(cfg.ConfluenceConfig.PostEventMinutes)*time.Minute,
	)
	technical := confluence.NewTechnicalScorer(
		history, timeframes,
		cfg.ConfluenceConfig.EMAPeriod, cfg.ConfluenceConfig.EMADeviation,
	)

	signalEngine := signal.NewEngine(
		cfg.SignalConfig.StrengthFloor,
		cfg.SignalConfig.EMADeviationMin,
		cfg.SignalConfig.RequireMacro,
		logger,
	)

	ledger := risk.NewLedger(cfg.RiskConfig.Equity, cfg.RiskConfig.DrawdownLimit)
	ledger.OnTrip(func(reason string) {
		eventBus.PublishCircuitBreaker(true, reason)
	})

	riskManager := risk.NewManager(ledger, risk.ManagerConfig{
		RiskPerTrade:    cfg.RiskConfig.RiskPerTrade,
		MaxSlippage:     cfg.RiskConfig.MaxSlippage,
		MinQuantity:     cfg.RiskConfig.MinQuantity,
		RewardRatio:     cfg.RiskConfig.RewardRatio,
		ATRMultiplier:   cfg.RiskConfig.ATRMultiplier,
		FallbackStopPct: cfg.RiskConfig.FallbackStopPct,
	}, logger)

	trailing := risk.NewTrailingStops(risk.TrailingConfig{
		TriggerPct: cfg.RiskConfig.TrailingTrigger,
		OffsetPct:  cfg.RiskConfig.TrailingOffset,
	}, logger)

	// Paper trading keeps everything in-process; a live gateway would take
	// its place here.
	gateway := exchange.NewMockGateway()
	gateway.AutoFill = cfg.FeedConfig.PaperTrading

	tracker := orders.NewTracker(
		cfg.FeedConfig.Symbols, gateway, ledger, trailing, eventBus,
		orders.MachineConfig{
			SubmitTimeout: cfg.OrdersConfig.SubmitTimeout,
			CancelRetries: cfg.OrdersConfig.CancelRetries,
		},
		logger,
	)

	// Optional persistence
	var recorder *database.Recorder
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig.URL, logger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		migrationCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(migrationCtx); err != nil {
			cancel()
			log.Fatalf("Failed to run migrations: %v", err)
		}
		cancel()

		recorder = database.NewRecorder(database.NewRepository(db), logger)
	}

	// Optional hot caches
	var posCache *cache.PositionCache
	var hotState *cache.HotState
	if cfg.RedisConfig.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		posCache = cache.NewPositionCache(redisClient, logger)
		hotState = cache.NewHotState(redisClient, logger)
	}

	eng := engine.New(engine.Config{
		Symbols:        cfg.FeedConfig.Symbols,
		ReferencePairs: cfg.FeedConfig.ReferencePairs,
		Timeframes:     timeframes,
		RollingWindow:  cfg.FeedConfig.RollingWindow,
		AlignThreshold: cfg.ConfluenceConfig.AlignThreshold,
	}, engine.Deps{
		Bus:        eventBus,
		History:    history,
		Detector:   detector,
		Relational: relational,
		Calendar:   calendar,
		Technical:  technical,
		Signals:    signalEngine,
		RiskMgr:    riskManager,
		Ledger:     ledger,
		Tracker:    tracker,
		Recorder:   recorder,
		PosCache:   posCache,
		HotState:   hotState,
	}, logger)

	feedSymbols := unionSymbols(cfg.FeedConfig.Symbols, cfg.FeedConfig.ReferencePairs)
	feed := exchange.NewFeed(cfg.FeedConfig.BaseURL, feedSymbols, timeframes, eng, logger)
	eng.SetFeed(feed)

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: []string{cfg.ServerConfig.AllowedOrigins},
		ProductionMode: !cfg.LoggingConfig.Pretty,
	}, eventBus, eng, logger)

	runCtx, stopEngine := context.WithCancel(context.Background())

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
			stopEngine()
		}
	}()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(runCtx)
	}()

	logger.Info().
		Str("host", cfg.ServerConfig.Host).
		Int("port", cfg.ServerConfig.Port).
		Msg("Dashboard available")

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")

	stopEngine()
	<-engineDone

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second,
	)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down web server")
	}

	logger.Info().Msg("Shutdown complete")
}

func unionSymbols(traded, refs []string) []string {
	seen := make(map[string]bool, len(traded)+len(refs))
	out := make([]string, 0, len(traded)+len(refs))
	for _, s := range append(append([]string{}, traded...), refs...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
