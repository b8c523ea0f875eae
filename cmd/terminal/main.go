// Polymarket Terminal - geopolitical prediction markets next to the news.
// Serves the terminal's API: cached upstream feeds, market relevance, map
// regions, alerts and a live event stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/aggregator"
	"github.com/scott-c-hughes/polymarket-terminal/internal/alerts"
	"github.com/scott-c-hughes/polymarket-terminal/internal/api"
	"github.com/scott-c-hughes/polymarket-terminal/internal/cache"
	"github.com/scott-c-hughes/polymarket-terminal/internal/config"
	"github.com/scott-c-hughes/polymarket-terminal/internal/gazetteer"
	"github.com/scott-c-hughes/polymarket-terminal/internal/llm"
	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/news"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/prices"
	"github.com/scott-c-hughes/polymarket-terminal/internal/regions"
	"github.com/scott-c-hughes/polymarket-terminal/internal/relevance"
	"github.com/scott-c-hughes/polymarket-terminal/internal/scheduler"
	"github.com/scott-c-hughes/polymarket-terminal/internal/storage"
	"github.com/scott-c-hughes/polymarket-terminal/internal/stream"
	syncer "github.com/scott-c-hughes/polymarket-terminal/internal/sync"
	"github.com/scott-c-hughes/polymarket-terminal/internal/telegram"
	"github.com/scott-c-hughes/polymarket-terminal/internal/topics"
	"github.com/scott-c-hughes/polymarket-terminal/internal/xfeed"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("Polymarket Terminal - Starting backend")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	// Static tables
	gaz := gazetteer.MustLoad()
	classifier := topics.MustLoad()
	log.Info().Int("locations", gaz.Len()).Int("topics", len(classifier.Topics())).Msg("Tables loaded")

	normalizer := markets.NewNormalizer()
	normalizer.DateSeriesRatio = cfg.DateSeriesRatio

	regionMatcher := regions.NewMatcher(gaz, regions.Config{
		ShortKeywordLen: cfg.ShortKeywordLen,
		MediumVolume:    cfg.ActivityMedium,
		HighVolume:      cfg.ActivityHigh,
	})

	// Cache backend
	var cacheStore cache.Store = cache.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		cacheStore = cache.NewRedisStore(rdb, cache.DefaultPrefix, cache.DefaultRetention)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	} else {
		log.Info().Msg("Using in-process cache")
	}

	// Alert store
	var alertStore alerts.Store = alerts.NewMemoryStore()
	if cfg.MongoURI != "" {
		store, err := storage.NewStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer store.Close(ctx)
		alertStore = store
	} else {
		log.Info().Msg("Alerts kept in memory (no MONGO_URI)")
	}

	// Upstream clients
	pmClient := polymarket.NewClient(polymarket.WithTimeout(cfg.UpstreamTimeout))
	sources := aggregator.Sources{
		Markets: pmClient,
		Charts:  pmClient,
		News:    news.NewFetcher(),
		Prices:  prices.NewClient(prices.WithTimeout(cfg.UpstreamTimeout)),
	}

	if cfg.TelegramBotToken != "" {
		reader, err := telegram.NewReader(cfg.TelegramBotToken, cfg.TelegramChannels)
		if err != nil {
			log.Error().Err(err).Msg("Telegram reader not initialized")
		} else {
			sources.Telegram = reader
		}
	}

	if cfg.XBearerToken != "" {
		sources.X = xfeed.NewClient(cfg.XBearerToken, cfg.XAccounts, xfeed.WithTimeout(cfg.UpstreamTimeout))
		log.Info().Msg("X client initialized")
	}

	var matcher relevance.Matcher
	if client := llm.NewClient(llm.Config{
		APIKey:   cfg.LLMAPIKey,
		Endpoint: cfg.LLMEndpoint,
		Model:    cfg.LLMModel,
	}); client != nil {
		matcher = client
		log.Info().Str("model", cfg.LLMModel).Msg("LLM client initialized")
	}

	// Aggregator
	agg := aggregator.New(sources, cacheStore, markets.NewFilter(), aggregator.Config{
		TTLs: aggregator.TTLs{
			Markets:  cfg.MarketsTTL,
			News:     cfg.NewsTTL,
			Telegram: cfg.TelegramTTL,
			X:        cfg.XTTL,
			Prices:   cfg.PricesTTL,
		},
		Coalesce:         cfg.CacheCoalesce,
		Timeout:          cfg.UpstreamTimeout,
		TelegramChannels: cfg.TelegramChannels,
		XAccounts:        cfg.XAccounts,
	})

	relCfg := relevance.DefaultConfig()
	relCfg.ShortTagLen = cfg.ShortTagLen
	engine := relevance.NewEngine(classifier, normalizer, matcher, relCfg)

	// Alerts
	alertService := alerts.NewService(alertStore, gaz)
	checker := alerts.NewChecker(regionMatcher, normalizer)

	// Refresh loop
	syncConfig := syncer.DefaultSyncerConfig()
	syncConfig.SyncInterval = cfg.SyncInterval

	marketSyncer := syncer.NewSyncer(agg, regionMatcher, normalizer, syncConfig)
	marketSyncer.SetAlerts(alertService, checker)
	log.Info().Msg("Market syncer initialized")

	// Live stream
	hub := stream.NewHub()
	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	events := marketSyncer.Subscribe()
	go func() {
		hub.Run(hubCtx, events)
		close(hubDone)
	}()

	// Cache warming
	sched := scheduler.NewScheduler(scheduler.DefaultTick)
	sched.RegisterWarmJobs(agg, agg.TTLs())
	log.Info().Msg("Scheduler initialized")

	apiServer := api.NewServer(api.Deps{
		Aggregator: agg,
		Normalizer: normalizer,
		Relevance:  engine,
		Classifier: classifier,
		Regions:    regionMatcher,
		Alerts:     alertService,
		Matcher:    matcher,
		Syncer:     marketSyncer,
		Scheduler:  sched,
		Hub:        hub,
	}, cfg.HTTPAddr)

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start all services
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	marketSyncer.Start()
	sched.Start()

	log.Info().
		Str("api", cfg.HTTPAddr).
		Bool("llm", matcher != nil).
		Bool("telegram", sources.Telegram != nil).
		Bool("x", sources.X != nil).
		Msg("Polymarket Terminal running")

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	sched.Stop()
	marketSyncer.Stop()
	stopHub()
	<-hubDone

	log.Info().Msg("Polymarket Terminal stopped")
}
