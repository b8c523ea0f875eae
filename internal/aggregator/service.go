// Package aggregator is the caching proxy in front of every upstream. Each
// source has one process-wide cache slot with its own TTL, and a failing
// source only ever empties its own result.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/cache"
	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/telegram"
	"github.com/scott-c-hughes/polymarket-terminal/internal/xfeed"
)

// Source keys, also used as cache keys and metric labels.
const (
	SourceMarkets  = "markets"
	SourceNews     = "news"
	SourceTelegram = "telegram"
	SourceX        = "x"
	SourcePrices   = "prices"
)

// DefaultMarketLimit is how many events are requested per refresh.
const DefaultMarketLimit = 500

// MarketSource lists open events.
type MarketSource interface {
	GetOpenEventsByVolume(ctx context.Context, limit int) ([]polymarket.Event, error)
}

// ChartSource serves per-token price history and order books.
type ChartSource interface {
	GetPriceHistory(ctx context.Context, tokenID, interval string) ([]models.PricePoint, error)
	GetOrderBook(ctx context.Context, tokenID string) (*models.OrderBook, error)
}

// NewsSource fetches the merged headline list.
type NewsSource interface {
	Fetch(ctx context.Context) ([]models.NewsItem, error)
}

// PriceSource fetches the cross-asset ticker.
type PriceSource interface {
	Fetch(ctx context.Context) (*models.Prices, error)
}

// SocialSource fetches a Telegram or X feed.
type SocialSource interface {
	Feed(ctx context.Context) (models.SocialFeed, error)
}

// Sources are the upstreams. Telegram and X are nil when not configured.
type Sources struct {
	Markets  MarketSource
	Charts   ChartSource
	News     NewsSource
	Prices   PriceSource
	Telegram SocialSource
	X        SocialSource
}

// TTLs are the per-source freshness windows.
type TTLs struct {
	Markets  time.Duration
	News     time.Duration
	Telegram time.Duration
	X        time.Duration
	Prices   time.Duration
}

// DefaultTTLs returns 30s for markets, news and Telegram, 60s for X and
// prices.
func DefaultTTLs() TTLs {
	return TTLs{
		Markets:  30 * time.Second,
		News:     30 * time.Second,
		Telegram: 30 * time.Second,
		X:        60 * time.Second,
		Prices:   60 * time.Second,
	}
}

// Config configures the service.
type Config struct {
	TTLs        TTLs
	Coalesce    bool
	MarketLimit int
	// Upper bound on every upstream call.
	Timeout time.Duration

	TelegramChannels []string
	XAccounts        []string
}

// Service serves every source through its cache slot.
type Service struct {
	cfg    Config
	src    Sources
	filter *markets.Filter

	markets  *cache.Slot[[]polymarket.Event]
	news     *cache.Slot[[]models.NewsItem]
	prices   *cache.Slot[models.Prices]
	telegram *cache.Slot[models.SocialFeed]
	x        *cache.Slot[models.SocialFeed]
}

// New creates the service. Zero TTLs fall back to the defaults.
func New(src Sources, store cache.Store, filter *markets.Filter, cfg Config, opts ...cache.Option) *Service {
	def := DefaultTTLs()
	if cfg.TTLs.Markets <= 0 {
		cfg.TTLs.Markets = def.Markets
	}
	if cfg.TTLs.News <= 0 {
		cfg.TTLs.News = def.News
	}
	if cfg.TTLs.Telegram <= 0 {
		cfg.TTLs.Telegram = def.Telegram
	}
	if cfg.TTLs.X <= 0 {
		cfg.TTLs.X = def.X
	}
	if cfg.TTLs.Prices <= 0 {
		cfg.TTLs.Prices = def.Prices
	}
	if cfg.MarketLimit <= 0 {
		cfg.MarketLimit = DefaultMarketLimit
	}
	if filter == nil {
		filter = markets.NewFilter()
	}
	if len(cfg.TelegramChannels) == 0 {
		cfg.TelegramChannels = telegram.DefaultChannels
	}
	if len(cfg.XAccounts) == 0 {
		cfg.XAccounts = xfeed.DefaultAccounts
	}

	opts = append([]cache.Option{cache.WithCoalesce(cfg.Coalesce), cache.WithFetchTimeout(cfg.Timeout)}, opts...)

	s := &Service{cfg: cfg, src: src, filter: filter}
	s.markets = cache.NewSlot(SourceMarkets, cfg.TTLs.Markets, store, s.fetchMarkets, opts...)
	s.news = cache.NewSlot(SourceNews, cfg.TTLs.News, store, s.fetchNews, opts...)
	s.prices = cache.NewSlot(SourcePrices, cfg.TTLs.Prices, store, s.fetchPrices, opts...)
	s.telegram = cache.NewSlot(SourceTelegram, cfg.TTLs.Telegram, store, s.fetchTelegram, opts...)
	s.x = cache.NewSlot(SourceX, cfg.TTLs.X, store, s.fetchX, opts...)
	return s
}

// ====== Fetchers ======

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *Service) fetchMarkets(ctx context.Context) ([]polymarket.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	events, err := s.src.Markets.GetOpenEventsByVolume(ctx, s.cfg.MarketLimit)
	if err != nil {
		return nil, err
	}

	filtered := s.filter.Apply(events)
	log.Debug().
		Int("fetched", len(events)).
		Int("kept", len(filtered)).
		Msg("Filtered markets")
	return filtered, nil
}

func (s *Service) fetchNews(ctx context.Context) ([]models.NewsItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.src.News.Fetch(ctx)
}

func (s *Service) fetchPrices(ctx context.Context) (models.Prices, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.src.Prices.Fetch(ctx)
	if err != nil {
		return models.Prices{}, err
	}
	return *p, nil
}

func (s *Service) fetchTelegram(ctx context.Context) (models.SocialFeed, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.src.Telegram.Feed(ctx)
}

func (s *Service) fetchX(ctx context.Context) (models.SocialFeed, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.src.X.Feed(ctx)
}

// ====== Cached reads ======

// Markets returns the filtered, annotated events, highest volume first. It
// fails only when the upstream fails and nothing is cached.
func (s *Service) Markets(ctx context.Context) ([]polymarket.Event, error) {
	events, err := s.markets.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Markets unavailable")
		return nil, err
	}
	if events == nil {
		events = []polymarket.Event{}
	}
	return events, nil
}

// News returns the merged headlines; empty when the feeds are unavailable.
func (s *Service) News(ctx context.Context) []models.NewsItem {
	items, err := s.news.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("News unavailable")
	}
	if items == nil {
		items = []models.NewsItem{}
	}
	return items
}

// Prices returns the ticker. It fails only when every quote failed and
// nothing is cached.
func (s *Service) Prices(ctx context.Context) (*models.Prices, error) {
	p, err := s.prices.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Prices unavailable")
		return nil, err
	}
	return &p, nil
}

// Telegram returns the channel feed, or a not-configured payload.
func (s *Service) Telegram(ctx context.Context) models.SocialFeed {
	if s.src.Telegram == nil {
		return telegram.NotConfigured(s.cfg.TelegramChannels)
	}
	feed, err := s.telegram.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram unavailable")
		return models.SocialFeed{
			Configured: true,
			Channels:   telegram.Handles(s.cfg.TelegramChannels),
			Error:      "Telegram temporarily unavailable",
		}
	}
	return feed
}

// X returns the OSINT account feed, or a not-configured payload.
func (s *Service) X(ctx context.Context) models.SocialFeed {
	if s.src.X == nil {
		return xfeed.NotConfigured(s.cfg.XAccounts)
	}
	feed, err := s.x.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("X unavailable")
		return models.SocialFeed{
			Configured: true,
			Accounts:   s.cfg.XAccounts,
			Error:      "X temporarily unavailable",
		}
	}
	return feed
}

// ====== Pass-through ======

// Chart returns a token's price history; empty on failure.
func (s *Service) Chart(ctx context.Context, tokenID, interval string) []models.PricePoint {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	history, err := s.src.Charts.GetPriceHistory(ctx, tokenID, interval)
	if err != nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("Chart unavailable")
		return []models.PricePoint{}
	}
	if history == nil {
		history = []models.PricePoint{}
	}
	return history
}

// OrderBook returns a token's book; empty on failure.
func (s *Service) OrderBook(ctx context.Context, tokenID string) models.OrderBook {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	book, err := s.src.Charts.GetOrderBook(ctx, tokenID)
	if err != nil || book == nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("Order book unavailable")
		return models.OrderBook{Bids: []models.OrderLevel{}, Asks: []models.OrderLevel{}}
	}
	return *book
}

// ====== Refresh ======

// RefreshMarkets fetches markets unconditionally.
func (s *Service) RefreshMarkets(ctx context.Context) ([]polymarket.Event, error) {
	return s.markets.Refresh(ctx)
}

// Refresh warms one source's cache by key.
func (s *Service) Refresh(ctx context.Context, source string) error {
	var err error
	switch source {
	case SourceMarkets:
		_, err = s.markets.Refresh(ctx)
	case SourceNews:
		_, err = s.news.Refresh(ctx)
	case SourcePrices:
		_, err = s.prices.Refresh(ctx)
	case SourceTelegram:
		if s.src.Telegram == nil {
			return nil
		}
		_, err = s.telegram.Refresh(ctx)
	case SourceX:
		if s.src.X == nil {
			return nil
		}
		_, err = s.x.Refresh(ctx)
	default:
		return fmt.Errorf("unknown source: %s", source)
	}
	return err
}

// TTLs returns every source's freshness window.
func (s *Service) TTLs() TTLs {
	return s.cfg.TTLs
}
