// Package sync runs the market refresh loop and publishes its events.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/alerts"
	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/metrics"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/regions"
)

// Event types for the event bus.
type EventType string

const (
	EventMarketsRefreshed EventType = "markets_refreshed"
	EventAlertTriggered   EventType = "alert_triggered"
)

// Event is published to every subscriber.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MarketsRefreshed is the payload of EventMarketsRefreshed.
type MarketsRefreshed struct {
	Count   int      `json:"count"`
	Regions []string `json:"regions"`
}

// MarketSource refreshes the market cache.
type MarketSource interface {
	RefreshMarkets(ctx context.Context) ([]polymarket.Event, error)
}

// SyncerConfig holds configuration for the syncer.
type SyncerConfig struct {
	// How often to refresh markets
	SyncInterval time.Duration

	// Buffer sizes
	EventBuffer      int
	SubscriberBuffer int
}

// DefaultSyncerConfig returns default configuration.
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		SyncInterval:     30 * time.Second,
		EventBuffer:      1000,
		SubscriberBuffer: 100,
	}
}

// Snapshot is the state derived from the last successful refresh.
type Snapshot struct {
	Events    []polymarket.Event
	Processed []models.ProcessedEvent
	Regions   map[string]*regions.ActiveLocation
	UpdatedAt time.Time
}

// Syncer periodically refreshes markets, rebuilds the region map and checks
// alerts.
type Syncer struct {
	source     MarketSource
	matcher    *regions.Matcher
	normalizer *markets.Normalizer
	config     SyncerConfig

	alertSvc *alerts.Service
	checker  *alerts.Checker

	// Serializes refreshes from the loop and SyncNow
	syncMux sync.Mutex

	// Event channels
	events      chan Event
	eventMux    sync.RWMutex
	subscribers []chan Event

	// Last refresh
	state    Snapshot
	stateMux sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a new market syncer.
func NewSyncer(source MarketSource, matcher *regions.Matcher, normalizer *markets.Normalizer, config SyncerConfig) *Syncer {
	def := DefaultSyncerConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = def.EventBuffer
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = def.SubscriberBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Syncer{
		source:      source,
		matcher:     matcher,
		normalizer:  normalizer,
		config:      config,
		events:      make(chan Event, config.EventBuffer),
		subscribers: make([]chan Event, 0),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetAlerts enables alert checking after each refresh. Call before Start.
func (s *Syncer) SetAlerts(svc *alerts.Service, checker *alerts.Checker) {
	s.alertSvc = svc
	s.checker = checker
}

// Subscribe returns a channel that receives bus events. It is closed by
// Stop.
func (s *Syncer) Subscribe() <-chan Event {
	s.eventMux.Lock()
	defer s.eventMux.Unlock()

	ch := make(chan Event, s.config.SubscriberBuffer)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Start begins the sync loop and the event dispatcher.
func (s *Syncer) Start() {
	log.Info().
		Dur("sync_interval", s.config.SyncInterval).
		Bool("alerts", s.checker != nil).
		Msg("Starting market syncer")

	s.wg.Add(1)
	go s.syncLoop()

	s.wg.Add(1)
	go s.eventDispatcher()
}

// Stop stops the syncer.
func (s *Syncer) Stop() {
	log.Info().Msg("Stopping market syncer")
	s.cancel()
	s.wg.Wait()

	s.eventMux.Lock()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.eventMux.Unlock()
}

// syncLoop refreshes on every tick.
func (s *Syncer) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	// Initial sync
	_ = s.syncMarkets(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.syncMarkets(s.ctx)
		}
	}
}

// syncMarkets refreshes markets and derives everything that depends on them.
func (s *Syncer) syncMarkets(ctx context.Context) error {
	s.syncMux.Lock()
	defer s.syncMux.Unlock()

	log.Debug().Msg("Syncing markets")

	events, err := s.source.RefreshMarkets(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Market sync failed")
		}
		return err
	}

	now := time.Now()
	active := s.matcher.Build(events)
	snap := Snapshot{
		Events:    events,
		Processed: s.normalizer.NormalizeAll(events),
		Regions:   active,
		UpdatedAt: now,
	}

	s.stateMux.Lock()
	s.state = snap
	s.stateMux.Unlock()

	ids := make([]string, 0, len(active))
	for _, id := range s.matcher.Gazetteer().IDs() {
		if _, ok := active[id]; ok {
			ids = append(ids, id)
		}
	}

	s.emitEvent(Event{
		Type:      EventMarketsRefreshed,
		Timestamp: now,
		Payload:   MarketsRefreshed{Count: len(events), Regions: ids},
	})

	log.Info().
		Int("markets", len(events)).
		Int("regions", len(active)).
		Msg("Markets synced")

	s.checkAlerts(ctx, events)
	return nil
}

// checkAlerts fires the alerts whose threshold the new prices reach.
func (s *Syncer) checkAlerts(ctx context.Context, events []polymarket.Event) {
	if s.alertSvc == nil || s.checker == nil {
		return
	}

	list, err := s.alertSvc.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load alerts")
		return
	}
	if len(list) == 0 {
		return
	}

	triggers := s.checker.Check(list, events)
	if len(triggers) == 0 {
		return
	}

	if err := s.alertSvc.Record(ctx, triggers); err != nil {
		log.Error().Err(err).Msg("Failed to record alert triggers")
	}
	metrics.AlertsTriggered.Add(float64(len(triggers)))

	for _, t := range triggers {
		log.Info().
			Str("alert", t.AlertID).
			Str("region", t.Region).
			Str("market", t.MarketTitle).
			Int("probability", t.Probability).
			Msg("Alert triggered")

		s.emitEvent(Event{
			Type:      EventAlertTriggered,
			Timestamp: t.TriggeredAt,
			Payload:   t,
		})
	}
}

// eventDispatcher dispatches events to subscribers.
func (s *Syncer) eventDispatcher() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.events:
			s.eventMux.RLock()
			for _, sub := range s.subscribers {
				select {
				case sub <- event:
				default:
					log.Warn().Str("type", string(event.Type)).Msg("Subscriber channel full, dropping event")
				}
			}
			s.eventMux.RUnlock()
		}
	}
}

// emitEvent queues an event for dispatch.
func (s *Syncer) emitEvent(event Event) {
	select {
	case s.events <- event:
		log.Debug().Str("type", string(event.Type)).Msg("Event emitted")
	default:
		log.Warn().Msg("Event channel full, dropping event")
	}
}

// SyncNow forces an immediate refresh.
func (s *Syncer) SyncNow(ctx context.Context) error {
	log.Info().Msg("Manual sync triggered")
	return s.syncMarkets(ctx)
}

// Snapshot returns the state of the last successful refresh. UpdatedAt is
// zero before the first one.
func (s *Syncer) Snapshot() Snapshot {
	s.stateMux.RLock()
	defer s.stateMux.RUnlock()
	return s.state
}
