// Package alerts manages probability alerts on map regions and checks them
// against live markets.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/gazetteer"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

const (
	MinThreshold = 1
	MaxThreshold = 99
)

var (
	ErrInvalidThreshold = errors.New("threshold must be an integer between 1 and 99")
	ErrRegionNotFound   = errors.New("region not found")
	ErrNotFound         = errors.New("alert not found")
)

// Store persists alerts and their trigger history.
type Store interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	ListAlerts(ctx context.Context) ([]models.Alert, error)
	// DeleteAlert returns ErrNotFound for an unknown id.
	DeleteAlert(ctx context.Context, id string) error
	SaveTriggers(ctx context.Context, triggers []models.AlertTrigger) error
	RecentTriggers(ctx context.Context, limit int) ([]models.AlertTrigger, error)
}

// ParseThreshold validates a user-supplied threshold.
func ParseThreshold(v float64) (int, error) {
	if math.IsNaN(v) || v != math.Trunc(v) || v < MinThreshold || v > MaxThreshold {
		return 0, ErrInvalidThreshold
	}
	return int(v), nil
}

// Service creates, lists and deletes alerts.
type Service struct {
	store Store
	gaz   *gazetteer.Gazetteer
	now   func() time.Time
}

// NewService creates an alert service.
func NewService(store Store, gaz *gazetteer.Gazetteer) *Service {
	return &Service{store: store, gaz: gaz, now: time.Now}
}

// Create stores an alert for the region matching query. The query is tried
// as a location id, then a keyword, then a display name.
func (s *Service) Create(ctx context.Context, query string, threshold int) (models.Alert, error) {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return models.Alert{}, ErrInvalidThreshold
	}

	loc, ok := s.gaz.Resolve(query)
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrRegionNotFound, strings.TrimSpace(query))
	}

	alert := models.Alert{
		ID:        uuid.NewString(),
		Region:    loc.ID,
		Threshold: threshold,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveAlert(ctx, &alert); err != nil {
		return models.Alert{}, fmt.Errorf("failed to save alert: %w", err)
	}

	log.Info().Str("alert", alert.ID).Str("region", alert.Region).Int("threshold", threshold).Msg("Alert created")
	return alert, nil
}

// List returns every alert, oldest first.
func (s *Service) List(ctx context.Context) ([]models.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}

// Delete removes an alert by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteAlert(ctx, id)
}

// Record persists fired triggers.
func (s *Service) Record(ctx context.Context, triggers []models.AlertTrigger) error {
	if len(triggers) == 0 {
		return nil
	}
	if err := s.store.SaveTriggers(ctx, triggers); err != nil {
		return fmt.Errorf("failed to save triggers: %w", err)
	}
	return nil
}

// Triggers returns the most recent triggers, newest first.
func (s *Service) Triggers(ctx context.Context, limit int) ([]models.AlertTrigger, error) {
	triggers, err := s.store.RecentTriggers(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	if triggers == nil {
		triggers = []models.AlertTrigger{}
	}
	return triggers, nil
}

// ====== Memory store ======

// MemoryStore keeps alerts for the life of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]models.Alert
	triggers []models.AlertTrigger
	// Oldest triggers are dropped past this size.
	maxTriggers int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]models.Alert), maxTriggers: 500}
}

func (m *MemoryStore) SaveAlert(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = *alert
	return nil
}

func (m *MemoryStore) ListAlerts(_ context.Context) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	return nil
}

func (m *MemoryStore) SaveTriggers(_ context.Context, triggers []models.AlertTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, triggers...)
	if len(m.triggers) > m.maxTriggers {
		m.triggers = m.triggers[len(m.triggers)-m.maxTriggers:]
	}
	return nil
}

func (m *MemoryStore) RecentTriggers(_ context.Context, limit int) ([]models.AlertTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.triggers)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.AlertTrigger, 0, n)
	for i := len(m.triggers) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.triggers[i])
	}
	return out, nil
}
