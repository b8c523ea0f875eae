package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scott-c-hughes/polymarket-terminal/internal/alerts"
	"github.com/scott-c-hughes/polymarket-terminal/internal/gazetteer"
	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/regions"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ========== Test Helpers ==========

type fakeSource struct {
	calls  atomic.Int32
	events []polymarket.Event
	err    error
}

func (f *fakeSource) RefreshMarkets(context.Context) ([]polymarket.Event, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func binary(id, title string, price float64) polymarket.Event {
	return polymarket.Event{
		ID:         id,
		Title:      title,
		Active:     true,
		Volume24hr: 50000,
		Markets:    []polymarket.Market{{ID: id + "-m", Active: true, LastTradePrice: polymarket.Number(price)}},
	}
}

func newTestSyncer(t *testing.T, src MarketSource, cfg SyncerConfig) (*Syncer, *gazetteer.Gazetteer) {
	t.Helper()
	gaz, err := gazetteer.Load()
	require.NoError(t, err)
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = time.Hour
	}
	return NewSyncer(src, regions.NewMatcher(gaz, regions.DefaultConfig()), markets.NewNormalizer(), cfg), gaz
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// ========== Tests ==========

func TestSyncNow_BuildsSnapshot(t *testing.T) {
	src := &fakeSource{events: []polymarket.Event{
		binary("1", "Iran strike by June?", 0.4),
		binary("2", "Kyiv ceasefire?", 0.2),
		binary("3", "Mars colony?", 0.1),
	}}
	s, _ := newTestSyncer(t, src, SyncerConfig{})

	assert.True(t, s.Snapshot().UpdatedAt.IsZero())

	require.NoError(t, s.SyncNow(context.Background()))

	snap := s.Snapshot()
	assert.False(t, snap.UpdatedAt.IsZero())
	assert.Len(t, snap.Events, 3)
	require.Len(t, snap.Processed, 3)
	assert.Equal(t, models.EventBinary, snap.Processed[0].EventType)
	assert.Contains(t, snap.Regions, "iran")
	assert.Contains(t, snap.Regions, "ukraine")
	assert.Equal(t, []string{"1"}, snap.Regions["iran"].EventIDs)
	assert.Equal(t, regions.LevelMedium, snap.Regions["iran"].Level)
}

func TestSyncNow_FailureKeepsState(t *testing.T) {
	src := &fakeSource{events: []polymarket.Event{binary("1", "Iran strike?", 0.4)}}
	s, _ := newTestSyncer(t, src, SyncerConfig{})

	require.NoError(t, s.SyncNow(context.Background()))
	before := s.Snapshot()

	src.err = errors.New("gamma down")
	require.Error(t, s.SyncNow(context.Background()))
	assert.Equal(t, before.UpdatedAt, s.Snapshot().UpdatedAt)
}

func TestStart_PublishesRefresh(t *testing.T) {
	src := &fakeSource{events: []polymarket.Event{binary("1", "Iran strike?", 0.4)}}
	s, _ := newTestSyncer(t, src, SyncerConfig{})

	ch := s.Subscribe()
	s.Start()

	ev := receive(t, ch)
	assert.Equal(t, EventMarketsRefreshed, ev.Type)
	payload, ok := ev.Payload.(MarketsRefreshed)
	require.True(t, ok)
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, []string{"iran"}, payload.Regions)

	s.Stop()
	_, open := <-ch
	assert.False(t, open, "subscriber closed on stop")
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestStart_TriggersAlerts(t *testing.T) {
	src := &fakeSource{events: []polymarket.Event{
		binary("hot", "Iran strike by June?", 0.62),
		binary("cold", "Iran deal?", 0.10),
	}}
	s, gaz := newTestSyncer(t, src, SyncerConfig{})

	store := alerts.NewMemoryStore()
	svc := alerts.NewService(store, gaz)
	created, err := svc.Create(context.Background(), "tehran", 60)
	require.NoError(t, err)
	s.SetAlerts(svc, alerts.NewChecker(regions.NewMatcher(gaz, regions.DefaultConfig()), markets.NewNormalizer()))

	ch := s.Subscribe()
	s.Start()
	defer s.Stop()

	assert.Equal(t, EventMarketsRefreshed, receive(t, ch).Type)

	ev := receive(t, ch)
	require.Equal(t, EventAlertTriggered, ev.Type)
	trigger, ok := ev.Payload.(models.AlertTrigger)
	require.True(t, ok)
	assert.Equal(t, created.ID, trigger.AlertID)
	assert.Equal(t, "hot", trigger.EventID)
	assert.Equal(t, 62, trigger.Probability)

	recorded, err := svc.Triggers(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recorded, 1)
}

func TestDispatch_SlowSubscriberDoesNotBlock(t *testing.T) {
	src := &fakeSource{events: []polymarket.Event{binary("1", "Iran strike?", 0.4)}}
	s, _ := newTestSyncer(t, src, SyncerConfig{SubscriberBuffer: 1})

	slow := s.Subscribe()
	fast := s.Subscribe()
	s.Start()

	receive(t, fast)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SyncNow(context.Background()))
		receive(t, fast)
	}

	s.Stop()

	n := 0
	for range slow {
		n++
	}
	assert.Equal(t, 1, n, "slow subscriber keeps only what fits its buffer")
}
