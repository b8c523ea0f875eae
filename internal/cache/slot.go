package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/scott-c-hughes/polymarket-terminal/internal/metrics"
)

// Fetcher loads a fresh value from upstream.
type Fetcher[T any] func(ctx context.Context) (T, error)

type slotOptions struct {
	coalesce bool
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Slot.
type Option func(*slotOptions)

// WithCoalesce collapses concurrent misses into a single upstream fetch.
func WithCoalesce(on bool) Option {
	return func(o *slotOptions) {
		o.coalesce = on
	}
}

// WithFetchTimeout bounds a coalesced fetch. The shared fetch is detached
// from any single caller's cancellation, so this is its only deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *slotOptions) {
		o.timeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *slotOptions) {
		o.now = now
	}
}

// Slot is the cache for one source. A fresh entry is served without an
// upstream call; a stale or missing one is refetched and overwritten. When
// the fetch fails and an older entry exists, the older entry is served.
type Slot[T any] struct {
	name     string
	ttl      time.Duration
	store    Store
	fetch    Fetcher[T]
	coalesce bool
	timeout  time.Duration
	group    singleflight.Group
	now      func() time.Time
}

// NewSlot creates a slot keyed by name.
func NewSlot[T any](name string, ttl time.Duration, store Store, fetch Fetcher[T], opts ...Option) *Slot[T] {
	o := slotOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Slot[T]{
		name:     name,
		ttl:      ttl,
		store:    store,
		fetch:    fetch,
		coalesce: o.coalesce,
		timeout:  o.timeout,
		now:      o.now,
	}
}

// Name returns the source key.
func (s *Slot[T]) Name() string {
	return s.name
}

// Get returns the cached value when fresh, otherwise fetches.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	cached, fetchedAt, ok := s.Peek(ctx)
	if ok && s.now().Sub(fetchedAt) < s.ttl {
		metrics.CacheHits.WithLabelValues(s.name).Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues(s.name).Inc()

	v, err := s.load(ctx)
	if err != nil {
		if ok {
			metrics.StaleServed.WithLabelValues(s.name).Inc()
			log.Warn().Err(err).Str("source", s.name).Time("fetched_at", fetchedAt).Msg("Upstream failed, serving stale cache")
			return cached, nil
		}
		var zero T
		return zero, err
	}
	return v, nil
}

// Refresh fetches unconditionally and overwrites the slot.
func (s *Slot[T]) Refresh(ctx context.Context) (T, error) {
	return s.load(ctx)
}

// Peek reads the stored value without fetching, regardless of age.
func (s *Slot[T]) Peek(ctx context.Context) (T, time.Time, bool) {
	var zero T

	entry, ok, err := s.store.Get(ctx, s.name)
	if err != nil {
		log.Warn().Err(err).Str("source", s.name).Msg("Cache read failed")
		return zero, time.Time{}, false
	}
	if !ok {
		return zero, time.Time{}, false
	}

	var v T
	if err := json.Unmarshal(entry.Data, &v); err != nil {
		log.Warn().Err(err).Str("source", s.name).Msg("Discarding undecodable cache entry")
		return zero, time.Time{}, false
	}
	return v, entry.FetchedAt, true
}

func (s *Slot[T]) load(ctx context.Context) (T, error) {
	if !s.coalesce {
		return s.fetchAndStore(ctx)
	}

	ch := s.group.DoChan(s.name, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, s.timeout)
			defer cancel()
		}
		return s.fetchAndStore(fctx)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debug().Str("source", s.name).Msg("Coalesced upstream fetch")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (s *Slot[T]) fetchAndStore(ctx context.Context) (T, error) {
	start := time.Now()
	v, err := s.fetch(ctx)
	metrics.UpstreamDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(s.name).Inc()
		var zero T
		return zero, fmt.Errorf("failed to fetch %s: %w", s.name, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("source", s.name).Msg("Cache encode failed")
		return v, nil
	}
	if err := s.store.Set(ctx, s.name, Entry{Data: data, FetchedAt: s.now()}); err != nil {
		log.Warn().Err(err).Str("source", s.name).Msg("Cache write failed")
	}

	return v, nil
}
