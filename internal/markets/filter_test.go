package markets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
)

func openMarket() polymarket.Market {
	return polymarket.Market{ID: "m", Active: true}
}

func event(title string, tags ...string) polymarket.Event {
	e := polymarket.Event{
		ID:      title,
		Title:   title,
		Active:  true,
		Markets: []polymarket.Market{openMarket()},
	}
	for _, t := range tags {
		e.Tags = append(e.Tags, polymarket.Tag{Slug: t, Label: t})
	}
	return e
}

func TestFilter_Lifecycle(t *testing.T) {
	f := NewFilter()

	base := event("Iran strike", "iran")
	assert.True(t, f.Allow(base))

	closed := base
	closed.Closed = true
	assert.False(t, f.Allow(closed))

	archived := base
	archived.Archived = true
	assert.False(t, f.Allow(archived))

	inactive := base
	inactive.Active = false
	assert.False(t, f.Allow(inactive))

	noOpen := base
	noOpen.Markets = []polymarket.Market{{ID: "x", Active: true, Closed: true}, {ID: "y", Active: false}}
	assert.False(t, f.Allow(noOpen))
}

func TestFilter_ExcludeBeatsInclude(t *testing.T) {
	f := NewFilter()

	assert.False(t, f.Allow(event("Russia at the World Cup", "russia", "soccer")), "exclude tag wins")
	assert.False(t, f.Allow(event("Will bitcoin hit 100k if China bans mining?", "china")), "exclude keyword wins")
}

func TestFilter_IncludeByTagOrKeyword(t *testing.T) {
	f := NewFilter()

	assert.True(t, f.Allow(event("Who wins the next vote?", "world-elections")))
	assert.True(t, f.Allow(event("Will Putin meet Trump?")), "keyword fallback")
	assert.True(t, f.Allow(event("Will ICE raids expand?")), "trailing-space keyword")
	assert.False(t, f.Allow(event("Will it rain in Paris?", "weather")))
}

func TestFilter_ApplySortsAndAnnotates(t *testing.T) {
	f := NewFilter()

	small := event("Taiwan strait incident", "taiwan")
	small.Volume = 100

	big := event("Ukraine ceasefire", "ukraine")
	big.Volume = 5000
	big.Volume24hr = 500
	big.Markets = []polymarket.Market{
		{ID: "a", Active: true, OneWeekPriceChange: 0.05},
		{ID: "b", Active: true, OneWeekPriceChange: -0.12},
		{ID: "c", Active: true, Closed: true, OneWeekPriceChange: 0.5},
	}

	sports := event("NBA Finals", "nba")

	out := f.Apply([]polymarket.Event{small, sports, big})
	require.Len(t, out, 2)
	assert.Equal(t, "Ukraine ceasefire", out[0].Title)
	assert.Equal(t, "Taiwan strait incident", out[1].Title)

	got := out[0]
	assert.Len(t, got.Markets, 2, "closed sub-markets are dropped")
	assert.InDelta(t, 0.1, got.VolumeRatio, 1e-9)
	assert.InDelta(t, 0.12, got.MaxPriceChange, 1e-9)
	assert.InDelta(t, -0.12, got.PriceChangeDirection, 1e-9)

	assert.Len(t, big.Markets, 3, "input is untouched")
	assert.Equal(t, 0.0, out[1].VolumeRatio)
}
