package markets

import (
	"math"
	"sort"
	"strings"

	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
)

// Filter selects geopolitically relevant events: hard exclusions first,
// then an include by tag or keyword.
type Filter struct {
	IncludeTags     map[string]bool
	ExcludeTags     map[string]bool
	IncludeKeywords []string
	ExcludeKeywords []string
}

// DefaultIncludeTags are tag slugs that mark an event as relevant.
var DefaultIncludeTags = []string{
	// Geopolitical
	"geopolitics", "middle-east", "ukraine", "israel", "iran", "venezuela",
	"russia", "china", "taiwan", "korea", "syria", "nato",
	// Policy & governance
	"trump-presidency", "us-government", "trade-war", "foreign-policy",
	"economic-policy", "congress", "senate", "house",
	// US domestic
	"doge", "immigration", "trump-cabinet", "courts", "fed-rates", "fed",
	"midterms", "primaries", "budget", "deficit",
	// Elections
	"world-elections", "global-elections", "us-presidential-election",
}

// DefaultExcludeTags are tag slugs that always drop an event.
var DefaultExcludeTags = []string{
	// Sports
	"sports", "games", "basketball", "soccer", "nba", "ncaa", "ncaa-basketball",
	"nfl", "nfl-playoffs", "mlb", "nhl", "tennis", "golf", "ufc", "boxing",
	"formula-1", "cricket", "rugby",
	// Crypto price speculation
	"crypto-prices", "hit-price", "pre-market",
	// Entertainment
	"pop-culture", "movies", "oscars", "awards", "music", "celebrities",
	"video-games", "gta-vi", "taylor-swift", "tv-shows", "streaming",
}

// DefaultIncludeKeywords catch relevant events that are poorly tagged.
// Trailing spaces are significant.
var DefaultIncludeKeywords = []string{
	// Hotspots
	"iran", "tehran", "venezuela", "russia", "ukraine", "china", "taiwan",
	"israel", "gaza", "syria", "korea", "pakistan", "hormuz",
	// Leaders
	"maduro", "khamenei", "putin", "xi jinping", "netanyahu", "zelensky",
	// Organizations
	"hezbollah", "hamas", "nato", "irgc",
	// Military
	"ceasefire", "invasion", "invade", "airstrike", "strike on", "troops",
	// US domestic policy
	"deportation", "tariff", "doge", "executive order", "pardon",
	"speaker", "cabinet", "fed ", "rate cut", "shutdown", "impeach",
	"sanctuary", "border", "migrant", "ice ", "national guard",
	"supreme court", "attorney general", "fbi", "doj",
}

// DefaultExcludeKeywords drop an event even when its tags look relevant.
var DefaultExcludeKeywords = []string{
	"what price will", "bitcoin", "ethereum", "solana", "dogecoin",
	"super bowl", "nba champion", "world series", "stanley cup",
	"oscars", "grammy", "emmy", "golden globe",
}

// NewFilter returns the default relevance filter.
func NewFilter() *Filter {
	return &Filter{
		IncludeTags:     setOf(DefaultIncludeTags),
		ExcludeTags:     setOf(DefaultExcludeTags),
		IncludeKeywords: DefaultIncludeKeywords,
		ExcludeKeywords: DefaultExcludeKeywords,
	}
}

func setOf(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Tradable reports whether the event is live and has an open sub-market.
func Tradable(e polymarket.Event) bool {
	if e.Closed || e.Archived || !e.Active {
		return false
	}
	for _, m := range e.Markets {
		if m.Open() {
			return true
		}
	}
	return false
}

// Allow applies the three filter stages to one event.
func (f *Filter) Allow(e polymarket.Event) bool {
	if !Tradable(e) {
		return false
	}

	tags := make(map[string]bool, len(e.Tags))
	for _, t := range e.Tags {
		tags[t.Slug] = true
	}
	text := e.Text()

	for tag := range tags {
		if f.ExcludeTags[tag] {
			return false
		}
	}
	for _, kw := range f.ExcludeKeywords {
		if strings.Contains(text, kw) {
			return false
		}
	}

	for tag := range tags {
		if f.IncludeTags[tag] {
			return true
		}
	}
	for _, kw := range f.IncludeKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}

	return false
}

// Apply keeps the allowed events, annotates them and orders them by
// lifetime volume, highest first. The input is not modified.
func (f *Filter) Apply(events []polymarket.Event) []polymarket.Event {
	out := make([]polymarket.Event, 0, len(events))
	for _, e := range events {
		if f.Allow(e) {
			out = append(out, Annotate(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Volume > out[j].Volume
	})
	return out
}

// Annotate drops closed sub-markets and fills in the movement fields.
func Annotate(e polymarket.Event) polymarket.Event {
	active := make([]polymarket.Market, 0, len(e.Markets))
	for _, m := range e.Markets {
		if m.Open() {
			active = append(active, m)
		}
	}
	e.Markets = active

	e.VolumeRatio = 0
	if e.Volume24hr != 0 && e.Volume != 0 {
		e.VolumeRatio = e.Volume24hr / e.Volume
	}

	e.MaxPriceChange = 0
	e.PriceChangeDirection = 0
	for _, m := range active {
		change := float64(m.OneWeekPriceChange)
		if math.Abs(change) > e.MaxPriceChange {
			e.MaxPriceChange = math.Abs(change)
			e.PriceChangeDirection = change
		}
	}

	return e
}
