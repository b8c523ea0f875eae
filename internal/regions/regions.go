// Package regions places markets on the map: it matches event text against
// the gazetteer and aggregates volume per location.
package regions

import (
	"regexp"
	"sort"
	"strings"

	"github.com/scott-c-hughes/polymarket-terminal/internal/gazetteer"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
)

// Level is a location's activity band.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Config holds the matcher thresholds.
type Config struct {
	// Keywords up to this length must match as whole words.
	ShortKeywordLen int
	MediumVolume    float64
	HighVolume      float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ShortKeywordLen: 3,
		MediumVolume:    25000,
		HighVolume:      100000,
	}
}

// ActiveLocation aggregates the markets matched to one location.
type ActiveLocation struct {
	Location    gazetteer.Location `json:"location"`
	Events      []polymarket.Event `json:"-"`
	EventIDs    []string           `json:"eventIds"`
	Volume24hr  float64            `json:"volume24hr"`
	TotalVolume float64            `json:"totalVolume"`
	Level       Level              `json:"level"`
}

type keyword struct {
	text string
	re   *regexp.Regexp
}

type entry struct {
	id       string
	keywords []keyword
}

// Matcher matches free text to gazetteer locations.
type Matcher struct {
	gaz     *gazetteer.Gazetteer
	cfg     Config
	entries []entry
}

// NewMatcher compiles the keyword table once.
func NewMatcher(gaz *gazetteer.Gazetteer, cfg Config) *Matcher {
	if cfg.ShortKeywordLen <= 0 {
		cfg.ShortKeywordLen = DefaultConfig().ShortKeywordLen
	}
	if cfg.HighVolume <= 0 {
		cfg.HighVolume = DefaultConfig().HighVolume
	}
	if cfg.MediumVolume <= 0 {
		cfg.MediumVolume = DefaultConfig().MediumVolume
	}

	m := &Matcher{gaz: gaz, cfg: cfg}
	for _, loc := range gaz.All() {
		e := entry{id: loc.ID}
		for _, kw := range loc.Keywords {
			k := keyword{text: kw}
			if len(kw) <= cfg.ShortKeywordLen {
				k.re = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
			}
			e.keywords = append(e.keywords, k)
		}
		m.entries = append(m.entries, e)
	}
	return m
}

// Gazetteer returns the underlying location table.
func (m *Matcher) Gazetteer() *gazetteer.Gazetteer {
	return m.gaz
}

// Match returns every location id with a keyword in text, in table order.
func (m *Matcher) Match(text string) []string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}

	var ids []string
	for _, e := range m.entries {
		for _, k := range e.keywords {
			if k.matches(lower) {
				ids = append(ids, e.id)
				break
			}
		}
	}
	return ids
}

func (k keyword) matches(lower string) bool {
	if k.re != nil {
		return k.re.MatchString(lower)
	}
	return strings.Contains(lower, k.text)
}

// MatchEvent matches an event's title and description.
func (m *Matcher) MatchEvent(e polymarket.Event) []string {
	return m.Match(e.Title + " " + e.Description)
}

// Level classifies a 24h volume into an activity band.
func (m *Matcher) Level(volume24hr float64) Level {
	switch {
	case volume24hr >= m.cfg.HighVolume:
		return LevelHigh
	case volume24hr >= m.cfg.MediumVolume:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Build aggregates events per matched location. The result is a fresh map
// on every call.
func (m *Matcher) Build(events []polymarket.Event) map[string]*ActiveLocation {
	active := make(map[string]*ActiveLocation)
	for _, e := range events {
		for _, id := range m.MatchEvent(e) {
			al, ok := active[id]
			if !ok {
				loc, _ := m.gaz.Lookup(id)
				al = &ActiveLocation{Location: loc}
				active[id] = al
			}
			al.Events = append(al.Events, e)
			al.EventIDs = append(al.EventIDs, e.ID)
			al.Volume24hr += e.Volume24hr
			al.TotalVolume += e.Volume
		}
	}
	for _, al := range active {
		al.Level = m.Level(al.Volume24hr)
	}
	return active
}

// MarketsFor returns the events for a region: those matched to it, or,
// when none are, events whose text contains the region's display name.
// Results are ordered by lifetime volume.
func (m *Matcher) MarketsFor(regionID string, events []polymarket.Event) []polymarket.Event {
	loc, ok := m.gaz.Lookup(regionID)
	if !ok {
		return nil
	}

	var out []polymarket.Event
	for _, e := range events {
		for _, id := range m.MatchEvent(e) {
			if id == loc.ID {
				out = append(out, e)
				break
			}
		}
	}

	if len(out) == 0 {
		name := strings.ToLower(loc.Name)
		for _, e := range events {
			if name != "" && strings.Contains(e.Text(), name) {
				out = append(out, e)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Volume > out[j].Volume
	})
	return out
}
