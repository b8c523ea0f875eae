// Package markets turns raw Polymarket events into what the terminal
// serves: the relevance filter, movement annotations and the display
// normalizer.
package markets

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
)

// DefaultDateSeriesRatio is the share of titled sub-markets that must parse
// as dates for an event to be shown as a term structure.
const DefaultDateSeriesRatio = 0.5

var datePattern = regexp.MustCompile(`(?i)(\w+)\s+(\d+)(?:,?\s*(\d{4}))?`)

var months = map[string]time.Month{
	"january":   time.January,
	"jan":       time.January,
	"february":  time.February,
	"feb":       time.February,
	"march":     time.March,
	"mar":       time.March,
	"april":     time.April,
	"apr":       time.April,
	"may":       time.May,
	"june":      time.June,
	"jun":       time.June,
	"july":      time.July,
	"jul":       time.July,
	"august":    time.August,
	"aug":       time.August,
	"september": time.September,
	"sep":       time.September,
	"sept":      time.September,
	"october":   time.October,
	"oct":       time.October,
	"november":  time.November,
	"nov":       time.November,
	"december":  time.December,
	"dec":       time.December,
}

// Normalizer classifies events into display shapes.
type Normalizer struct {
	DateSeriesRatio float64
	Now             func() time.Time
}

// NewNormalizer returns a normalizer with the default threshold.
func NewNormalizer() *Normalizer {
	return &Normalizer{DateSeriesRatio: DefaultDateSeriesRatio, Now: time.Now}
}

// ParseDate parses "Month Day" or "Month Day, Year" anywhere in s. A missing
// year is taken from now.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(m[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	year := now.Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
	}

	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// Price returns the market's primary outcome probability: the last trade,
// else the first outcome price, else 0.
func Price(m polymarket.Market) float64 {
	if m.LastTradePrice != 0 {
		return float64(m.LastTradePrice)
	}
	if first, ok := m.OutcomePrices.First(); ok {
		return polymarket.ParseFloat(first)
	}
	return 0
}

// TokenID returns the "Yes" outcome token, or nil when the market has none.
func TokenID(m polymarket.Market) *string {
	if id, ok := m.ClobTokenIds.First(); ok {
		return &id
	}
	return nil
}

// Volume returns the market's lifetime volume.
func Volume(m polymarket.Market) float64 {
	if m.VolumeNum != 0 {
		return float64(m.VolumeNum)
	}
	return polymarket.ParseFloat(m.Volume)
}

func title(m polymarket.Market) string {
	if m.GroupItemTitle != "" {
		return m.GroupItemTitle
	}
	return m.Question
}

// Classify returns the display shape of an event.
func (n *Normalizer) Classify(e polymarket.Event) models.EventType {
	if len(e.Markets) <= 1 {
		return models.EventBinary
	}

	titled, dates := 0, 0
	now := n.now()
	for _, m := range e.Markets {
		if m.GroupItemTitle == "" {
			continue
		}
		titled++
		if _, ok := ParseDate(m.GroupItemTitle, now); ok {
			dates++
		}
	}
	if titled < 2 {
		return models.EventBinary
	}

	if float64(dates) >= float64(titled)*n.ratio() {
		return models.EventDateSeries
	}
	return models.EventMultipleChoice
}

// Normalize builds the display record for an event. It never fails:
// malformed prices and token ids fall back to 0 and nil.
func (n *Normalizer) Normalize(e polymarket.Event) models.ProcessedEvent {
	out := models.ProcessedEvent{
		ID:          e.ID,
		Title:       e.Title,
		Slug:        e.Slug,
		Volume:      e.Volume,
		Volume24hr:  e.Volume24hr,
		EventType:   n.Classify(e),
		Tags:        e.TagSlugs(),
		DateMarkets: []models.DateMarket{},
		Choices:     []models.Choice{},
	}

	var first *polymarket.Market
	if len(e.Markets) > 0 {
		first = &e.Markets[0]
		out.TokenID = TokenID(*first)
	}

	switch out.EventType {
	case models.EventBinary:
		if first != nil {
			out.Price = Price(*first)
		}

	case models.EventDateSeries:
		now := n.now()
		for _, m := range e.Markets {
			d, ok := ParseDate(m.GroupItemTitle, now)
			if !ok {
				continue
			}
			out.DateMarkets = append(out.DateMarkets, models.DateMarket{
				ID:      m.ID,
				Title:   title(m),
				Date:    d,
				Price:   Price(m),
				TokenID: TokenID(m),
			})
		}
		sort.SliceStable(out.DateMarkets, func(i, j int) bool {
			return out.DateMarkets[i].Date.Before(out.DateMarkets[j].Date)
		})
		if len(out.DateMarkets) > 0 {
			out.Price = out.DateMarkets[0].Price
			if out.DateMarkets[0].TokenID != nil {
				out.TokenID = out.DateMarkets[0].TokenID
			}
		}

	case models.EventMultipleChoice:
		for _, m := range e.Markets {
			t := title(m)
			if t == "" {
				continue
			}
			out.Choices = append(out.Choices, models.Choice{
				ID:      m.ID,
				Title:   t,
				Price:   Price(m),
				TokenID: TokenID(m),
				Volume:  Volume(m),
			})
		}
		sort.SliceStable(out.Choices, func(i, j int) bool {
			return out.Choices[i].Price > out.Choices[j].Price
		})
		if len(out.Choices) > 0 {
			out.Price = out.Choices[0].Price
			if out.Choices[0].TokenID != nil {
				out.TokenID = out.Choices[0].TokenID
			}
		}
	}

	return out
}

// NormalizeAll normalizes a list of events, preserving order.
func (n *Normalizer) NormalizeAll(events []polymarket.Event) []models.ProcessedEvent {
	out := make([]models.ProcessedEvent, 0, len(events))
	for _, e := range events {
		out = append(out, n.Normalize(e))
	}
	return out
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) ratio() float64 {
	if !(n.DateSeriesRatio > 0 && n.DateSeriesRatio <= 1) {
		return DefaultDateSeriesRatio
	}
	return n.DateSeriesRatio
}
