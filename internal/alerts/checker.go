package alerts

import (
	"sync"
	"time"

	"github.com/scott-c-hughes/polymarket-terminal/internal/markets"
	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
	"github.com/scott-c-hughes/polymarket-terminal/internal/regions"
)

// Checker evaluates alerts against the current markets. A market fires once
// when it reaches an alert's threshold and can fire again only after
// dropping back below it.
type Checker struct {
	matcher    *regions.Matcher
	normalizer *markets.Normalizer
	now        func() time.Time

	mu    sync.Mutex
	fired map[string]bool
}

// NewChecker creates a checker.
func NewChecker(matcher *regions.Matcher, normalizer *markets.Normalizer) *Checker {
	return &Checker{
		matcher:    matcher,
		normalizer: normalizer,
		now:        time.Now,
		fired:      make(map[string]bool),
	}
}

// Check returns the triggers for every region market whose probability,
// rounded to a whole percent, is at or above an alert's threshold.
func (c *Checker) Check(alerts []models.Alert, events []polymarket.Event) []models.AlertTrigger {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	seen := make(map[string]bool, len(c.fired))
	var triggers []models.AlertTrigger

	for _, a := range alerts {
		for _, e := range c.matcher.MarketsFor(a.Region, events) {
			p := c.normalizer.Normalize(e).Probability()
			if p < a.Threshold {
				continue
			}

			key := a.ID + "|" + e.ID
			seen[key] = true
			if c.fired[key] {
				continue
			}
			triggers = append(triggers, models.AlertTrigger{
				AlertID:     a.ID,
				Region:      a.Region,
				Threshold:   a.Threshold,
				EventID:     e.ID,
				MarketTitle: e.Title,
				Probability: p,
				TriggeredAt: now,
			})
		}
	}

	c.fired = seen
	return triggers
}
