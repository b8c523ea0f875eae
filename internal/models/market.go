package models

import "time"

// EventType is the display shape of a market event.
type EventType string

const (
	EventBinary         EventType = "binary"
	EventDateSeries     EventType = "date-series"
	EventMultipleChoice EventType = "multiple-choice"
)

// ProcessedEvent is a market event reduced to what the terminal renders.
// It is derived from upstream data on every pass and never mutated.
type ProcessedEvent struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Slug        string       `json:"slug"`
	Volume      float64      `json:"volume"`
	Volume24hr  float64      `json:"volume24hr"`
	EventType   EventType    `json:"eventType"`
	Price       float64      `json:"price"`
	TokenID     *string      `json:"tokenId"`
	Tags        []string     `json:"tags"`
	DateMarkets []DateMarket `json:"dateMarkets"`
	Choices     []Choice     `json:"choices"`
}

// DateMarket is one leg of a term structure ("by March 31", "by June 30").
type DateMarket struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Date    time.Time `json:"date"`
	Price   float64   `json:"price"`
	TokenID *string   `json:"tokenId"`
}

// Choice is one outcome of a multiple-choice event.
type Choice struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Price   float64 `json:"price"`
	TokenID *string `json:"tokenId"`
	Volume  float64 `json:"volume"`
}

// Probability returns the primary outcome price as a rounded percentage.
func (e ProcessedEvent) Probability() int {
	return int(e.Price*100 + 0.5)
}

// PricePoint is a single price-history sample.
type PricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// OrderLevel is one price level of an order book side.
type OrderLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBook is the CLOB book for a token.
type OrderBook struct {
	Bids []OrderLevel `json:"bids"`
	Asks []OrderLevel `json:"asks"`
}
