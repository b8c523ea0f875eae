// Package polymarket provides a client for Polymarket's public APIs.
// Implements the Gamma API for events and the CLOB API for price history
// and order books.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

const (
	// API endpoints
	GammaAPIBase = "https://gamma-api.polymarket.com"
	CLOBAPIBase  = "https://clob.polymarket.com"

	DefaultTimeout = 15 * time.Second

	// Interval used when a chart request does not name one.
	DefaultInterval = "max"
)

// Client provides access to Polymarket APIs.
type Client struct {
	gamma *resty.Client
	clob  *resty.Client
}

type clientOptions struct {
	gammaURL   string
	clobURL    string
	timeout    time.Duration
	retryCount int
}

// Option configures the Client.
type Option func(*clientOptions)

// WithGammaURL overrides the Gamma API base URL.
func WithGammaURL(u string) Option {
	return func(o *clientOptions) { o.gammaURL = u }
}

// WithCLOBURL overrides the CLOB API base URL.
func WithCLOBURL(u string) Option {
	return func(o *clientOptions) { o.clobURL = u }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithRetryCount sets how many times a failed request is retried.
func WithRetryCount(n int) Option {
	return func(o *clientOptions) { o.retryCount = n }
}

// NewClient creates a new Polymarket client.
func NewClient(opts ...Option) *Client {
	o := clientOptions{
		gammaURL:   GammaAPIBase,
		clobURL:    CLOBAPIBase,
		timeout:    DefaultTimeout,
		retryCount: 3,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		gamma: resty.New().
			SetBaseURL(o.gammaURL).
			SetTimeout(o.timeout).
			SetRetryCount(o.retryCount).
			SetRetryWaitTime(1 * time.Second),
		clob: resty.New().
			SetBaseURL(o.clobURL).
			SetTimeout(o.timeout).
			SetRetryCount(o.retryCount).
			SetRetryWaitTime(1 * time.Second),
	}
}

// JSONStringArray handles fields that come as JSON-encoded strings.
// Malformed content decodes to an empty array instead of failing the
// enclosing payload.
type JSONStringArray []string

func (j *JSONStringArray) UnmarshalJSON(data []byte) error {
	*j = nil

	// Try to unmarshal as a regular array first
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*j = arr
		return nil
	}

	// Then as a string containing a JSON array
	var str string
	if err := json.Unmarshal(data, &str); err != nil || str == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(str), &arr); err != nil {
		// Arrays of numbers show up for outcomePrices on some markets.
		var nums []float64
		if err := json.Unmarshal([]byte(str), &nums); err != nil {
			return nil
		}
		arr = make([]string, len(nums))
		for i, n := range nums {
			arr[i] = strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	*j = arr
	return nil
}

// First returns the first element, if any.
func (j JSONStringArray) First() (string, bool) {
	if len(j) == 0 || j[0] == "" {
		return "", false
	}
	return j[0], true
}

// Number is a float that also accepts quoted numbers. Anything else
// decodes to zero.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = 0

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = Number(f)
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return nil
	}
	*n = Number(ParseFloat(str))
	return nil
}

// ParseFloat parses a numeric string. Unparseable and non-finite values
// ("NaN", "Inf") are 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Market is a single outcome market inside an event.
type Market struct {
	ID                 string          `json:"id"`
	Question           string          `json:"question"`
	ConditionID        string          `json:"conditionId"`
	Slug               string          `json:"slug"`
	Description        string          `json:"description,omitempty"`
	EndDate            string          `json:"endDate,omitempty"`
	GroupItemTitle     string          `json:"groupItemTitle"`
	Outcomes           JSONStringArray `json:"outcomes"`
	OutcomePrices      JSONStringArray `json:"outcomePrices"`
	ClobTokenIds       JSONStringArray `json:"clobTokenIds"`
	LastTradePrice     Number          `json:"lastTradePrice"`
	OneWeekPriceChange Number          `json:"oneWeekPriceChange"`
	Volume             string          `json:"volume"`
	VolumeNum          Number          `json:"volumeNum"`
	Volume24hr         Number          `json:"volume24hr"`
	Active             bool            `json:"active"`
	Closed             bool            `json:"closed"`
}

// Open reports whether the market is still trading.
func (m Market) Open() bool {
	return m.Active && !m.Closed
}

// Event represents a group of related markets. The trailing fields are
// computed by the terminal before the event is served.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	Image       string   `json:"image,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Active      bool     `json:"active"`
	Closed      bool     `json:"closed"`
	Archived    bool     `json:"archived"`
	Liquidity   float64  `json:"liquidity"`
	Volume      float64  `json:"volume"`
	Volume24hr  float64  `json:"volume24hr"`
	Markets     []Market `json:"markets"`
	Tags        []Tag    `json:"tags"`

	VolumeRatio          float64 `json:"volumeRatio"`
	MaxPriceChange       float64 `json:"maxPriceChange"`
	PriceChangeDirection float64 `json:"priceChangeDirection"`
}

// TagSlugs returns the lowercased slug (or label when the slug is empty)
// of every tag on the event.
func (e Event) TagSlugs() []string {
	out := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		s := t.Slug
		if s == "" {
			s = t.Label
		}
		if s = strings.ToLower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Text returns the lowercased title and description used for keyword
// matching.
func (e Event) Text() string {
	return strings.ToLower(e.Title + " " + e.Description)
}

// Tag represents a category tag.
type Tag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// EventFilters represents filters for event queries.
type EventFilters struct {
	Active    *bool
	Closed    *bool
	Archived  *bool
	Limit     int
	Offset    int
	Order     string
	Ascending bool
	TagSlug   string
}

// GetEvents retrieves events from Gamma API.
func (c *Client) GetEvents(ctx context.Context, filters EventFilters) ([]Event, error) {
	params := url.Values{}

	if filters.Active != nil {
		params.Set("active", strconv.FormatBool(*filters.Active))
	}
	if filters.Closed != nil {
		params.Set("closed", strconv.FormatBool(*filters.Closed))
	}
	if filters.Archived != nil {
		params.Set("archived", strconv.FormatBool(*filters.Archived))
	}
	if filters.Limit > 0 {
		params.Set("limit", strconv.Itoa(filters.Limit))
	}
	if filters.Offset > 0 {
		params.Set("offset", strconv.Itoa(filters.Offset))
	}
	// Polymarket API defaults to ascending=true when ordering
	if filters.Order != "" {
		params.Set("order", filters.Order)
		params.Set("ascending", strconv.FormatBool(filters.Ascending))
	}
	if filters.TagSlug != "" {
		params.Set("tag_slug", filters.TagSlug)
	}

	log.Debug().
		Str("endpoint", "/events").
		Str("params", params.Encode()).
		Msg("Fetching events from Gamma API")

	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get("/events")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("events API returned %d: %s", resp.StatusCode(), resp.String())
	}

	var events []Event
	if err := json.Unmarshal(resp.Body(), &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	log.Debug().
		Int("count", len(events)).
		Msg("Fetched events")

	return events, nil
}

// GetOpenEventsByVolume retrieves the largest open events, highest lifetime
// volume first.
func (c *Client) GetOpenEventsByVolume(ctx context.Context, limit int) ([]Event, error) {
	closed := false

	return c.GetEvents(ctx, EventFilters{
		Closed:    &closed,
		Limit:     limit,
		Order:     "volume",
		Ascending: false,
	})
}

// Fidelity returns the sample resolution, in minutes, for a chart interval.
func Fidelity(interval string) int {
	switch interval {
	case "1h":
		return 1
	case "6h":
		return 5
	case "1d":
		return 15
	default:
		return 60
	}
}

// GetPriceHistory retrieves the price history of an outcome token.
func (c *Client) GetPriceHistory(ctx context.Context, tokenID, interval string) ([]models.PricePoint, error) {
	if interval == "" {
		interval = DefaultInterval
	}

	params := url.Values{}
	params.Set("market", tokenID)
	params.Set("interval", interval)
	params.Set("fidelity", strconv.Itoa(Fidelity(interval)))

	log.Debug().
		Str("endpoint", "/prices-history").
		Str("params", params.Encode()).
		Msg("Fetching price history from CLOB API")

	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get("/prices-history")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch price history: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("prices-history API returned %d: %s", resp.StatusCode(), resp.String())
	}

	var body struct {
		History []models.PricePoint `json:"history"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to parse price history: %w", err)
	}

	return body.History, nil
}

// GetOrderBook retrieves the order book of an outcome token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*models.OrderBook, error) {
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		Get("/book")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch order book: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("book API returned %d: %s", resp.StatusCode(), resp.String())
	}

	var book models.OrderBook
	if err := json.Unmarshal(resp.Body(), &book); err != nil {
		return nil, fmt.Errorf("failed to parse order book: %w", err)
	}
	if book.Bids == nil {
		book.Bids = []models.OrderLevel{}
	}
	if book.Asks == nil {
		book.Asks = []models.OrderLevel{}
	}

	return &book, nil
}
