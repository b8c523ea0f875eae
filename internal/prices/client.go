// Package prices fetches the cross-asset ticker: equities, volatility, the
// dollar index and commodities from Yahoo Finance, bitcoin from CoinGecko.
package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

const (
	YahooAPIBase     = "https://query1.finance.yahoo.com"
	CoinGeckoAPIBase = "https://api.coingecko.com/api/v3"
	DefaultTimeout   = 15 * time.Second

	userAgent = "Mozilla/5.0 (compatible; polyterminal/1.0)"
)

// ErrAllQuotesFailed is returned when no symbol could be fetched.
var ErrAllQuotesFailed = errors.New("all price sources failed")

// Yahoo symbols by ticker key.
var yahooSymbols = map[string]string{
	"SPY":  "SPY",
	"VIX":  "^VIX",
	"DXY":  "DX-Y.NYB",
	"GOLD": "GC=F",
	"OIL":  "CL=F",
}

// Client fetches quotes.
type Client struct {
	yahoo     *resty.Client
	coingecko *resty.Client
	now       func() time.Time
}

type clientOptions struct {
	yahooURL     string
	coingeckoURL string
	timeout      time.Duration
	now          func() time.Time
}

// Option configures a Client.
type Option func(*clientOptions)

// WithYahooURL overrides the Yahoo Finance base URL.
func WithYahooURL(u string) Option {
	return func(o *clientOptions) {
		o.yahooURL = u
	}
}

// WithCoinGeckoURL overrides the CoinGecko base URL.
func WithCoinGeckoURL(u string) Option {
	return func(o *clientOptions) {
		o.coingeckoURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithClock overrides the time source for the payload timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// NewClient creates a new prices client.
func NewClient(opts ...Option) *Client {
	o := clientOptions{
		yahooURL:     YahooAPIBase,
		coingeckoURL: CoinGeckoAPIBase,
		timeout:      DefaultTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	newResty := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(o.timeout).
			SetHeader("User-Agent", userAgent).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond)
	}

	return &Client{
		yahoo:     newResty(o.yahooURL),
		coingecko: newResty(o.coingeckoURL),
		now:       o.now,
	}
}

// Fetch loads every quote in parallel. A failed symbol is left nil.
func (c *Client) Fetch(ctx context.Context) (*models.Prices, error) {
	out := &models.Prices{Timestamp: c.now().UnixMilli()}

	slots := map[string]**models.Quote{
		"SPY":  &out.SPY,
		"VIX":  &out.VIX,
		"DXY":  &out.DXY,
		"GOLD": &out.GOLD,
		"OIL":  &out.OIL,
	}

	g, gctx := errgroup.WithContext(ctx)

	for key, dst := range slots {
		dst := dst
		symbol := yahooSymbols[key]
		g.Go(func() error {
			q, err := c.GetYahooQuote(gctx, symbol)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed")
				return nil
			}
			*dst = q
			return nil
		})
	}

	g.Go(func() error {
		q, err := c.GetBitcoinQuote(gctx)
		if err != nil {
			log.Warn().Err(err).Msg("Bitcoin quote fetch failed")
			return nil
		}
		out.BTC = q
		return nil
	})

	_ = g.Wait()

	if out.SPY == nil && out.VIX == nil && out.DXY == nil && out.GOLD == nil && out.OIL == nil && out.BTC == nil {
		return nil, ErrAllQuotesFailed
	}
	return out, nil
}

// ====== Yahoo Finance ======

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// GetYahooQuote fetches a two-day daily chart and derives price and change.
func (c *Client) GetYahooQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	resp, err := c.yahoo.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParam("interval", "1d").
		SetQueryParam("range", "2d").
		Get("/v8/finance/chart/{symbol}")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", symbol, err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var chart yahooChartResponse
	if err := json.Unmarshal(resp.Body(), &chart); err != nil {
		return nil, fmt.Errorf("failed to parse chart: %w", err)
	}

	q, ok := parseYahoo(chart)
	if !ok {
		return nil, fmt.Errorf("no quote data for %s", symbol)
	}
	return q, nil
}

// parseYahoo prefers the meta fields and falls back to the close series:
// price is the last close, the previous close is the one before it, then
// the price itself.
func parseYahoo(chart yahooChartResponse) (*models.Quote, bool) {
	if len(chart.Chart.Result) == 0 {
		return nil, false
	}
	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, false
	}

	var closes []float64
	for _, c := range result.Indicators.Quote[0].Close {
		if c != nil {
			closes = append(closes, *c)
		}
	}

	price := result.Meta.RegularMarketPrice
	if price == 0 && len(closes) > 0 {
		price = closes[len(closes)-1]
	}

	prev := result.Meta.PreviousClose
	if prev == 0 && len(closes) > 1 {
		prev = closes[len(closes)-2]
	}
	if prev == 0 {
		prev = price
	}

	var change float64
	if prev != 0 {
		change = (price - prev) / prev * 100
	}

	return &models.Quote{Price: price, Change: change}, true
}

// ====== CoinGecko ======

type coinGeckoResponse struct {
	Bitcoin *struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
	} `json:"bitcoin"`
}

// GetBitcoinQuote fetches the BTC/USD spot price with its 24h change.
func (c *Client) GetBitcoinQuote(ctx context.Context) (*models.Quote, error) {
	resp, err := c.coingecko.R().
		SetContext(ctx).
		SetQueryParam("ids", "bitcoin").
		SetQueryParam("vs_currencies", "usd").
		SetQueryParam("include_24hr_change", "true").
		Get("/simple/price")

	if err != nil {
		return nil, fmt.Errorf("failed to fetch bitcoin price: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var data coinGeckoResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, fmt.Errorf("failed to parse bitcoin price: %w", err)
	}
	if data.Bitcoin == nil {
		return nil, fmt.Errorf("no bitcoin quote in response")
	}

	return &models.Quote{Price: data.Bitcoin.USD, Change: data.Bitcoin.USD24hChange}, nil
}
