package prices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func decodeChart(t *testing.T, raw string) yahooChartResponse {
	t.Helper()
	var c yahooChartResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestParseYahoo_MetaFields(t *testing.T) {
	q, ok := parseYahoo(decodeChart(t, `{"chart":{"result":[{
		"meta":{"regularMarketPrice":110,"previousClose":100},
		"indicators":{"quote":[{"close":[99,105]}]}}]}}`))
	require.True(t, ok)
	assert.Equal(t, 110.0, q.Price)
	assert.InDelta(t, 10.0, q.Change, 1e-9)
}

func TestParseYahoo_CloseFallbacks(t *testing.T) {
	q, ok := parseYahoo(decodeChart(t, `{"chart":{"result":[{
		"meta":{},
		"indicators":{"quote":[{"close":[80,null,100,null]}]}}]}}`))
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price, "last non-null close")
	assert.InDelta(t, 25.0, q.Change, 1e-9, "previous non-null close")
}

func TestParseYahoo_SingleCloseHasNoChange(t *testing.T) {
	q, ok := parseYahoo(decodeChart(t, `{"chart":{"result":[{
		"meta":{},
		"indicators":{"quote":[{"close":[42]}]}}]}}`))
	require.True(t, ok)
	assert.Equal(t, 42.0, q.Price)
	assert.Equal(t, 0.0, q.Change)
}

func TestParseYahoo_Missing(t *testing.T) {
	_, ok := parseYahoo(decodeChart(t, `{"chart":{"result":[]}}`))
	assert.False(t, ok)

	_, ok = parseYahoo(decodeChart(t, `{"chart":{"result":[{"meta":{"regularMarketPrice":1},"indicators":{"quote":[]}}]}}`))
	assert.False(t, ok)
}

func TestFetch(t *testing.T) {
	yahoo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "2d", r.URL.Query().Get("range"))

		if sym == "CL=F" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":200,"previousClose":100},"indicators":{"quote":[{"close":[100,200]}]}}]}}`))
	}))
	defer yahoo.Close()

	gecko := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000.5,"usd_24h_change":-1.25}}`))
	}))
	defer gecko.Close()

	c := NewClient(
		WithYahooURL(yahoo.URL),
		WithCoinGeckoURL(gecko.URL),
		WithTimeout(2*time.Second),
		WithClock(func() time.Time { return testNow }),
	)

	p, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.NotNil(t, p.SPY)
	assert.InDelta(t, 100.0, p.SPY.Change, 1e-9)
	require.NotNil(t, p.VIX)
	require.NotNil(t, p.DXY)
	require.NotNil(t, p.GOLD)
	assert.Nil(t, p.OIL, "a failed symbol is null, the rest survive")
	require.NotNil(t, p.BTC)
	assert.Equal(t, 65000.5, p.BTC.Price)
	assert.Equal(t, -1.25, p.BTC.Change)
	assert.Equal(t, testNow.UnixMilli(), p.Timestamp)
}

func TestFetch_AllFailed(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusNotFound)
	}))
	defer down.Close()

	c := NewClient(WithYahooURL(down.URL), WithCoinGeckoURL(down.URL), WithTimeout(time.Second))

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrAllQuotesFailed)
}

func TestGetBitcoinQuote_MissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithCoinGeckoURL(srv.URL)).GetBitcoinQuote(context.Background())
	assert.Error(t, err)
}
