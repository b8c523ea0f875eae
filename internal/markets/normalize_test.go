package markets

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
	"github.com/scott-c-hughes/polymarket-terminal/internal/polymarket"
)

var fixedNow = time.Date(2025, time.February, 10, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return &Normalizer{DateSeriesRatio: DefaultDateSeriesRatio, Now: func() time.Time { return fixedNow }}
}

// decodeEvent goes through the real JSON boundary so the JSON-in-JSON
// fields are exercised the way they arrive from the API.
func decodeEvent(t *testing.T, raw string) polymarket.Event {
	t.Helper()
	var e polymarket.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	return e
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"March 31", time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC), true},
		{"june 30, 2026", time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC), true},
		{"By December 31 2025", time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), true},
		{"Dec 15", time.Date(2025, time.December, 15, 0, 0, 0, 0, time.UTC), true},
		{"Sept 1", time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC), true},
		{"Donald Trump", time.Time{}, false},
		{"Q3 2025", time.Time{}, false},
		{"March 0", time.Time{}, false},
		{"February 31", time.Time{}, false},
		{"April 31", time.Time{}, false},
		{"February 29, 2025", time.Time{}, false},
		{"February 29, 2028", time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in, fixedNow)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestNormalize_SingleMarketIsBinary(t *testing.T) {
	e := decodeEvent(t, `{
		"id": "1", "title": "Will the Fed cut in March?", "slug": "fed-march", "volume": 1200000,
		"markets": [{"id": "m1", "groupItemTitle": "March 31", "outcomePrices": "[\"0.31\",\"0.69\"]", "clobTokenIds": "[\"tok-yes\",\"tok-no\"]"}]
	}`)

	p := testNormalizer().Normalize(e)

	assert.Equal(t, models.EventBinary, p.EventType)
	assert.InDelta(t, 0.31, p.Price, 1e-9)
	require.NotNil(t, p.TokenID)
	assert.Equal(t, "tok-yes", *p.TokenID)
	assert.Equal(t, 1200000.0, p.Volume)
	assert.Empty(t, p.DateMarkets)
	assert.Empty(t, p.Choices)
}

func TestNormalize_FewerThanTwoTitledIsBinary(t *testing.T) {
	e := decodeEvent(t, `{"id": "2", "markets": [
		{"id": "a", "groupItemTitle": "Yes side", "lastTradePrice": 0.42},
		{"id": "b", "groupItemTitle": ""}
	]}`)

	p := testNormalizer().Normalize(e)
	assert.Equal(t, models.EventBinary, p.EventType)
	assert.InDelta(t, 0.42, p.Price, 1e-9)
}

func TestNormalize_DateSeriesSortedAscending(t *testing.T) {
	e := decodeEvent(t, `{"id": "3", "title": "Ceasefire by...?", "markets": [
		{"id": "c", "groupItemTitle": "December 31", "lastTradePrice": 0.55, "clobTokenIds": "[\"t-dec\"]"},
		{"id": "a", "groupItemTitle": "March 31", "lastTradePrice": 0.12, "clobTokenIds": "[\"t-mar\"]"},
		{"id": "b", "groupItemTitle": "June 30", "lastTradePrice": 0.3, "clobTokenIds": "[\"t-jun\"]"},
		{"id": "x", "groupItemTitle": "Never", "lastTradePrice": 0.9}
	]}`)

	p := testNormalizer().Normalize(e)

	require.Equal(t, models.EventDateSeries, p.EventType)
	require.Len(t, p.DateMarkets, 3, "unparseable titles are dropped")
	for i := 1; i < len(p.DateMarkets); i++ {
		assert.True(t, p.DateMarkets[i-1].Date.Before(p.DateMarkets[i].Date))
	}
	assert.Equal(t, "March 31", p.DateMarkets[0].Title)
	assert.InDelta(t, 0.12, p.Price, 1e-9)
	require.NotNil(t, p.TokenID)
	assert.Equal(t, "t-mar", *p.TokenID)
}

func TestNormalize_HalfDatesIsDateSeries(t *testing.T) {
	e := decodeEvent(t, `{"id": "4", "markets": [
		{"id": "a", "groupItemTitle": "April 30"},
		{"id": "b", "groupItemTitle": "Someone"}
	]}`)

	assert.Equal(t, models.EventDateSeries, testNormalizer().Classify(e))
}

func TestNormalize_MultipleChoiceSortedByPrice(t *testing.T) {
	e := decodeEvent(t, `{"id": "5", "title": "Next Prime Minister", "markets": [
		{"id": "a", "groupItemTitle": "Alice", "outcomePrices": "[\"0.2\",\"0.8\"]", "volumeNum": 5000},
		{"id": "b", "groupItemTitle": "Bob", "lastTradePrice": 0.65, "volume": "12000.5"},
		{"id": "c", "groupItemTitle": "Carol", "outcomePrices": "[\"0.1\",\"0.9\"]", "clobTokenIds": "[\"t-carol\"]"}
	]}`)

	p := testNormalizer().Normalize(e)

	require.Equal(t, models.EventMultipleChoice, p.EventType)
	require.Len(t, p.Choices, 3)
	assert.Equal(t, []string{"Bob", "Alice", "Carol"}, []string{p.Choices[0].Title, p.Choices[1].Title, p.Choices[2].Title})
	assert.InDelta(t, 12000.5, p.Choices[0].Volume, 1e-9)
	assert.InDelta(t, 5000, p.Choices[1].Volume, 1e-9)
	assert.InDelta(t, 0.65, p.Price, 1e-9)
	assert.Nil(t, p.Choices[0].TokenID)
}

func TestNormalize_MalformedFieldsDefault(t *testing.T) {
	raws := []string{
		`{"id": "6", "markets": [{"id": "a", "outcomePrices": "not json", "clobTokenIds": "[broken"}]}`,
		`{"id": "7", "markets": [{"id": "a", "outcomePrices": "[\"abc\"]", "clobTokenIds": ""}]}`,
		`{"id": "8", "markets": [{"id": "a", "outcomePrices": 42, "clobTokenIds": {"x": 1}}]}`,
		`{"id": "9", "markets": [{"id": "a", "outcomePrices": "[]", "clobTokenIds": "[]"}]}`,
		`{"id": "10", "markets": [{"id": "a", "lastTradePrice": "oops"}]}`,
		`{"id": "11", "markets": []}`,
		`{"id": "12"}`,
	}

	n := testNormalizer()
	for _, raw := range raws {
		e := decodeEvent(t, raw)
		assert.NotPanics(t, func() {
			p := n.Normalize(e)
			assert.Equal(t, models.EventBinary, p.EventType)
			assert.Equal(t, 0.0, p.Price)
			assert.Nil(t, p.TokenID)
		}, raw)
	}
}

func TestNormalize_NonFiniteValuesDefault(t *testing.T) {
	raws := []string{
		`{"id": "20", "markets": [{"id": "a", "outcomePrices": "[\"NaN\", \"NaN\"]", "volume": "NaN"}]}`,
		`{"id": "21", "markets": [{"id": "a", "outcomePrices": "[\"Infinity\"]"}]}`,
		`{"id": "22", "markets": [{"id": "a", "lastTradePrice": "NaN", "volume": "-Inf"}]}`,
	}

	n := testNormalizer()
	for _, raw := range raws {
		p := n.Normalize(decodeEvent(t, raw))
		_, err := json.Marshal(p)
		require.NoError(t, err, raw)
		assert.Equal(t, 0, p.Probability(), raw)
	}

	fallback := n.Normalize(decodeEvent(t, `{"id": "23", "markets": [{"id": "a", "lastTradePrice": "+Inf", "outcomePrices": "[\"0.4\"]"}]}`))
	assert.Equal(t, 0.4, fallback.Price)

	mixed := decodeEvent(t, `{"id": "24", "markets": [
		{"id": "a", "groupItemTitle": "Alice", "outcomePrices": "[\"NaN\"]"},
		{"id": "b", "groupItemTitle": "Bob", "lastTradePrice": 0.3}
	]}`)
	p := n.Normalize(mixed)
	require.Len(t, p.Choices, 2)
	assert.Equal(t, "Bob", p.Choices[0].Title)
	assert.Equal(t, 0.0, p.Choices[1].Price)
}

func TestNormalize_NumericOutcomePrices(t *testing.T) {
	e := decodeEvent(t, `{"id": "13", "markets": [{"id": "a", "outcomePrices": "[0.73, 0.27]"}]}`)

	assert.InDelta(t, 0.73, testNormalizer().Normalize(e).Price, 1e-9)
}

func TestNormalize_Deterministic(t *testing.T) {
	e := decodeEvent(t, `{"id": "14", "markets": [
		{"id": "a", "groupItemTitle": "Alice", "lastTradePrice": 0.5},
		{"id": "b", "groupItemTitle": "Bob", "lastTradePrice": 0.5}
	]}`)

	n := testNormalizer()
	first := n.Normalize(e)
	second := n.Normalize(e)
	assert.Equal(t, first, second)
	assert.Equal(t, "Alice", first.Choices[0].Title, "ties keep upstream order")
}

func TestProbability(t *testing.T) {
	assert.Equal(t, 65, models.ProcessedEvent{Price: 0.645}.Probability())
	assert.Equal(t, 0, models.ProcessedEvent{}.Probability())
}
