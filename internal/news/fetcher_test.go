package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ========== Test Helpers ==========

func rss(title string, pubDates ...time.Time) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>` + title + `</title>`)
	for i, d := range pubDates {
		fmt.Fprintf(&sb, `<item><title> %s %d </title><link>https://example.com/%s/%d</link><pubDate>%s</pubDate></item>`,
			title, i, title, i, d.Format(time.RFC1123Z))
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

func hoursAgo(hs ...int) []time.Time {
	out := make([]time.Time, len(hs))
	for i, h := range hs {
		out[i] = testNow.Add(-time.Duration(h) * time.Hour)
	}
	return out
}

func feedServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ========== Fetch ==========

func TestFetch_MergesAndIsolatesFailures(t *testing.T) {
	srv := feedServer(t, map[string]string{
		"/a": rss("alpha", hoursAgo(1, 3)...),
		"/b": rss("beta", append(hoursAgo(2), testNow.Add(5*time.Hour))...),
	})

	f := NewFetcher(
		WithFeeds([]Feed{
			{Name: "Alpha", URL: srv.URL + "/a"},
			{Name: "Beta", URL: srv.URL + "/b"},
			{Name: "Broken", URL: srv.URL + "/broken"},
		}),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return testNow }),
	)

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "Beta", items[0].Source, "future item clamped to now sorts first")
	assert.Equal(t, testNow.UnixMilli(), items[0].Timestamp)
	assert.Equal(t, "Alpha", items[1].Source)
	assert.Equal(t, "alpha 0", items[1].Title, "titles are trimmed")
	assert.Equal(t, "Beta", items[2].Source)
	assert.Equal(t, "Alpha", items[3].Source)

	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Timestamp, items[i].Timestamp)
	}
}

func TestFetch_ItemsPerFeed(t *testing.T) {
	hs := make([]int, 15)
	for i := range hs {
		hs[i] = i + 1
	}
	srv := feedServer(t, map[string]string{"/a": rss("alpha", hoursAgo(hs...)...)})

	f := NewFetcher(
		WithFeeds([]Feed{{Name: "Alpha", URL: srv.URL + "/a"}}),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return testNow }),
	)

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, MaxPerSource)
}

func TestFetch_AllFeedsFailed(t *testing.T) {
	srv := feedServer(t, nil)

	f := NewFetcher(
		WithFeeds([]Feed{{Name: "A", URL: srv.URL + "/a"}, {Name: "B", URL: srv.URL + "/b"}}),
		WithHTTPClient(srv.Client()),
	)

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrAllFeedsFailed)
}

func TestDefaultFeeds(t *testing.T) {
	assert.Len(t, DefaultFeeds, 24)

	names := make(map[string]bool)
	for _, f := range DefaultFeeds {
		assert.False(t, names[f.Name], "duplicate feed %s", f.Name)
		names[f.Name] = true
		assert.True(t, strings.HasPrefix(f.URL, "https://"), f.URL)
	}
}

// ========== Merge ==========

func TestMerge_CapsPerSourceAndTotal(t *testing.T) {
	var batches [][]models.NewsItem
	for s := 0; s < 30; s++ {
		var b []models.NewsItem
		for i := 0; i < 10; i++ {
			b = append(b, models.NewsItem{
				Source:    fmt.Sprintf("src-%d", s),
				Timestamp: testNow.Add(-time.Duration(s*10+i) * time.Minute).UnixMilli(),
			})
		}
		batches = append(batches, b)
	}

	out := Merge(batches, testNow, MaxPerSource, MaxItems)
	assert.Len(t, out, MaxItems)

	counts := make(map[string]int)
	for _, it := range out {
		counts[it.Source]++
	}
	for src, n := range counts {
		assert.LessOrEqual(t, n, MaxPerSource, src)
	}
}

func TestMerge_ClampsFuture(t *testing.T) {
	out := Merge([][]models.NewsItem{{
		{Source: "a", Timestamp: testNow.Add(time.Hour).UnixMilli()},
		{Source: "a", Timestamp: 0},
	}}, testNow, 4, 100)

	require.Len(t, out, 2)
	assert.Equal(t, testNow.UnixMilli(), out[0].Timestamp)
	assert.Equal(t, int64(0), out[1].Timestamp)
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge(nil, testNow, 4, 100))
}
