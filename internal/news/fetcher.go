// Package news fetches headlines from a fixed set of RSS feeds and merges
// them into one newest-first list.
package news

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

const (
	DefaultTimeout = 15 * time.Second

	ItemsPerFeed = 10
	MaxPerSource = 4
	MaxItems     = 100

	// Concurrent feed requests.
	maxParallel = 8
)

// ErrAllFeedsFailed is returned when not a single feed could be read.
var ErrAllFeedsFailed = errors.New("all news feeds failed")

// Feed is a named RSS source.
type Feed struct {
	Name string
	URL  string
}

// DefaultFeeds covers wires, regional desks, defense and OSINT outlets.
var DefaultFeeds = []Feed{
	// Wires
	{Name: "Google World", URL: "https://news.google.com/rss/topics/CAAqJggKIiBDQkFTRWdvSUwyMHZNRGx1YlY4U0FtVnVHZ0pWVXlnQVAB?hl=en-US&gl=US&ceid=US:en"},
	{Name: "Google US", URL: "https://news.google.com/rss/topics/CAAqIggKIhxDQkFTRHdvSkwyMHZNRGxqTjNjd0VnSmxiaWdBUAE?hl=en-US&gl=US&ceid=US:en"},
	{Name: "BBC World", URL: "https://feeds.bbci.co.uk/news/world/rss.xml"},
	{Name: "NPR World", URL: "https://feeds.npr.org/1004/rss.xml"},

	// US politics
	{Name: "Axios", URL: "https://api.axios.com/feed/"},
	{Name: "ABC News", URL: "https://abcnews.go.com/abcnews/topstories"},
	{Name: "The Hill", URL: "https://thehill.com/feed/"},

	// Middle East
	{Name: "Times of Israel", URL: "https://www.timesofisrael.com/feed/"},
	{Name: "Al Jazeera", URL: "https://www.aljazeera.com/xml/rss/all.xml"},

	// Ukraine, Russia, Europe
	{Name: "Ukr Pravda", URL: "https://www.pravda.com.ua/eng/rss/"},
	{Name: "Moscow Times", URL: "https://www.themoscowtimes.com/rss/news"},
	{Name: "EUROPP (LSE)", URL: "https://blogs.lse.ac.uk/europpblog/feed/"},
	{Name: "DW Europe", URL: "https://rss.dw.com/xml/rss-en-eu"},

	// Iran
	{Name: "Iran Intl", URL: "https://www.iranintl.com/en/feed"},

	// Asia-Pacific
	{Name: "Yonhap Korea", URL: "https://en.yna.co.kr/RSS/news.xml"},
	{Name: "SCMP Asia", URL: "https://www.scmp.com/rss/91/feed"},
	{Name: "Nikkei Asia", URL: "https://asia.nikkei.com/rss/feed/nar"},
	{Name: "NHK Japan", URL: "https://www3.nhk.or.jp/rss/news/cat0.xml"},

	// Latin America
	{Name: "Caracas Chron", URL: "https://www.caracaschronicles.com/feed/"},

	// Defense
	{Name: "Defense One", URL: "https://www.defenseone.com/rss/all/"},
	{Name: "War on Rocks", URL: "https://warontherocks.com/feed/"},
	{Name: "Breaking Defense", URL: "https://breakingdefense.com/feed/"},

	// Analysis
	{Name: "Foreign Policy", URL: "https://foreignpolicy.com/feed/"},

	// OSINT
	{Name: "Bellingcat", URL: "https://www.bellingcat.com/feed/"},
}

// Fetcher reads all feeds in parallel.
type Fetcher struct {
	feeds      []Feed
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithFeeds replaces the feed list.
func WithFeeds(feeds []Feed) Option {
	return func(f *Fetcher) {
		f.feeds = feeds
	}
}

// WithHTTPClient sets the HTTP client used for feed requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithClock overrides the time source used for clamping.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// NewFetcher creates a fetcher over DefaultFeeds.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		feeds:      DefaultFeeds,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Feeds returns the configured sources.
func (f *Fetcher) Feeds() []Feed {
	return f.feeds
}

// Fetch reads every feed. A failing feed contributes nothing; the call
// fails only when every feed failed.
func (f *Fetcher) Fetch(ctx context.Context) ([]models.NewsItem, error) {
	var (
		mu      sync.Mutex
		batches = make([][]models.NewsItem, len(f.feeds))
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, feed := range f.feeds {
		i, feed := i, feed
		g.Go(func() error {
			items, err := f.fetchFeed(gctx, feed)
			if err != nil {
				log.Warn().Err(err).Str("feed", feed.Name).Msg("RSS feed failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			batches[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if len(f.feeds) > 0 && failed == len(f.feeds) {
		return nil, ErrAllFeedsFailed
	}

	merged := Merge(batches, f.now(), MaxPerSource, MaxItems)
	log.Debug().
		Int("feeds", len(f.feeds)).
		Int("failed", failed).
		Int("items", len(merged)).
		Msg("Fetched news")

	return merged, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed Feed) ([]models.NewsItem, error) {
	parser := gofeed.NewParser()
	parser.Client = f.httpClient

	parsed, err := parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, err
	}

	n := len(parsed.Items)
	if n > ItemsPerFeed {
		n = ItemsPerFeed
	}

	items := make([]models.NewsItem, 0, n)
	for _, it := range parsed.Items[:n] {
		if it == nil {
			continue
		}
		items = append(items, models.NewsItem{
			Source:    feed.Name,
			Title:     strings.TrimSpace(it.Title),
			Link:      it.Link,
			PubDate:   it.Published,
			Timestamp: itemTimestamp(it),
		})
	}
	return items, nil
}

func itemTimestamp(it *gofeed.Item) int64 {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.UnixMilli()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.UnixMilli()
	default:
		return 0
	}
}

// Merge flattens per-feed batches, clamps future timestamps to now, sorts
// newest first, keeps at most perSource items per source and at most max
// items in total.
func Merge(batches [][]models.NewsItem, now time.Time, perSource, max int) []models.NewsItem {
	nowMs := now.UnixMilli()

	var all []models.NewsItem
	for _, b := range batches {
		for _, it := range b {
			if it.Timestamp > nowMs {
				it.Timestamp = nowMs
			}
			all = append(all, it)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp > all[j].Timestamp
	})

	counts := make(map[string]int)
	out := make([]models.NewsItem, 0, len(all))
	for _, it := range all {
		counts[it.Source]++
		if counts[it.Source] > perSource {
			continue
		}
		out = append(out, it)
		if len(out) == max {
			break
		}
	}
	return out
}
