// Package xfeed reads recent posts from a list of OSINT accounts on X through
// the v2 recent search API.
package xfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

const (
	// DefaultBaseURL is the X API v2 base URL.
	DefaultBaseURL = "https://api.twitter.com/2"

	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 15 * time.Second

	// Page size of a recent search, 10..100.
	DefaultMaxResults = 50
)

// DefaultAccounts are the followed OSINT handles.
var DefaultAccounts = []string{
	"@Osint613",
	"@sentdefender",
	"@IntelCrab",
	"@ve_osint",
	"@bellingcat",
	"@Aurora_Intel",
	"@christaborowski",
	"@RALee85",
	"@TheIntelLab",
}

// NotConfigured is the feed served when no bearer token is set.
func NotConfigured(accounts []string) models.SocialFeed {
	return models.SocialFeed{
		Configured:   false,
		Accounts:     accounts,
		Message:      "Twitter API not configured",
		Instructions: "To enable live X/OSINT feed, add Twitter API credentials (X_BEARER_TOKEN)",
	}
}

// Tweet is a post returned by the search API.
type Tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// URL returns the link to the tweet on X.
func (t Tweet) URL(handle string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, t.ID)
}

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type searchResponse struct {
	Data     []Tweet `json:"data"`
	Includes struct {
		Users []user `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

// Client is an X API client.
type Client struct {
	http       *resty.Client
	accounts   []string
	maxResults int
}

type clientOptions struct {
	baseURL    string
	timeout    time.Duration
	maxResults int
}

// Option configures the Client.
type Option func(*clientOptions)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithMaxResults sets the search page size.
func WithMaxResults(n int) Option {
	return func(o *clientOptions) {
		o.maxResults = n
	}
}

// NewClient creates a new X client for the given accounts.
func NewClient(bearerToken string, accounts []string, opts ...Option) *Client {
	o := clientOptions{
		baseURL:    DefaultBaseURL,
		timeout:    DefaultTimeout,
		maxResults: DefaultMaxResults,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(accounts) == 0 {
		accounts = DefaultAccounts
	}

	rc := resty.New().
		SetBaseURL(o.baseURL).
		SetTimeout(o.timeout).
		SetAuthToken(bearerToken).
		SetHeader("Accept", "application/json")

	return &Client{
		http:       rc,
		accounts:   accounts,
		maxResults: o.maxResults,
	}
}

// Accounts returns the followed handles.
func (c *Client) Accounts() []string {
	return c.accounts
}

// Query builds the search expression for the followed accounts.
func (c *Client) Query() string {
	froms := make([]string, 0, len(c.accounts))
	for _, a := range c.accounts {
		h := strings.TrimPrefix(strings.TrimSpace(a), "@")
		if h != "" {
			froms = append(froms, "from:"+h)
		}
	}
	return "(" + strings.Join(froms, " OR ") + ") -is:retweet"
}

// Search runs a recent search over the followed accounts and returns the
// posts newest first.
func (c *Client) Search(ctx context.Context) ([]models.SocialMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":        c.Query(),
			"max_results":  fmt.Sprintf("%d", c.maxResults),
			"tweet.fields": "created_at,author_id",
			"expansions":   "author_id",
			"user.fields":  "username,name",
		}).
		Get("/tweets/search/recent")

	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("API error: %d - %s", resp.StatusCode(), resp.String())
	}

	var result searchResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	handles := make(map[string]string, len(result.Includes.Users))
	for _, u := range result.Includes.Users {
		handles[u.ID] = u.Username
	}

	messages := make([]models.SocialMessage, 0, len(result.Data))
	for _, t := range result.Data {
		handle := handles[t.AuthorID]
		msg := models.SocialMessage{
			ID:        t.ID,
			Source:    "@" + handle,
			Text:      t.Text,
			Timestamp: t.CreatedAt.UnixMilli(),
		}
		if handle != "" {
			msg.Link = t.URL(handle)
		} else {
			msg.Source = t.AuthorID
		}
		messages = append(messages, msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp > messages[j].Timestamp
	})

	log.Debug().Int("posts", len(messages)).Msg("Fetched X posts")
	return messages, nil
}

// Feed returns the current feed.
func (c *Client) Feed(ctx context.Context) (models.SocialFeed, error) {
	messages, err := c.Search(ctx)
	if err != nil {
		return models.SocialFeed{}, err
	}
	return models.SocialFeed{
		Configured:    true,
		Authenticated: true,
		Messages:      messages,
		Accounts:      c.accounts,
	}, nil
}
