// Package telegram reads posts from OSINT channels through the Telegram Bot
// API. The bot must be a member of each channel to receive its posts.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/models"
)

const (
	DefaultTimeout = 15 * time.Second

	// Posts kept in memory across polls.
	maxBuffered = 200
	// Posts returned per feed.
	DefaultLimit = 50
)

// DefaultChannels are followed when no channel list is configured.
var DefaultChannels = []string{
	"sentdefender",
	"intelslava",
	"warmonitors",
	"middle_east_spectator",
	"rnintel",
}

// NotConfigured is the feed served when no bot token is set.
func NotConfigured(channels []string) models.SocialFeed {
	return models.SocialFeed{
		Configured:   false,
		Channels:     Handles(channels),
		Message:      "Telegram API not configured",
		Instructions: "Create a bot with @BotFather, add it to the channels you want to follow, then set TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNELS",
	}
}

// Reader accumulates channel posts from getUpdates.
type Reader struct {
	bot      *tgbotapi.BotAPI
	channels []string
	allowed  map[string]bool

	mu     sync.Mutex
	offset int
	posts  []models.SocialMessage
}

type readerOptions struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Reader.
type Option func(*readerOptions)

// WithAPIEndpoint overrides the Bot API endpoint format.
func WithAPIEndpoint(endpoint string) Option {
	return func(o *readerOptions) {
		o.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *readerOptions) {
		o.httpClient = c
	}
}

// NewReader authenticates the bot. An empty channel list follows
// DefaultChannels.
func NewReader(token string, channels []string, opts ...Option) (*Reader, error) {
	o := readerOptions{
		endpoint:   tgbotapi.APIEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if len(channels) == 0 {
		channels = DefaultChannels
	}

	r := &Reader{bot: bot, allowed: make(map[string]bool)}
	for _, ch := range channels {
		ch = normalizeChannel(ch)
		if ch == "" || r.allowed[ch] {
			continue
		}
		r.allowed[ch] = true
		r.channels = append(r.channels, ch)
	}

	log.Info().Str("bot", bot.Self.UserName).Strs("channels", r.channels).Msg("Telegram reader ready")
	return r, nil
}

// Channels returns the followed channel usernames.
func (r *Reader) Channels() []string {
	return r.channels
}

// Poll pulls pending updates once and buffers new channel posts. It returns
// the number of posts added.
func (r *Reader) Poll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := tgbotapi.UpdateConfig{
		Offset:         r.offset,
		Limit:          100,
		Timeout:        0,
		AllowedUpdates: []string{"channel_post", "edited_channel_post"},
	}

	updates, err := r.bot.GetUpdates(cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to get updates: %w", err)
	}

	added := 0
	for _, u := range updates {
		if u.UpdateID >= r.offset {
			r.offset = u.UpdateID + 1
		}

		post := u.ChannelPost
		if post == nil {
			post = u.EditedChannelPost
		}
		if post == nil || post.Chat == nil {
			continue
		}

		msg, ok := r.toMessage(post)
		if !ok {
			continue
		}
		r.upsert(msg)
		added++
	}

	if len(r.posts) > maxBuffered {
		r.posts = r.posts[len(r.posts)-maxBuffered:]
	}

	log.Debug().Int("updates", len(updates)).Int("posts", added).Msg("Polled Telegram")
	return added, nil
}

func (r *Reader) toMessage(post *tgbotapi.Message) (models.SocialMessage, bool) {
	username := normalizeChannel(post.Chat.UserName)
	if !r.allowed[username] {
		return models.SocialMessage{}, false
	}

	text := post.Text
	if text == "" {
		text = post.Caption
	}
	if strings.TrimSpace(text) == "" {
		return models.SocialMessage{}, false
	}

	source := post.Chat.Title
	if source == "" {
		source = "@" + username
	}

	msg := models.SocialMessage{
		ID:        fmt.Sprintf("%d-%d", post.Chat.ID, post.MessageID),
		Source:    source,
		Text:      text,
		Timestamp: int64(post.Date) * 1000,
	}
	if username != "" {
		msg.Link = fmt.Sprintf("https://t.me/%s/%d", username, post.MessageID)
	}
	return msg, true
}

// upsert replaces an edited post in place or appends a new one.
func (r *Reader) upsert(msg models.SocialMessage) {
	for i := range r.posts {
		if r.posts[i].ID == msg.ID {
			r.posts[i] = msg
			return
		}
	}
	r.posts = append(r.posts, msg)
}

// Messages returns up to limit buffered posts, newest first.
func (r *Reader) Messages(limit int) []models.SocialMessage {
	r.mu.Lock()
	out := make([]models.SocialMessage, len(r.posts))
	copy(out, r.posts)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Feed polls and returns the current feed.
func (r *Reader) Feed(ctx context.Context) (models.SocialFeed, error) {
	if _, err := r.Poll(ctx); err != nil {
		return models.SocialFeed{}, err
	}
	return models.SocialFeed{
		Configured:    true,
		Authenticated: true,
		Messages:      r.Messages(DefaultLimit),
		Channels:      Handles(r.channels),
	}, nil
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "@"))
}

// Handles returns channel names in @handle form.
func Handles(channels []string) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if !strings.HasPrefix(ch, "@") {
			ch = "@" + ch
		}
		out = append(out, ch)
	}
	return out
}
