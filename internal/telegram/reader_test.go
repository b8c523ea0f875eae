package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Test Helpers ==========

type botServer struct {
	mu      sync.Mutex
	batches []string
	offsets []string
}

func (b *botServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Terminal","username":"terminal_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			require.NoError(t, r.ParseForm())
			b.mu.Lock()
			b.offsets = append(b.offsets, r.FormValue("offset"))
			body := `[]`
			if len(b.batches) > 0 {
				body, b.batches = b.batches[0], b.batches[1:]
			}
			b.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":` + body + `}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}
}

func newTestReader(t *testing.T, b *botServer, channels []string) *Reader {
	t.Helper()
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	r, err := NewReader("TOKEN", channels, WithAPIEndpoint(srv.URL+"/bot%s/%s"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return r
}

const firstBatch = `[
	{"update_id": 10, "channel_post": {"message_id": 5, "date": 1717243200,
		"chat": {"id": -1001, "type": "channel", "title": "Sent Defender", "username": "sentdefender"},
		"text": "Explosions reported in Kharkiv"}},
	{"update_id": 11, "channel_post": {"message_id": 9, "date": 1717243300,
		"chat": {"id": -1002, "type": "channel", "title": "Random", "username": "random_memes"},
		"text": "not followed"}},
	{"update_id": 12, "channel_post": {"message_id": 6, "date": 1717243400,
		"chat": {"id": -1001, "type": "channel", "title": "Sent Defender", "username": "sentdefender"},
		"caption": "Photo: Red Sea tanker"}},
	{"update_id": 13, "message": {"message_id": 1, "date": 1717243500,
		"chat": {"id": 42, "type": "private"}, "text": "hi bot"}}
]`

// ========== Tests ==========

func TestReader_PollsChannelPosts(t *testing.T) {
	b := &botServer{batches: []string{firstBatch}}
	r := newTestReader(t, b, []string{"@SentDefender", "", "sentdefender"})

	assert.Equal(t, []string{"sentdefender"}, r.Channels())

	feed, err := r.Feed(context.Background())
	require.NoError(t, err)

	assert.True(t, feed.Configured)
	assert.True(t, feed.Authenticated)
	assert.Equal(t, []string{"@sentdefender"}, feed.Channels)
	require.Len(t, feed.Messages, 2)

	newest := feed.Messages[0]
	assert.Equal(t, "Photo: Red Sea tanker", newest.Text, "caption used when there is no text")
	assert.Equal(t, "Sent Defender", newest.Source)
	assert.Equal(t, "https://t.me/sentdefender/6", newest.Link)
	assert.Equal(t, int64(1717243400000), newest.Timestamp)
	assert.Equal(t, "-1001-6", newest.ID)
}

func TestReader_AdvancesOffsetAndKeepsBuffer(t *testing.T) {
	edited := `[{"update_id": 14, "edited_channel_post": {"message_id": 5, "date": 1717243200,
		"chat": {"id": -1001, "type": "channel", "title": "Sent Defender", "username": "sentdefender"},
		"text": "Explosions reported in Kharkiv (updated)"}}]`
	b := &botServer{batches: []string{firstBatch, edited}}
	r := newTestReader(t, b, []string{"sentdefender"})
	ctx := context.Background()

	n, err := r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b.mu.Lock()
	assert.Equal(t, []string{"", "14"}, b.offsets, "zero offset is omitted")
	b.mu.Unlock()

	msgs := r.Messages(0)
	require.Len(t, msgs, 2, "edited post replaced in place")
	assert.Equal(t, "Explosions reported in Kharkiv (updated)", msgs[1].Text)
}

func TestReader_EmptyChannelListFollowsDefaults(t *testing.T) {
	b := &botServer{batches: []string{firstBatch}}
	r := newTestReader(t, b, nil)

	assert.Equal(t, DefaultChannels, r.Channels())

	_, err := r.Poll(context.Background())
	require.NoError(t, err)
	msgs := r.Messages(0)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "Sent Defender", m.Source)
	}
}

func TestReader_CancelledContext(t *testing.T) {
	r := newTestReader(t, &botServer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Feed(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReader_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewReader("BAD", nil, WithAPIEndpoint(srv.URL+"/bot%s/%s"), WithHTTPClient(srv.Client()))
	assert.Error(t, err)
}

func TestNotConfigured(t *testing.T) {
	feed := NotConfigured([]string{"sentdefender", "@intelslava"})

	assert.False(t, feed.Configured)
	assert.Equal(t, []string{"@sentdefender", "@intelslava"}, feed.Channels)
	assert.Equal(t, "Telegram API not configured", feed.Message)
	assert.NotEmpty(t, feed.Instructions)
}
