package models

// NewsItem is a headline from an RSS feed.
type NewsItem struct {
	Source    string `json:"source"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	PubDate   string `json:"pubDate"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Quote is a spot price with its daily change in percent.
type Quote struct {
	Price  float64 `json:"price"`
	Change float64 `json:"change"`
}

// Prices is the cross-asset ticker. A nil quote means the source failed.
type Prices struct {
	SPY       *Quote `json:"SPY"`
	VIX       *Quote `json:"VIX"`
	DXY       *Quote `json:"DXY"`
	GOLD      *Quote `json:"GOLD"`
	OIL       *Quote `json:"OIL"`
	BTC       *Quote `json:"BTC"`
	Timestamp int64  `json:"timestamp"`
}

// SocialMessage is a post from a Telegram channel or an X account.
type SocialMessage struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Text      string `json:"text"`
	Link      string `json:"link,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// SocialFeed is the payload of the Telegram and X endpoints. When the
// source has no credentials Configured is false and Message/Instructions
// explain how to enable it.
type SocialFeed struct {
	Configured    bool            `json:"configured"`
	Authenticated bool            `json:"authenticated,omitempty"`
	Messages      []SocialMessage `json:"messages,omitempty"`
	Channels      []string        `json:"channels,omitempty"`
	Accounts      []string        `json:"accounts,omitempty"`
	Message       string          `json:"message,omitempty"`
	Instructions  string          `json:"instructions,omitempty"`
	Error         string          `json:"error,omitempty"`
}
