// Package llm provides a client for OpenAI-compatible chat completion APIs.
// It is used to match free text against market titles.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1"
	DefaultModel    = "gpt-4o-mini"

	// Titles beyond this are not sent in one prompt.
	maxTitles = 500
	// Most indices accepted from a single answer.
	maxMatches = 10
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("llm api key not configured")

// Client wraps the OpenAI SDK.
type Client struct {
	client *openai.Client
	model  string
}

// Config holds the configuration for the client.
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
}

// NewClient creates a new client. It returns nil when no API key is set so
// callers can treat the model as optional.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.Endpoint

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	JSONMode     bool
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	Content      string
	FinishReason string
	TokensUsed   TokenUsage
}

// TokenUsage represents token usage statistics.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chat sends a chat completion request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	messages := []openai.ChatCompletionMessage{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	log.Debug().
		Str("model", c.model).
		Int("messages", len(messages)).
		Bool("json_mode", req.JSONMode).
		Msg("Sending chat request")

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatJSON sends a chat request and parses the response as JSON.
func (c *Client) ChatJSON(ctx context.Context, req ChatRequest, result interface{}) error {
	req.JSONMode = true

	resp, err := c.Chat(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(resp.Content), result); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return nil
}

const matchSystemPrompt = `You match news headlines and social media posts to prediction markets.

Given a post and a numbered list of market titles, pick the markets whose outcome the post is directly about or would plausibly move.

RULES:
- Prefer specific matches (same country, person, conflict, or policy) over broad themes.
- Return at most 10 indices, most relevant first.
- Return an empty list when nothing is clearly related.

Respond ONLY with valid JSON: {"indices": [numbers]}`

type matchAnswer struct {
	Indices []int `json:"indices"`
}

// MatchMarkets asks the model which titles relate to text. The returned
// indices refer to titles; out-of-range and repeated ones are removed.
func (c *Client) MatchMarkets(ctx context.Context, text string, titles []string) ([]int, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" || len(titles) == 0 {
		return nil, nil
	}
	if len(titles) > maxTitles {
		titles = titles[:maxTitles]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "POST:\n%s\n\nMARKETS:\n", text)
	for i, t := range titles {
		fmt.Fprintf(&sb, "%d. %s\n", i, t)
	}

	var answer matchAnswer
	err := c.ChatJSON(ctx, ChatRequest{
		SystemPrompt: matchSystemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  0,
		MaxTokens:    200,
	}, &answer)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(answer.Indices))
	indices := make([]int, 0, len(answer.Indices))
	for _, i := range answer.Indices {
		if i < 0 || i >= len(titles) || seen[i] {
			continue
		}
		seen[i] = true
		indices = append(indices, i)
		if len(indices) == maxMatches {
			break
		}
	}

	log.Debug().
		Int("titles", len(titles)).
		Int("matched", len(indices)).
		Msg("Model matched markets")

	return indices, nil
}
