package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyCompletion is returned when the model answers with no choices
	ErrEmptyCompletion = errors.New("completion returned no choices")

	// ErrTimeout marks a call that ran past its deadline
	ErrTimeout = errors.New("completion timed out")
)

const (
	replySystemPrompt = "You are a helpful email assistant. Reply professionally and concisely."
	replyPrompt       = "You're an email assistant. Read the following email and generate a concise, professional reply:\n\nEmail Content:\n%s\n\nReply:"
)

// Config configuration for the completion client
type Config struct {
	APIKey        string
	BaseURL       string // OpenAI-compatible endpoint, e.g. https://api.openai.com/v1
	ClassifyModel string
	ReplyModel    string
	Timeout       time.Duration
}

// Client issues single-turn chat completions
type Client struct {
	api    *openai.Client
	config Config
	logger *slog.Logger
}

// NewClient creates a new completion client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		config: cfg,
		logger: logger.With("component", "llm"),
	}
}

// Categorize asks for a single label for body under a closed instruction.
// The raw label is returned; mapping it onto a taxonomy is the caller's job.
func (c *Client) Categorize(ctx context.Context, instruction, body string) (string, error) {
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.config.ClassifyModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: body},
		},
		Temperature: 0.3,
		MaxTokens:   10,
	})
}

// GenerateReply drafts a concise professional reply to body
func (c *Client) GenerateReply(ctx context.Context, body string) (string, error) {
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.config.ReplyModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: replySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(replyPrompt, body)},
		},
		Temperature: 0.5,
		MaxTokens:   300,
	})
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %s: %v", ErrTimeout, req.Model, err)
		}
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("completion done",
		"model", req.Model,
		"duration", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens,
	)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
