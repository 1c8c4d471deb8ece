// Package translate turns natural-language questions into SQL through an
// OpenAI-compatible chat completions API.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/schema"
)

// Defaults for the completions API.
const (
	DefaultAPIURL      = "https://api.openai.com/v1/chat/completions"
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.3
	DefaultTimeout     = 60 * time.Second
)

// Config configures the completions client.
type Config struct {
	APIKey      string        `koanf:"api_key"`
	APIURL      string        `koanf:"api_url"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client generates SQL from prompts.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger
}

// New creates a client. Zero config fields fall back to the defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Translate asks the model for a query answering prompt against m. The
// returned SQL has code fences stripped but is otherwise untrusted.
func (c *Client) Translate(ctx context.Context, prompt string, m *schema.Metadata) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.Validationf("Prompt cannot be empty")
	}
	if c.cfg.APIKey == "" {
		return "", apperr.New(apperr.Internal, "LLM API key not configured. Set QUERYDECK_LLM_API_KEY.")
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage(prompt, m)},
		},
		Temperature: c.cfg.Temperature,
	}

	start := time.Now()
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetBody(req).
		SetResult(&out).
		Post(c.cfg.APIURL)
	if err != nil {
		return "", apperr.InternalErr("Failed to call LLM API", err)
	}
	if resp.IsError() {
		return "", apperr.New(apperr.Internal,
			fmt.Sprintf("LLM API returned error %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}

	c.logger.Debug("completion received",
		slog.String("model", c.cfg.Model),
		slog.Duration("elapsed", time.Since(start)))

	if len(out.Choices) == 0 {
		return "", apperr.New(apperr.Internal, "LLM API returned no choices")
	}
	sql := StripCodeFences(out.Choices[0].Message.Content)
	if sql == "" {
		return "", apperr.New(apperr.Internal, "LLM did not generate a valid SQL query")
	}
	return sql, nil
}
