// Package summarize talks to an OpenAI-compatible chat completions API to
// turn extracted text into an HTML summary and to revise it on request.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyInput is returned when there is nothing to summarize.
	ErrEmptyInput = errors.New("no text to summarize")
	// ErrEmptyResponse is returned when the model answers with no content.
	ErrEmptyResponse = errors.New("empty response from summarization service")
)

const systemPrompt = "You write concise, well-structured HTML summaries."

const summarizePrompt = `Summarize the following document. Answer with an HTML fragment only (no <html> or <body> tags): a short <h2> title, an introductory <p>, then the key points as a <ul>. Keep the language of the document.

Document:
%s`

const improvePrompt = `Here is an HTML summary:

%s

Revise it according to these instructions: %s

Answer with the revised HTML fragment only.`

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Message, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	// MaxRetries bounds SDK retries of 408, 409, 429 and 5xx answers.
	// Retry-After is honoured.
	MaxRetries    int
	MaxInputChars int
}

// Client is a rate-limited chat completions client.
type Client struct {
	cfg         Config
	api         openai.Client
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a summarizer client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithMiddleware(c.throttle),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	c.api = openai.NewClient(reqOpts...)
	return c
}

// throttle runs before every attempt, retries included, so the limiter
// also paces the SDK's own retries.
func (c *Client) throttle(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := next(req)
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("summarizer rate limited",
			zap.String("retryAfter", resp.Header.Get("Retry-After")))
	}
	return resp, err
}

// Summarize returns an HTML summary of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	if c.cfg.MaxInputChars > 0 {
		if r := []rune(text); len(r) > c.cfg.MaxInputChars {
			c.logger.Warn("truncating summarizer input",
				zap.Int("chars", len(r)), zap.Int("limit", c.cfg.MaxInputChars))
			text = string(r[:c.cfg.MaxInputChars])
		}
	}
	return c.complete(ctx, fmt.Sprintf(summarizePrompt, text))
}

// Improve revises an HTML summary following instructions.
func (c *Client) Improve(ctx context.Context, html, instructions string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyInput
	}
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		instructions = "make it clearer and more concise"
	}
	return c.complete(ctx, fmt.Sprintf(improvePrompt, html, instructions))
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content, err := NormalizeHTML(resp.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// mapError turns SDK API errors into a StatusError with a readable message.
func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("summarization request failed: %w", err)
	}
	return &StatusError{
		StatusCode: apiErr.StatusCode,
		Message:    statusMessage(apiErr.StatusCode),
		Detail:     errorDetail(apiErr),
	}
}

// errorDetail reads the upstream message, enveloped in "error" or not.
func errorDetail(apiErr *openai.Error) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(apiErr.RawJSON()), &body) == nil {
		return body.Error.Message
	}
	return ""
}

func statusMessage(code int) string {
	switch {
	case code == http.StatusBadRequest:
		return "the summarization request was rejected"
	case code == http.StatusUnauthorized:
		return "invalid API key for the summarization service"
	case code == http.StatusForbidden:
		return "access to the summarization model is forbidden"
	case code == http.StatusNotFound:
		return "summarization model or endpoint not found"
	case code == http.StatusTooManyRequests:
		return "summarization rate limit exceeded, try again shortly"
	case code >= 500:
		return "summarization service is unavailable"
	default:
		return "unexpected response from summarization service"
	}
}

// StripCodeFence removes a surrounding markdown code fence such as
// "```html ... ```" from a model answer.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
