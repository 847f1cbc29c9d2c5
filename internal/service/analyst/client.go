package analyst

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/datachat/backend/internal/analysis/structured"
	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
)

var (
	ErrNotConfigured       = errors.New("analyst api is not configured")
	ErrConversationMissing = errors.New("analyst api returned no conversation id")
)

// Config describes how to reach the data-analyst API.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RateLimit caps outgoing requests per second. Zero disables the limit.
	RateLimit float64
	// StrictShapes rejects replies whose datasets or rows do not line up.
	StrictShapes bool
}

// APIError is returned for non-2xx answers.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("analyst api status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// UserContext scopes analyst queries, e.g. to an organisation.
type UserContext map[string]any

// Reply is one analyst answer. Response is always set; Structured tells
// whether it came from a valid structured payload or from the text fallback.
type Reply struct {
	Raw        string
	Response   *analyst.Response
	Structured bool
	Reason     string
}

// Client talks to the data-analyst API.
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	normalizer *structured.Normalizer
	enabled    bool
}

// NewClient builds a client. A client without base URL answers every call
// with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		http:       httpClient,
		limiter:    limiter,
		normalizer: structured.New(structured.Options{Strict: cfg.StrictShapes}),
		enabled:    strings.TrimSpace(cfg.BaseURL) != "",
	}
}

// Enabled reports whether a base URL was configured.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// StartConversation opens an analyst conversation scoped to userCtx.
func (c *Client) StartConversation(ctx context.Context, userCtx UserContext) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"context": userCtx}).
		SetResult(&out).
		Post("/conversations")
	if err != nil {
		return "", fmt.Errorf("start analyst conversation: %w", err)
	}
	if resp.IsError() {
		return "", &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	if out.ID == "" {
		return "", ErrConversationMissing
	}

	log.Debug("analyst conversation started", "conversation", out.ID)
	return out.ID, nil
}

// Ask sends message to an analyst conversation and classifies the answer.
func (c *Client) Ask(ctx context.Context, conversationID, message string) (*Reply, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrConversationMissing
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("conversationID", conversationID).
		SetBody(map[string]string{"message": message}).
		Post("/conversations/{conversationID}/response")
	if err != nil {
		return nil, fmt.Errorf("ask analyst: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}

	return c.classify(conversationID, resp.Body()), nil
}

// classify falls back to plain text when body is not a structured response.
func (c *Client) classify(conversationID string, body []byte) *Reply {
	raw := string(body)
	parsed, err := c.normalizer.Normalize(body)
	if err == nil {
		return &Reply{Raw: raw, Response: parsed, Structured: true}
	}

	log.Warn("analyst reply is not structured, falling back to text", "conversation", conversationID, "reason", err)
	fallback := analyst.TextResponse(strings.TrimSpace(raw))
	fallback.ConversationID = conversationID
	return &Reply{Raw: raw, Response: fallback, Reason: err.Error()}
}

func (c *Client) ready(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("analyst rate limit: %w", err)
		}
	}
	return nil
}
