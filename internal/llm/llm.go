// Package llm is the boundary to hosted generative language models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sheetqa/sheetqa/internal/observability"
)

var (
	ErrNotConfigured = errors.New("llm: api key not configured")
	ErrNoModel       = errors.New("llm: no usable model")
	ErrEmptyResponse = errors.New("llm: empty model response")
)

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client calls one provider for an explicit model identifier.
type Client interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model %s failed status=%d: %s", e.Model, e.StatusCode, e.Message)
}

// ModelUnavailable reports whether the failure concerns the model identifier
// itself, in which case the next model in the chain can be tried.
func (e *StatusError) ModelUnavailable() bool {
	if e.StatusCode == 404 {
		return true
	}
	if e.StatusCode == 400 {
		msg := strings.ToLower(e.Message)
		return strings.Contains(msg, "model") && (strings.Contains(msg, "not found") ||
			strings.Contains(msg, "not supported") || strings.Contains(msg, "does not exist") ||
			strings.Contains(msg, "unknown"))
	}
	return false
}

func isModelUnavailable(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.ModelUnavailable()
}

// Chain tries each model in order until one is usable.
type Chain struct {
	client  Client
	models  []string
	timeout time.Duration
	logger  *slog.Logger
}

func NewChain(client Client, models []string, timeout time.Duration, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	cleaned := make([]string, 0, len(models))
	for _, model := range models {
		if model = strings.TrimSpace(model); model != "" {
			cleaned = append(cleaned, model)
		}
	}
	return &Chain{client: client, models: cleaned, timeout: timeout, logger: logger}
}

func (c *Chain) Generate(ctx context.Context, prompt string) (string, error) {
	if len(c.models) == 0 {
		return "", ErrNoModel
	}
	for _, model := range c.models {
		text, err := c.call(ctx, model, prompt)
		if err == nil {
			return text, nil
		}
		if isModelUnavailable(err) {
			c.logger.WarnContext(ctx, "model unavailable, trying next", "model", model, "error", err)
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("%w: tried %s", ErrNoModel, strings.Join(c.models, ", "))
}

func (c *Chain) call(ctx context.Context, model, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := c.client.Complete(ctx, model, prompt)
	outcome := "ok"
	switch {
	case err != nil && isModelUnavailable(err):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	case strings.TrimSpace(text) == "":
		outcome = "empty"
		err = ErrEmptyResponse
	}
	observability.ObserveModelCall(model, outcome, time.Since(start))
	if err != nil {
		return "", err
	}
	return text, nil
}

// Limited gates a Generator behind a token bucket.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

func NewLimited(next Generator, perSecond float64, burst int) Generator {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for model rate limit: %w", err)
	}
	return l.next.Generate(ctx, prompt)
}

type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

type Config struct {
	Provider          Provider
	BaseURL           string
	APIKey            string
	Models            []string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// New builds the configured provider behind a model chain and rate limiter.
// It returns ErrNotConfigured when no API key is set.
func New(cfg Config, logger *slog.Logger) (Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		client, err = NewOpenAI(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Temperature: cfg.Temperature})
	case ProviderGemini, "":
		client, err = NewGemini(GeminiConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Temperature: cfg.Temperature})
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	chain := NewChain(client, cfg.Models, cfg.Timeout, logger)
	return NewLimited(chain, cfg.RequestsPerSecond, cfg.Burst), nil
}
