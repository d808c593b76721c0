package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	Temperature float64
	HTTPClient  *http.Client
}

// Gemini calls the generateContent REST endpoint.
type Gemini struct {
	baseURL     string
	apiKey      string
	temperature float64
	client      *http.Client
}

func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Gemini{
		baseURL:     baseURL,
		apiKey:      strings.Trim(apiKey, `"'`),
		temperature: cfg.Temperature,
		client:      client,
	}, nil
}

func (g *Gemini) Complete(ctx context.Context, model, prompt string) (string, error) {
	payload := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{"temperature": g.temperature},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate payload: %w", err)
	}

	endpoint := g.baseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request generate content: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		message := gjson.GetBytes(raw, "error.message").String()
		if message == "" {
			message = string(raw)
		}
		return "", &StatusError{Model: model, StatusCode: resp.StatusCode, Message: message}
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("decode generate response: invalid json")
	}

	var parts []string
	for _, part := range gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array() {
		parts = append(parts, part.String())
	}
	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		if reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String(); reason != "" {
			return "", fmt.Errorf("model %s blocked prompt: %s", model, reason)
		}
		return "", ErrEmptyResponse
	}
	return text, nil
}
