package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Temperature float64
	HTTPClient  *http.Client
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	baseURL     string
	apiKey      string
	temperature float64
	client      *http.Client
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAI{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		temperature: cfg.Temperature,
		client:      client,
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": o.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		message := gjson.GetBytes(raw, "error.message").String()
		if message == "" {
			message = string(raw)
		}
		return "", &StatusError{Model: model, StatusCode: resp.StatusCode, Message: message}
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("decode chat completion response: invalid json")
	}
	choices := gjson.GetBytes(raw, "choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return gjson.GetBytes(raw, "choices.0.message.content").String(), nil
}
