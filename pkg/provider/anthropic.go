package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/models"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	anthropicVersion      = "2023-06-01"
	defaultMaxTokens      = 1024
)

// Anthropic calls the Anthropic Messages API directly.
type Anthropic struct {
	name      string
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropic builds the anthropic backend. An API key is required.
func NewAnthropic(_ context.Context, cfg config.ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key not set")
	}
	base := cfg.URL
	if base == "" {
		base = defaultAnthropicURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{
		name:      cfg.DisplayName(),
		baseURL:   strings.TrimRight(base, "/"),
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}, nil
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	temp := 0.0
	req := models.AnthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: &temp,
	}
	var system []string
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, m)
	}
	req.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var msg models.AnthropicResponse
	decodeErr := json.Unmarshal(respBody, &msg)

	if resp.StatusCode >= 400 {
		detail := strings.TrimSpace(string(respBody))
		if decodeErr == nil && msg.Error != nil {
			detail = msg.Error.Type + ": " + msg.Error.Message
		}
		err := fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, detail)
		if !isRetryableStatus(resp.StatusCode) {
			return "", permanent(err)
		}
		return "", err
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	return msg.Text(), nil
}

// isRetryableStatus reports whether a failed HTTP status may succeed on a later attempt.
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
