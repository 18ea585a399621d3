package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini calls the Google GenAI API.
type Gemini struct {
	name      string
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGemini builds the gemini backend. An API key is required.
func NewGemini(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{name: cfg.DisplayName(), client: client, model: model, maxTokens: cfg.MaxTokens}, nil
}

func (g *Gemini) Name() string { return g.name }

func (g *Gemini) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	temp := float32(0)
	genCfg := &genai.GenerateContentConfig{Temperature: &temp}
	if g.maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.maxTokens)
	}

	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			genCfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
