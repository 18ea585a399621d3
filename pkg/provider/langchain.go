package provider

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/models"
)

// LangChain adapts a langchaingo model to Provider.
type LangChain struct {
	name      string
	model     llms.Model
	maxTokens int
}

// NewLangChain wraps an already constructed langchaingo model.
func NewLangChain(name string, model llms.Model, maxTokens int) *LangChain {
	return &LangChain{name: name, model: model, maxTokens: maxTokens}
}

// NewBedrock builds the AWS Bedrock backend. It requires a region and
// resolvable AWS credentials.
func NewBedrock(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	if cfg.Region == "" {
		return nil, errors.New("region not set")
	}
	if cfg.Model == "" {
		return nil, errors.New("model id not set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("aws credentials: %w", err)
	}

	llm, err := bedrock.New(
		bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
		bedrock.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create bedrock client: %w", err)
	}
	return NewLangChain(cfg.DisplayName(), llm, cfg.MaxTokens), nil
}

// NewOpenAI builds the OpenAI backend. An API key is required.
func NewOpenAI(_ context.Context, cfg config.ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key not set")
	}

	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.URL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.URL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangChain(cfg.DisplayName(), llm, cfg.MaxTokens), nil
}

func (l *LangChain) Name() string { return l.name }

func (l *LangChain) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(0)}
	if l.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(l.maxTokens))
	}

	resp, err := l.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response")
	}
	return resp.Choices[0].Content, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
