package analysis

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/pario-ai/intentd/pkg/models"
)

// Tool names.
const (
	ToolAnalyzeIntent      = "analyze_intent"
	ToolExtractInformation = "extract_information"
	ToolDefineQuestionType = "define_question_type"
)

// RetryStrategy selects the prompt used for the single retry after a parse failure.
type RetryStrategy int

const (
	// RetrySamePrompt re-sends the original messages.
	RetrySamePrompt RetryStrategy = iota
	// RetryRewrittenPrompt sends the tool's schema-explicit retry template instead.
	RetryRewrittenPrompt
)

func (s RetryStrategy) String() string {
	if s == RetryRewrittenPrompt {
		return "rewritten_prompt"
	}
	return "same_prompt"
}

// Tool describes one analysis: how to prompt the model and what to return when it fails.
type Tool struct {
	Name        string
	Description string
	// QueryDescription documents the single "query" argument.
	QueryDescription string
	// ReturnsDescription documents the result object.
	ReturnsDescription string
	// SummaryFormat renders the text content block; %s is the query.
	SummaryFormat string

	SystemPrompt  string
	UserTemplate  *template.Template
	Retry         RetryStrategy
	RetryTemplate *template.Template
	// Default builds the result returned when analysis fails. It is never cached.
	Default func(reason string) models.AnalysisResult
}

// Summary renders the human-readable line accompanying a result.
func (t *Tool) Summary(query string) string {
	return fmt.Sprintf(t.SummaryFormat, query)
}

// messages builds the first-attempt conversation for query.
func (t *Tool) messages(query string) ([]models.ChatMessage, error) {
	user, err := render(t.UserTemplate, query)
	if err != nil {
		return nil, err
	}
	return []models.ChatMessage{
		{Role: models.RoleSystem, Content: t.SystemPrompt},
		{Role: models.RoleUser, Content: user},
	}, nil
}

// retryMessages builds the conversation for the retry attempt.
func (t *Tool) retryMessages(query string, first []models.ChatMessage) ([]models.ChatMessage, error) {
	if t.Retry != RetryRewrittenPrompt || t.RetryTemplate == nil {
		return first, nil
	}
	user, err := render(t.RetryTemplate, query)
	if err != nil {
		return nil, err
	}
	return []models.ChatMessage{
		{Role: models.RoleSystem, Content: t.SystemPrompt},
		{Role: models.RoleUser, Content: user},
	}, nil
}

func render(tmpl *template.Template, query string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Query string }{query}); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// DefaultTools returns the built-in tool descriptors in advertised order.
func DefaultTools() []*Tool {
	return []*Tool{
		{
			Name:               ToolAnalyzeIntent,
			Description:        "Phân tích ý định người dùng trong câu hỏi về chứng khoán",
			QueryDescription:   "Câu hỏi của người dùng cần phân tích",
			ReturnsDescription: "Kết quả phân tích ý định",
			SummaryFormat:      "Đã phân tích ý định cho câu hỏi: %s",
			SystemPrompt:       intentSystemPrompt,
			UserTemplate:       template.Must(template.New("intent").Parse(intentUserTemplate)),
			Retry:              RetryRewrittenPrompt,
			RetryTemplate:      template.Must(template.New("intent_retry").Parse(intentRetryTemplate)),
			Default: func(reason string) models.AnalysisResult {
				return models.AnalysisResult{
					"is_finance_related":  false,
					"needs_clarification": true,
					"main_intent":         "Error analyzing intent: " + reason,
					"required_analysis":   []any{},
					"question_type":       "SIMPLE",
					"stock_codes":         []any{},
				}
			},
		},
		{
			Name:               ToolExtractInformation,
			Description:        "Trích xuất thông tin từ câu hỏi của người dùng",
			QueryDescription:   "Câu hỏi của người dùng cần trích xuất thông tin",
			ReturnsDescription: "Thông tin đã trích xuất",
			SummaryFormat:      "Đã trích xuất thông tin từ câu hỏi: %s",
			SystemPrompt:       extractionSystemPrompt,
			UserTemplate:       template.Must(template.New("extraction").Parse(extractionUserTemplate)),
			Retry:              RetrySamePrompt,
			Default: func(string) models.AnalysisResult {
				return models.AnalysisResult{
					"stock_codes":       []any{},
					"company_names":     []any{},
					"financial_metrics": []any{},
					"quarter":           []any{},
					"year":              []any{},
					"search_live_query": []any{},
					"search_rag_query":  []any{},
					"search_news_query": []any{},
				}
			},
		},
		{
			Name:               ToolDefineQuestionType,
			Description:        "Xác định loại câu hỏi của người dùng",
			QueryDescription:   "Câu hỏi của người dùng cần xác định loại",
			ReturnsDescription: "Loại câu hỏi đã xác định",
			SummaryFormat:      "Đã xác định loại câu hỏi: %s",
			SystemPrompt:       questionTypeSystemPrompt,
			UserTemplate:       template.Must(template.New("question_type").Parse(questionTypeUserTemplate)),
			Retry:              RetrySamePrompt,
			Default: func(string) models.AnalysisResult {
				return models.AnalysisResult{"question_type": "SIMPLE"}
			},
		},
	}
}
