package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pario-ai/intentd/pkg/analysis"
	"github.com/pario-ai/intentd/pkg/models"
)

// toolDefinitions renders the analyzer's tools for tools/list.
func toolDefinitions(tools []*analysis.Tool) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": t.QueryDescription,
					},
				},
				"required": []string{"query"},
			},
			Returns: map[string]any{
				"type":        "object",
				"description": t.ReturnsDescription,
			},
		})
	}
	return defs
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func analysisResult(summary string, result models.AnalysisResult) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{
			{Type: "text", Text: summary},
			{Type: "json", JSON: result},
		},
	}
}

// queryArgument extracts the string "query" argument. It reports false when
// the arguments are absent, not an object, or query is missing or not a string.
func queryArgument(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", false
	}
	v, ok := args["query"]
	if !ok {
		return "", false
	}
	var q any
	if err := json.Unmarshal(v, &q); err != nil {
		return "", false
	}
	str, ok := q.(string)
	return str, ok
}

func (s *Server) callTool(ctx context.Context, params ToolCallParams) (ToolCallResult, error) {
	tool, ok := s.analyzer.Lookup(params.Name)
	if !ok {
		return errorResult(fmt.Sprintf("Error: Unknown tool '%s'", params.Name)), nil
	}
	query, ok := queryArgument(params.Arguments)
	if !ok {
		return errorResult("Error: Missing required parameter 'query'"), nil
	}

	result, err := s.analyze(ctx, models.ToolRequest{ToolName: tool.Name, Query: query})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errorResult("Error: " + err.Error()), nil
	}
	if err != nil {
		return ToolCallResult{}, err
	}
	return analysisResult(tool.Summary(query), result), nil
}
