package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/intentd/pkg/analysis"
	"github.com/pario-ai/intentd/pkg/models"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		configPath string
		toolName   string
	)

	cmd := &cobra.Command{
		Use:   "analyze <query>",
		Short: "Run one analysis tool against a query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{configPath: configPath, noCache: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			tool, ok := a.analyzer.Lookup(toolName)
			if !ok {
				return fmt.Errorf("unknown tool %q (have %s)", toolName, toolNames(a.analyzer.Tools()))
			}

			query := strings.Join(args, " ")
			result := a.analyzer.Analyze(ctx, models.ToolRequest{ToolName: tool.Name, Query: query})

			fmt.Fprintln(cmd.ErrOrStderr(), tool.Summary(query))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(result)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&toolName, "tool", "t", analysis.ToolAnalyzeIntent, "analysis tool to run")
	return cmd
}

func toolNames(tools []*analysis.Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}
