package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/intentd/pkg/models"
)

func formatCacheStats(s models.CacheStats) string {
	var b strings.Builder
	state := "enabled"
	if !s.Enabled {
		state = "disabled"
	}
	hitRate := "-"
	if total := s.Hits + s.Misses; total > 0 {
		hitRate = fmt.Sprintf("%.1f%%", 100*float64(s.Hits)/float64(total))
	}
	fmt.Fprintf(&b, "Cache:       %s\n", state)
	fmt.Fprintf(&b, "TTL:         %s\n", time.Duration(s.TTLSeconds)*time.Second)
	fmt.Fprintf(&b, "Entries:     %d / %d\n", s.CurrentSize, s.MaxSize)
	fmt.Fprintf(&b, "Memory:      ~%s\n", humanize.Bytes(uint64(max(s.ApproxBytes, 0))))
	fmt.Fprintf(&b, "Hits:        %s\n", humanize.Comma(s.Hits))
	fmt.Fprintf(&b, "Misses:      %s\n", humanize.Comma(s.Misses))
	fmt.Fprintf(&b, "Hit rate:    %s\n", hitRate)
	fmt.Fprintf(&b, "Evictions:   %s\n", humanize.Comma(s.Evictions))
	fmt.Fprintf(&b, "Expirations: %s\n", humanize.Comma(s.Expirations))
	return b.String()
}

// formatRecords renders log entries as a table with ages relative to now.
func formatRecords(records []models.AnalysisRecord, now time.Time) string {
	if len(records) == 0 {
		return "No analysis log entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %-10s %8s %-12s %9s %-16s %s\n",
		"TOOL", "OUTCOME", "ATTEMPTS", "PROVIDER", "LATENCY", "WHEN", "QUERY")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, r := range records {
		query := r.Query
		if query == "" {
			query = "-"
		} else if runes := []rune(query); len(runes) > 40 {
			query = string(runes[:37]) + "..."
		}
		fmt.Fprintf(&b, "%-22s %-10s %8d %-12s %7dms %-16s %s\n",
			r.Tool, r.Outcome, r.Attempts, r.Provider,
			r.Latency.Milliseconds(),
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			query)
	}
	return b.String()
}

func formatAnalysisStats(stats []models.AnalysisStat) string {
	if len(stats) == 0 {
		return "No analysis stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %-10s %-12s %8s\n", "TOOL", "OUTCOME", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 55) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-22s %-10s %-12s %8s\n", s.Tool, s.Outcome, s.Day, humanize.Comma(int64(s.Count)))
	}
	return b.String()
}
