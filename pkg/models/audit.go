package models

import "time"

// Outcome classifies how an analysis was resolved.
type Outcome string

const (
	OutcomeHit      Outcome = "hit"      // served from the result cache
	OutcomeComputed Outcome = "computed" // first model response parsed
	OutcomeRetried  Outcome = "retried"  // parsed after the single retry
	OutcomeDegraded Outcome = "degraded" // default result returned
)

// AnalysisRecord is one row of the analysis log.
type AnalysisRecord struct {
	ID        string        `json:"id"`
	Tool      string        `json:"tool"`
	CacheKey  string        `json:"cache_key"`
	Query     string        `json:"query,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Attempts  int           `json:"attempts"`
	Provider  string        `json:"provider"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// AnalysisQueryOpts specifies filters for querying the analysis log.
type AnalysisQueryOpts struct {
	Tool    string
	Outcome Outcome
	Since   time.Time
	Limit   int
}

// AnalysisStat is an aggregate count of analyses per tool, outcome and day.
type AnalysisStat struct {
	Tool    string  `json:"tool"`
	Outcome Outcome `json:"outcome"`
	Day     string  `json:"day"`
	Count   int     `json:"count"`
}
