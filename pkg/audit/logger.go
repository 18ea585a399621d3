package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/models"
)

// timeLayout is SQLite's own datetime text form, so date() and lexical
// comparisons work on created_at.
const timeLayout = "2006-01-02 15:04:05.000"

// Logger writes and queries analysis records in a dedicated SQLite database.
type Logger struct {
	db     *sql.DB
	cfg    config.AuditConfig
	logger *zap.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// New opens the analysis log database and creates the schema.
func New(cfg config.AuditConfig, logger *zap.Logger) (*Logger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:     db,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS analysis_log (
		id          TEXT PRIMARY KEY,
		tool        TEXT NOT NULL,
		cache_key   TEXT NOT NULL,
		query       TEXT,
		outcome     TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		provider    TEXT,
		latency_ms  INTEGER,
		error       TEXT,
		created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_analysis_tool ON analysis_log(tool)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_analysis_created ON analysis_log(created_at)`)
	return err
}

// Log inserts a record. Query text is dropped unless include_queries is set.
func (l *Logger) Log(ctx context.Context, rec models.AnalysisRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if !l.cfg.IncludeQueries {
		rec.Query = ""
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO analysis_log
		(id, tool, cache_key, query, outcome, attempts, provider, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tool, rec.CacheKey, rec.Query, string(rec.Outcome),
		rec.Attempts, rec.Provider, rec.Latency.Milliseconds(), rec.Error, rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert analysis record: %w", err)
	}
	return nil
}

// Query returns records matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AnalysisQueryOpts) ([]models.AnalysisRecord, error) {
	q := `SELECT id, tool, cache_key, query, outcome, attempts, provider, latency_ms, error, created_at
		FROM analysis_log WHERE 1=1`
	var args []any

	if opts.Tool != "" {
		q += " AND tool = ?"
		args = append(args, opts.Tool)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query analysis log: %w", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		var r models.AnalysisRecord
		var query, provider, errText sql.NullString
		var outcome, createdAt string
		var latencyMs int64
		if err := rows.Scan(
			&r.ID, &r.Tool, &r.CacheKey, &query, &outcome, &r.Attempts,
			&provider, &latencyMs, &errText, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan analysis row: %w", err)
		}
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan analysis row %s: %w", r.ID, err)
		}
		r.CreatedAt = created
		r.Query = query.String
		r.Outcome = models.Outcome(outcome)
		r.Provider = provider.String
		r.Latency = time.Duration(latencyMs) * time.Millisecond
		r.Error = errText.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns counts grouped by tool, outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AnalysisStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT tool, outcome, date(created_at) as day, count(*) as cnt
		 FROM analysis_log GROUP BY tool, outcome, day ORDER BY day DESC, tool, outcome`)
	if err != nil {
		return nil, fmt.Errorf("analysis stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AnalysisStat
	for rows.Next() {
		var s models.AnalysisStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&s.Tool, &outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan analysis stat: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
// A retention of zero days keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM analysis_log WHERE created_at < ?`, cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("analysis log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// parseTime reads created_at. The driver hands DATETIME columns back either as
// the stored text or, once converted to time.Time, as RFC 3339.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized created_at %q", s)
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			n, err := l.Cleanup(context.Background())
			if err != nil {
				l.logger.Warn("analysis log cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.logger.Info("purged old analysis records", zap.Int64("rows", n))
			}
		}
	}
}
