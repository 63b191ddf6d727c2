// Package history keeps an audit ledger of full pipeline runs in
// PostgreSQL. Nothing is ever restored from it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/tendant/community-highlighter/internal/workflows"
)

// DefaultLimit is used by Recent when limit is not positive
const DefaultLimit = 20

// Ledger records pipeline run outcomes
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to databaseURL and prepares the ledger table
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Ledger, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ledger, err := NewLedger(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ledger, nil
}

// NewLedger wraps an existing connection
func NewLedger(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{db: db, logger: logger}

	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure history table: %w", err)
	}
	return l, nil
}

// ensureTable creates the pipeline_runs table if it doesn't exist
func (l *Ledger) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id UUID PRIMARY KEY,
			phase TEXT NOT NULL,
			failed_step TEXT,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ DEFAULT NOW()
		)
	`

	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create pipeline_runs table: %w", err)
	}

	l.logger.Debug("pipeline_runs table ready")
	return nil
}

// RecordRun stores rec, replacing any earlier row for the same run
func (l *Ledger) RecordRun(ctx context.Context, rec workflows.RunRecord) error {
	query := `
		INSERT INTO pipeline_runs (run_id, phase, failed_step, error, started_at, finished_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (run_id) DO UPDATE
		SET phase = EXCLUDED.phase,
		    failed_step = EXCLUDED.failed_step,
		    error = EXCLUDED.error,
		    finished_at = EXCLUDED.finished_at,
		    recorded_at = NOW()
	`

	_, err := l.db.ExecContext(ctx, query,
		rec.RunID,
		string(rec.Phase),
		nullString(rec.FailedStep),
		nullString(rec.Error),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.RunID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first
func (l *Ledger) Recent(ctx context.Context, limit int) ([]workflows.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT run_id, phase, failed_step, error, started_at, finished_at
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []workflows.RunRecord
	for rows.Next() {
		var (
			rec        workflows.RunRecord
			runID      uuid.UUID
			phase      string
			failedStep sql.NullString
			errText    sql.NullString
		)
		if err := rows.Scan(&runID, &phase, &failedStep, &errText, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.RunID = runID
		rec.Phase = workflows.Phase(phase)
		rec.FailedStep = failedStep.String
		rec.Error = errText.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return records, nil
}

// Close releases the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
