package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/history"
)

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists run histories in PostgreSQL. It implements history.Sink.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ history.Sink = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Open connects a pool to url and returns a store over it. The caller closes
// the returned pool.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agent_runs (
    run_id      TEXT PRIMARY KEY,
    task        TEXT NOT NULL,
    status      TEXT NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    steps       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_steps (
    run_id      TEXT NOT NULL REFERENCES agent_runs(run_id) ON DELETE CASCADE,
    step        INTEGER NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    url         TEXT NOT NULL,
    action      TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT '',
    record      JSONB NOT NULL,
    PRIMARY KEY (run_id, step)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const (
	upsertRunSQL = `
        INSERT INTO agent_runs (run_id, task, status, error_kind, error, started_at, finished_at, steps)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (run_id) DO UPDATE SET
            task = EXCLUDED.task,
            status = EXCLUDED.status,
            error_kind = EXCLUDED.error_kind,
            error = EXCLUDED.error,
            started_at = EXCLUDED.started_at,
            finished_at = EXCLUDED.finished_at,
            steps = EXCLUDED.steps;
    `
	deleteStepsSQL = `DELETE FROM agent_steps WHERE run_id = $1;`
)

var stepColumns = []string{"run_id", "step", "recorded_at", "url", "action", "success", "error_kind", "record"}

// Persist writes the run and all of its steps in one transaction. Persisting
// the same run again replaces its steps.
func (s *Store) Persist(ctx context.Context, export history.RunExport) error {
	rows := make([][]any, len(export.Records))
	for i, rec := range export.Records {
		doc, err := jsonAPI.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode step %d: %w", rec.Step, err)
		}
		rows[i] = []any{
			export.RunID, rec.Step, rec.Timestamp.UTC(), rec.URL,
			string(rec.Decision.Action), rec.Result.Success, string(rec.Result.ErrorKind),
			doc,
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, upsertRunSQL,
		export.RunID, export.Task, export.Status, string(export.ErrorKind), export.Error,
		export.StartedAt.UTC(), export.FinishedAt.UTC(), len(export.Records),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteStepsSQL, export.RunID); err != nil {
		return fmt.Errorf("failed to clear previous steps: %w", err)
	}

	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"agent_steps"}, stepColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy steps: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted", zap.String("run_id", export.RunID), zap.Int("steps", len(rows)))
	return nil
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

const (
	selectRunSQL = `
        SELECT task, status, error_kind, error, started_at, finished_at
        FROM agent_runs
        WHERE run_id = $1;
    `
	selectStepsSQL = `
        SELECT record
        FROM agent_steps
        WHERE run_id = $1
        ORDER BY step ASC;
    `
	listRunsSQL = `
        SELECT run_id, task, status, error_kind, steps, started_at, finished_at
        FROM agent_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

// GetRun loads a persisted run with all of its steps.
func (s *Store) GetRun(ctx context.Context, runID string) (history.RunExport, error) {
	export := history.RunExport{RunID: runID}

	rows, err := s.pool.Query(ctx, selectRunSQL, runID)
	if err != nil {
		return export, fmt.Errorf("failed to query run: %w", err)
	}
	found := false
	for rows.Next() {
		var errorKind string
		if err := rows.Scan(&export.Task, &export.Status, &errorKind, &export.Error, &export.StartedAt, &export.FinishedAt); err != nil {
			rows.Close()
			return export, fmt.Errorf("failed to scan run row: %w", err)
		}
		export.ErrorKind = schemas.ErrorKind(errorKind)
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return export, fmt.Errorf("error during row iteration: %w", err)
	}
	if !found {
		return export, ErrNotFound
	}

	stepRows, err := s.pool.Query(ctx, selectStepsSQL, runID)
	if err != nil {
		return export, fmt.Errorf("failed to query steps: %w", err)
	}
	defer stepRows.Close()
	for stepRows.Next() {
		var doc []byte
		if err := stepRows.Scan(&doc); err != nil {
			return export, fmt.Errorf("failed to scan step row: %w", err)
		}
		var rec history.Record
		if err := jsonAPI.Unmarshal(doc, &rec); err != nil {
			return export, fmt.Errorf("failed to decode step: %w", err)
		}
		export.Records = append(export.Records, rec)
	}
	if err := stepRows.Err(); err != nil {
		return export, fmt.Errorf("error during row iteration: %w", err)
	}
	return export, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Task, &r.Status, &r.ErrorKind, &r.Steps, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
