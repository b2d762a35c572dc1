package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/replaylab/internal/model"
)

// ErrRunNotFound is returned when no run matches an ID.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is the listing entry of a stored run.
type RunSummary struct {
	RunID           string          `json:"run_id"`
	ConversationID  string          `json:"conversation_id"`
	ForkAtStep      int             `json:"fork_at_step"`
	Status          model.RunStatus `json:"status"`
	BranchCount     int             `json:"branch_count"`
	Successful      int             `json:"successful"`
	TotalDurationMS int64           `json:"total_duration_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	ConversationID string
	Status         model.RunStatus
	Limit          int
}

// SaveRun stores a completed run, replacing any run with the same ID.
func (s *SQLite) SaveRun(ctx context.Context, res *model.ComparisonResult) error {
	if res.RunID == "" {
		return errors.New("store: run id is empty")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: encode run: %w", err)
	}
	created := res.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return s.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO runs
				(run_id, conversation_id, fork_at_step, status, branch_count, successful, total_duration_ms, created_at, result)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.RunID, res.Checkpoint.ConversationID, res.Checkpoint.Step, string(res.Status),
			len(res.Branches), res.Summary.Successful, res.TotalDurationMS, created.UnixMilli(), string(data))
		if err != nil {
			return fmt.Errorf("store: save run %s: %w", res.RunID, err)
		}
		return nil
	})
}

// GetRun returns the full result of a run.
func (s *SQLite) GetRun(ctx context.Context, runID string) (*model.ComparisonResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT result FROM runs WHERE run_id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", runID, err)
	}
	var res model.ComparisonResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("store: decode run %s: %w", runID, err)
	}
	return &res, nil
}

// ListRuns returns stored runs, newest first.
func (s *SQLite) ListRuns(ctx context.Context, f RunFilter) ([]RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if f.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := `SELECT run_id, conversation_id, fork_at_step, status, branch_count, successful, total_duration_ms, created_at FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, run_id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r       RunSummary
			status  string
			created int64
		)
		if err := rows.Scan(&r.RunID, &r.ConversationID, &r.ForkAtStep, &status, &r.BranchCount, &r.Successful, &r.TotalDurationMS, &created); err != nil {
			return nil, err
		}
		r.Status = model.RunStatus(status)
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunSink adapts SaveRun to orchestrator.Sink.
type RunSink struct {
	DB *SQLite
}

// Save stores res.
func (r RunSink) Save(ctx context.Context, res *model.ComparisonResult) error {
	return r.DB.SaveRun(ctx, res)
}
