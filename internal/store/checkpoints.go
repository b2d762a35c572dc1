package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
)

// Save upserts a checkpoint keyed by conversation and step.
func (s *SQLite) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	msgs, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("store: encode checkpoint messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (conversation_id, step, project_path, messages, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, step) DO UPDATE SET
			project_path = excluded.project_path,
			messages = excluded.messages,
			created_at = excluded.created_at
	`, cp.ConversationID, cp.Step, cp.ProjectPath, string(msgs), cp.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save checkpoint %s@%d: %w", cp.ConversationID, cp.Step, err)
	}
	return nil
}

// Load returns the checkpoint at step, or checkpoint.ErrNotFound.
func (s *SQLite) Load(ctx context.Context, conversationID string, step int) (*checkpoint.Checkpoint, error) {
	var (
		projectPath string
		msgs        string
		createdAt   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_path, messages, created_at FROM checkpoints
		WHERE conversation_id = ? AND step = ?
	`, conversationID, step).Scan(&projectPath, &msgs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load checkpoint %s@%d: %w", conversationID, step, err)
	}

	cp := &checkpoint.Checkpoint{
		ConversationID: conversationID,
		Step:           step,
		ProjectPath:    projectPath,
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
	}
	if err := json.Unmarshal([]byte(msgs), &cp.Messages); err != nil {
		return nil, fmt.Errorf("store: decode checkpoint %s@%d: %w", conversationID, step, err)
	}
	if cp.Messages == nil {
		cp.Messages = []conversation.Message{}
	}
	return cp, nil
}

// List returns the stored steps of a conversation in ascending order.
func (s *SQLite) List(ctx context.Context, conversationID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT step FROM checkpoints WHERE conversation_id = ? ORDER BY step", conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var steps []int
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
