// Package checkpoint cuts a recorded conversation at a step and optionally
// persists the resulting prefix.
package checkpoint

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/model"
)

// Checkpoint is a conversation truncated to its first Step messages. It is
// read-only once created and may be shared by concurrent branches.
type Checkpoint struct {
	ConversationID string                 `json:"conversation_id"`
	Step           int                    `json:"step"`
	Messages       []conversation.Message `json:"messages"`
	ProjectPath    string                 `json:"project_path,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Equal compares content only. CreatedAt is ignored so re-extracting the
// same step yields an equal checkpoint.
func (c *Checkpoint) Equal(other *Checkpoint) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.ConversationID != other.ConversationID || c.Step != other.Step || c.ProjectPath != other.ProjectPath {
		return false
	}
	if len(c.Messages) != len(other.Messages) {
		return false
	}
	for i := range c.Messages {
		if !reflect.DeepEqual(c.Messages[i], other.Messages[i]) {
			return false
		}
	}
	return true
}

// Ref summarises the checkpoint for a run record.
func (c *Checkpoint) Ref() model.CheckpointRef {
	return model.CheckpointRef{
		ConversationID: c.ConversationID,
		Step:           c.Step,
		MessageCount:   len(c.Messages),
		ProjectPath:    c.ProjectPath,
		CreatedAt:      c.CreatedAt,
	}
}

// Bound names which side of the valid step range was violated.
type Bound string

const (
	BoundLower Bound = "lower"
	BoundUpper Bound = "upper"
)

// InvalidCheckpointError reports a step outside [Min, Max].
type InvalidCheckpointError struct {
	Step  int
	Min   int
	Max   int
	Bound Bound
}

func (e *InvalidCheckpointError) Error() string {
	if e.Bound == BoundLower {
		return fmt.Sprintf("invalid checkpoint step %d: below lower bound %d", e.Step, e.Min)
	}
	return fmt.Sprintf("invalid checkpoint step %d: above upper bound %d", e.Step, e.Max)
}

// Extract returns the first step messages of conv as a Checkpoint. step must
// satisfy 0 <= step <= len(conv.Messages). The messages are deep copied.
func Extract(conv *conversation.Conversation, step int) (*Checkpoint, error) {
	n := conv.StepCount()
	switch {
	case step < 0:
		return nil, &InvalidCheckpointError{Step: step, Min: 0, Max: n, Bound: BoundLower}
	case step > n:
		return nil, &InvalidCheckpointError{Step: step, Min: 0, Max: n, Bound: BoundUpper}
	}
	msgs := conversation.CloneMessages(conv.Messages[:step])
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return &Checkpoint{
		ConversationID: conv.SessionID,
		Step:           step,
		Messages:       msgs,
		ProjectPath:    conv.ProjectPath,
	}, nil
}

// Extractor extracts checkpoints and persists them through Store when one
// is configured.
type Extractor struct {
	// Store is optional.
	Store Store
	// Clock stamps CreatedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Extract cuts conv at step and saves the result. A persistence failure is
// returned wrapped so callers can treat it as an infrastructure error.
func (x *Extractor) Extract(ctx context.Context, conv *conversation.Conversation, step int) (*Checkpoint, error) {
	cp, err := Extract(conv, step)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if x.Clock != nil {
		now = x.Clock
	}
	cp.CreatedAt = now().UTC()

	if x.Store != nil {
		if err := x.Store.Save(ctx, cp); err != nil {
			return nil, &PersistError{ConversationID: cp.ConversationID, Step: step, Err: err}
		}
		logging.Debug().Str("conversation", cp.ConversationID).Int("step", step).Msg("checkpoint saved")
	}
	return cp, nil
}

// PersistError wraps a checkpoint store failure.
type PersistError struct {
	ConversationID string
	Step           int
	Err            error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist checkpoint %s@%d: %v", e.ConversationID, e.Step, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
