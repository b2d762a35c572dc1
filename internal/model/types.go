// Package model holds the request, branch and comparison types shared by the
// fork/compare components.
package model

import (
	"time"

	"github.com/dusk-indust/replaylab/internal/conversation"
)

// BranchStatus is the terminal outcome of one branch.
type BranchStatus string

const (
	StatusSuccess BranchStatus = "success"
	StatusError   BranchStatus = "error"
	StatusTimeout BranchStatus = "timeout"
)

// Valid reports whether s is one of the known branch outcomes.
func (s BranchStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout:
		return true
	}
	return false
}

// RunStatus summarises the branch outcomes of a whole run.
type RunStatus string

const (
	// RunSuccess means every branch succeeded.
	RunSuccess RunStatus = "success"
	// RunPartial means at least one branch succeeded and at least one did not.
	RunPartial RunStatus = "partial"
	// RunFailed means no branch succeeded. The run itself still completed.
	RunFailed RunStatus = "failed"
)

// DefaultMaxTurns is used when neither the branch nor the settings set one.
const DefaultMaxTurns = 5

// BranchConfig is one variation to execute from a checkpoint.
type BranchConfig struct {
	Name          string `json:"name" yaml:"name"`
	InjectMessage string `json:"inject_message,omitempty" yaml:"inject_message,omitempty"`
	Model         string `json:"model" yaml:"model"`
	SystemPrompt  string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxTurns      int    `json:"max_turns" yaml:"max_turns"`
}

// TokenUsage counts tokens spent by a branch across all of its turns.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add accumulates one call's usage.
func (u *TokenUsage) Add(input, output int64) {
	u.InputTokens += input
	u.OutputTokens += output
	u.TotalTokens = u.InputTokens + u.OutputTokens
}

// BranchResult is the outcome of one branch. Exactly one is produced per
// dispatched branch and it is not modified after creation.
type BranchResult struct {
	BranchName string                 `json:"branch_name"`
	Config     BranchConfig           `json:"config"`
	Status     BranchStatus           `json:"status"`
	Messages   []conversation.Message `json:"messages"`
	DurationMS int64                  `json:"duration_ms"`
	TokenUsage *TokenUsage            `json:"token_usage,omitempty"`
	Error      string                 `json:"error,omitempty"`
	// ErrorKind is the machine-readable failure class for error results.
	ErrorKind string `json:"error_kind,omitempty"`
	// Attempts counts SDK calls made, including retries.
	Attempts int `json:"attempts,omitempty"`
}

// Succeeded reports whether the branch finished with status success.
func (r BranchResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// LastOutput returns the content of the last message, or "".
func (r BranchResult) LastOutput() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// AssistantOutput joins the content of every assistant message.
func (r BranchResult) AssistantOutput() string {
	var out []byte
	for _, m := range r.Messages {
		if m.Role != conversation.RoleAssistant || m.Content == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, m.Content...)
	}
	return string(out)
}

// ReplayRequest asks for a conversation to be forked at a step and replayed
// once per branch.
type ReplayRequest struct {
	ConversationID string         `json:"conversation_id"`
	ForkAtStep     int            `json:"fork_at_step"`
	Branches       []BranchConfig `json:"branches"`
}

// Validate checks the request-level constraints that do not need the
// conversation: a conversation ID, a non-negative step, at least one branch,
// unique branch names and a positive turn bound per branch.
func (r ReplayRequest) Validate() error {
	if r.ConversationID == "" {
		return &InvalidRequestError{Field: "conversation_id", Reason: "must not be empty"}
	}
	if r.ForkAtStep < 0 {
		return &InvalidRequestError{Field: "fork_at_step", Reason: "must be >= 0"}
	}
	return ValidateBranches(r.Branches)
}

// ValidateBranches checks a branch set before any branch is dispatched.
func ValidateBranches(configs []BranchConfig) error {
	if len(configs) == 0 {
		return ErrNoBranches
	}
	seen := make(map[string]struct{}, len(configs))
	for i, c := range configs {
		if c.Name == "" {
			return &InvalidBranchConfigError{Index: i, Reason: "name must not be empty"}
		}
		if _, dup := seen[c.Name]; dup {
			return &DuplicateBranchNameError{Name: c.Name}
		}
		seen[c.Name] = struct{}{}
		if c.Model == "" {
			return &InvalidBranchConfigError{Index: i, Name: c.Name, Reason: "model must not be empty"}
		}
		if c.MaxTurns <= 0 {
			return &InvalidBranchConfigError{Index: i, Name: c.Name, Reason: "max_turns must be > 0"}
		}
	}
	return nil
}

// CheckpointRef identifies the checkpoint a run forked from.
type CheckpointRef struct {
	ConversationID string    `json:"conversation_id"`
	Step           int       `json:"step"`
	MessageCount   int       `json:"message_count"`
	ProjectPath    string    `json:"project_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ComparisonResult is the persisted artifact of one completed run.
type ComparisonResult struct {
	RunID           string         `json:"run_id"`
	Request         ReplayRequest  `json:"request"`
	Checkpoint      CheckpointRef  `json:"checkpoint"`
	Branches        []BranchResult `json:"branches"`
	TotalDurationMS int64          `json:"total_duration_ms"`
	Status          RunStatus      `json:"status"`
	Summary         Summary        `json:"comparison_summary"`
	CreatedAt       time.Time      `json:"created_at"`
}
