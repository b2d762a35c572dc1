package mcptools

import (
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
)

// --- MCP tool types for serve-mcp mode ---
// These let an agent browse the archive and launch fork/compare runs
// through structured tools instead of shelling out to the CLI.

// ListConversationsInput is the input for the list_conversations tool.
type ListConversationsInput struct {
	Project string `json:"project,omitempty" jsonschema:"keep only projects whose directory name contains this"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum conversations to return (default 20)"`
}

// ListConversationsOutput is the result of the list_conversations tool.
type ListConversationsOutput struct {
	Conversations []conversation.Summary `json:"conversations"`
}

// InspectConversationInput is the input for the inspect_conversation tool.
type InspectConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"session ID of the conversation"`
	FromStep       int    `json:"from_step,omitempty" jsonschema:"first step to show (0-based)"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum messages to show (default 50)"`
}

// InspectConversationOutput is the result of the inspect_conversation tool.
type InspectConversationOutput struct {
	ConversationID string        `json:"conversation_id"`
	ProjectPath    string        `json:"project_path"`
	StepCount      int           `json:"step_count"`
	Messages       []MessageView `json:"messages"`
}

// MessageView is one message as shown by inspect_conversation. Step is the
// fork point that keeps this message as the last one of the prefix.
type MessageView struct {
	Step        int    `json:"step"`
	Role        string `json:"role"`
	Preview     string `json:"preview"`
	ToolCalls   int    `json:"tool_calls,omitempty"`
	ToolResults int    `json:"tool_results,omitempty"`
}

// ForkCompareInput is the input for the fork_compare tool.
type ForkCompareInput struct {
	ConversationID string               `json:"conversation_id" jsonschema:"session ID to fork"`
	ForkAtStep     int                  `json:"fork_at_step" jsonschema:"number of messages kept before the fork"`
	Branches       []model.BranchConfig `json:"branches" jsonschema:"branch configurations; names must be unique"`
}

// ForkCompareOutput is the result of the fork_compare tool.
type ForkCompareOutput struct {
	RunID     string         `json:"run_id,omitempty"`
	Status    string         `json:"status"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Summary   *model.Summary `json:"comparison_summary,omitempty"`
	Report    string         `json:"report,omitempty"`
}

// GetRunInput is the input for the get_run tool.
type GetRunInput struct {
	RunID  string `json:"run_id" jsonschema:"ID of a completed run"`
	Format string `json:"format,omitempty" jsonschema:"markdown (default), mermaid or json"`
}

// GetRunOutput is the result of the get_run tool.
type GetRunOutput struct {
	RunID  string                  `json:"run_id"`
	Status string                  `json:"status"`
	Report string                  `json:"report,omitempty"`
	Result *model.ComparisonResult `json:"result,omitempty"`
}
