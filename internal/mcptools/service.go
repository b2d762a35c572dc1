package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
)

// Archive lists and loads recorded conversations.
type Archive interface {
	conversation.Loader
	List(ctx context.Context, opts conversation.ListOptions) ([]conversation.Summary, error)
}

// RunReader fetches completed runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.ComparisonResult, error)
}

// OrchestratorFactory returns an orchestrator for one run. Pipelines run one
// request at a time, so concurrent tool calls each get their own.
type OrchestratorFactory func() orchestrator.Orchestrator

const (
	defaultInspectLimit = 50
	messagePreviewLen   = 200
)

// ReplayService handles MCP tool calls for serve-mcp mode.
type ReplayService struct {
	archive Archive
	newRun  OrchestratorFactory
	runs    RunReader
}

// NewReplayService creates a ReplayService. runs may be nil, in which case
// get_run reports that no run store is configured.
func NewReplayService(archive Archive, newRun OrchestratorFactory, runs RunReader) *ReplayService {
	return &ReplayService{archive: archive, newRun: newRun, runs: runs}
}

// ListConversations lists archived conversations, most recent first.
func (s *ReplayService) ListConversations(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListConversationsInput,
) (*mcp.CallToolResult, ListConversationsOutput, error) {
	convs, err := s.archive.List(ctx, conversation.ListOptions{ProjectFilter: input.Project, Limit: input.Limit})
	if err != nil {
		return nil, ListConversationsOutput{}, fmt.Errorf("list conversations: %w", err)
	}
	return nil, ListConversationsOutput{Conversations: convs}, nil
}

// InspectConversation shows a window of a conversation's messages with the
// step numbers usable as fork points.
func (s *ReplayService) InspectConversation(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input InspectConversationInput,
) (*mcp.CallToolResult, InspectConversationOutput, error) {
	if input.ConversationID == "" {
		return nil, InspectConversationOutput{}, errors.New("conversation_id is required")
	}
	conv, err := s.archive.Load(ctx, input.ConversationID)
	if err != nil {
		return nil, InspectConversationOutput{}, fmt.Errorf("load conversation: %w", err)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultInspectLimit
	}
	from := max(input.FromStep, 0)

	out := InspectConversationOutput{
		ConversationID: conv.SessionID,
		ProjectPath:    conv.ProjectPath,
		StepCount:      conv.StepCount(),
		Messages:       []MessageView{},
	}
	for i := from; i < len(conv.Messages) && len(out.Messages) < limit; i++ {
		m := conv.Messages[i]
		out.Messages = append(out.Messages, MessageView{
			Step:        i + 1,
			Role:        string(m.Role),
			Preview:     compare.Truncate(strings.TrimSpace(m.Content), messagePreviewLen),
			ToolCalls:   len(m.ToolCalls),
			ToolResults: len(m.ToolResults),
		})
	}
	return nil, out, nil
}

// ForkCompare runs a fork/compare request to completion. Request and
// infrastructure failures are reported in the output with status "failed"
// so the calling agent can read the reason.
func (s *ReplayService) ForkCompare(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ForkCompareInput,
) (*mcp.CallToolResult, ForkCompareOutput, error) {
	req := model.ReplayRequest{
		ConversationID: input.ConversationID,
		ForkAtStep:     input.ForkAtStep,
		Branches:       input.Branches,
	}
	for i := range req.Branches {
		if req.Branches[i].MaxTurns == 0 {
			req.Branches[i].MaxTurns = model.DefaultMaxTurns
		}
	}

	res, err := s.newRun().Run(ctx, req)
	if err != nil {
		return nil, ForkCompareOutput{
			Status:    "failed",
			ErrorKind: string(orchestrator.KindOf(err)),
			Message:   err.Error(),
		}, nil
	}

	summary := res.Summary
	return nil, ForkCompareOutput{
		RunID:   res.RunID,
		Status:  string(res.Status),
		Summary: &summary,
		Report:  export.FormatMarkdown(res),
	}, nil
}

// GetRun returns a completed run rendered as Markdown, Mermaid or JSON.
func (s *ReplayService) GetRun(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetRunInput,
) (*mcp.CallToolResult, GetRunOutput, error) {
	if s.runs == nil {
		return nil, GetRunOutput{}, errors.New("no run store configured")
	}
	if input.RunID == "" {
		return nil, GetRunOutput{}, errors.New("run_id is required")
	}
	res, err := s.runs.GetRun(ctx, input.RunID)
	if err != nil {
		return nil, GetRunOutput{}, fmt.Errorf("get run: %w", err)
	}

	out := GetRunOutput{RunID: res.RunID, Status: string(res.Status)}
	switch strings.ToLower(input.Format) {
	case "", "markdown", "md":
		out.Report = export.FormatMarkdown(res)
	case "mermaid":
		out.Report = export.GenerateMermaid(res)
	case "json":
		out.Result = res
	default:
		return nil, GetRunOutput{}, fmt.Errorf("unknown format %q", input.Format)
	}
	return nil, out, nil
}
