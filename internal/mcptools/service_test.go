package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/export"
	"github.com/dusk-indust/replaylab/internal/model"
	"github.com/dusk-indust/replaylab/internal/orchestrator"
)

// stubRunner answers every branch with a fixed reply.
type stubRunner struct{}

func (stubRunner) Execute(_ context.Context, cp *checkpoint.Checkpoint, cfg model.BranchConfig) model.BranchResult {
	return model.BranchResult{
		Status: model.StatusSuccess,
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: cfg.InjectMessage},
			{Role: conversation.RoleAssistant, Content: fmt.Sprintf("%s saw %d messages", cfg.Name, len(cp.Messages))},
		},
		TokenUsage: &model.TokenUsage{InputTokens: 5, OutputTokens: 5, TotalTokens: 10},
	}
}

// writeArchive creates an archive with one six-message conversation.
func writeArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "-home-dev-project")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var lines []string
	for i := 0; i < 6; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		rec, err := json.Marshal(map[string]any{"role": role, "content": fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
		lines = append(lines, string(rec))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sess-1.jsonl"), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return root
}

func newTestService(t *testing.T) (*ReplayService, *export.Writer) {
	t.Helper()
	archive := conversation.NewArchive(writeArchive(t))
	results := export.NewWriter(t.TempDir())
	newRun := func() orchestrator.Orchestrator {
		return orchestrator.NewPipeline(orchestrator.Config{}, orchestrator.Deps{
			Loader: archive,
			Runner: stubRunner{},
			Sinks:  []orchestrator.Sink{results},
		})
	}
	return NewReplayService(archive, newRun, results), results
}

// setupServerClient wires an MCP server and client together using in-memory
// transports.
func setupServerClient(t *testing.T) *mcp.ClientSession {
	t.Helper()
	svc, _ := newTestService(t)
	server := NewServer(svc)

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func decode[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.NotNil(t, result.StructuredContent)
	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestReplayService_ListAndInspect(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, list, err := svc.ListConversations(ctx, nil, ListConversationsInput{})
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "sess-1", list.Conversations[0].SessionID)
	assert.Equal(t, 6, list.Conversations[0].MessageCount)

	_, list, err = svc.ListConversations(ctx, nil, ListConversationsInput{Project: "other"})
	require.NoError(t, err)
	assert.Empty(t, list.Conversations)

	_, view, err := svc.InspectConversation(ctx, nil, InspectConversationInput{ConversationID: "sess-1", FromStep: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, view.StepCount)
	require.Len(t, view.Messages, 3)
	assert.Equal(t, 3, view.Messages[0].Step)
	assert.Equal(t, "message 2", view.Messages[0].Preview)
	assert.Equal(t, "assistant", view.Messages[1].Role)

	_, _, err = svc.InspectConversation(ctx, nil, InspectConversationInput{ConversationID: "missing"})
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestReplayService_ForkCompareAndGetRun(t *testing.T) {
	svc, results := newTestService(t)
	ctx := context.Background()

	_, out, err := svc.ForkCompare(ctx, nil, ForkCompareInput{
		ConversationID: "sess-1",
		ForkAtStep:     4,
		Branches: []model.BranchConfig{
			{Name: "a", InjectMessage: "try a", Model: "claude-sonnet-4-5"},
			{Name: "b", InjectMessage: "try b", Model: "gpt-4o"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	require.NotNil(t, out.Summary)
	assert.Equal(t, 2, out.Summary.Successful)
	assert.Contains(t, out.Report, "| a |")

	files, err := results.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, out.RunID, files[0].RunID)

	_, run, err := svc.GetRun(ctx, nil, GetRunInput{RunID: out.RunID, Format: "mermaid"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(run.Report, "graph TD"))

	_, run, err = svc.GetRun(ctx, nil, GetRunInput{RunID: out.RunID, Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.Equal(t, "b saw 4 messages", run.Result.Branches[1].LastOutput())

	_, _, err = svc.GetRun(ctx, nil, GetRunInput{RunID: out.RunID, Format: "pdf"})
	assert.Error(t, err)
}

func TestReplayService_ForkCompareFailuresAreReported(t *testing.T) {
	svc, _ := newTestService(t)

	_, out, err := svc.ForkCompare(context.Background(), nil, ForkCompareInput{
		ConversationID: "sess-1",
		ForkAtStep:     99,
		Branches:       []model.BranchConfig{{Name: "a", Model: "gpt-4o"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, string(orchestrator.KindInvalidRequest), out.ErrorKind)
	assert.Contains(t, out.Message, "upper")
}

func TestReplayService_GetRunWithoutStore(t *testing.T) {
	svc := NewReplayService(conversation.NewArchive(t.TempDir()), nil, nil)
	_, _, err := svc.GetRun(context.Background(), nil, GetRunInput{RunID: "x"})
	assert.Error(t, err)
}

func TestMCPListTools(t *testing.T) {
	session := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"fork_compare", "get_run", "inspect_conversation", "list_conversations"}, names)
}

func TestMCPForkCompare(t *testing.T) {
	session := setupServerClient(t)
	ctx := context.Background()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: "fork_compare",
		Arguments: ForkCompareInput{
			ConversationID: "sess-1",
			ForkAtStep:     2,
			Branches: []model.BranchConfig{
				{Name: "only", InjectMessage: "hello", Model: "claude-sonnet-4-5", MaxTurns: 1},
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	out := decode[ForkCompareOutput](t, result)
	assert.Equal(t, "success", out.Status)
	assert.NotEmpty(t, out.RunID)

	result, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_run",
		Arguments: GetRunInput{RunID: out.RunID},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	run := decode[GetRunOutput](t, result)
	assert.Contains(t, run.Report, "# Fork & Compare Results")
}

func TestMCPCallUnknownTool(t *testing.T) {
	session := setupServerClient(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "nonexistent_tool",
		Arguments: map[string]any{},
	})
	// The MCP SDK may return an error at the protocol level or set IsError on
	// the result. Accept either behavior.
	if err != nil {
		return
	}
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}
