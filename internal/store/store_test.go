package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/replaylab/internal/checkpoint"
	"github.com/dusk-indust/replaylab/internal/conversation"
	"github.com/dusk-indust/replaylab/internal/model"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "replaylab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replaylab.db")
	db, err := Open(path)
	require.NoError(t, err)
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err = db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestCheckpoints_SaveLoadUpsert(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cp := &checkpoint.Checkpoint{
		ConversationID: "conv-1",
		Step:           2,
		ProjectPath:    "/work",
		CreatedAt:      created,
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "hi"},
			{Role: conversation.RoleAssistant, Content: "hello", ToolCalls: []conversation.ToolCall{{ID: "t1", Name: "Read", Input: map[string]any{"path": "a.go"}}}},
		},
	}
	require.NoError(t, db.Save(ctx, cp))

	got, err := db.Load(ctx, "conv-1", 2)
	require.NoError(t, err)
	assert.True(t, cp.Equal(got))
	assert.True(t, created.Equal(got.CreatedAt))

	cp.Messages = cp.Messages[:1]
	require.NoError(t, db.Save(ctx, cp))
	got, err = db.Load(ctx, "conv-1", 2)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)

	require.NoError(t, db.Save(ctx, &checkpoint.Checkpoint{ConversationID: "conv-1", Step: 0, Messages: []conversation.Message{}}))
	empty, err := db.Load(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)

	steps, err := db.List(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, steps)

	_, err = db.Load(ctx, "conv-1", 9)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestCheckpoints_ThroughExtractor(t *testing.T) {
	db := openTest(t)
	conv := &conversation.Conversation{
		SessionID: "conv-x",
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "a"},
			{Role: conversation.RoleAssistant, Content: "b"},
			{Role: conversation.RoleUser, Content: "c"},
		},
	}
	x := &checkpoint.Extractor{Store: db}
	cp, err := x.Extract(context.Background(), conv, 2)
	require.NoError(t, err)

	stored, err := db.Load(context.Background(), "conv-x", 2)
	require.NoError(t, err)
	assert.True(t, cp.Equal(stored))
}

func result(id, conv string, status model.RunStatus, created time.Time) *model.ComparisonResult {
	return &model.ComparisonResult{
		RunID:      id,
		Request:    model.ReplayRequest{ConversationID: conv, ForkAtStep: 3},
		Checkpoint: model.CheckpointRef{ConversationID: conv, Step: 3, MessageCount: 3},
		Branches: []model.BranchResult{
			{BranchName: "a", Status: model.StatusSuccess, Messages: []conversation.Message{}},
			{BranchName: "b", Status: model.StatusError, Error: "boom", Messages: []conversation.Message{}},
		},
		Status:          status,
		Summary:         model.Summary{TotalBranches: 2, Successful: 1, Failed: 1},
		TotalDurationMS: 1500,
		CreatedAt:       created,
	}
}

func TestRuns_SaveGetList(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveRun(ctx, result("r1", "conv-1", model.RunPartial, base)))
	require.NoError(t, RunSink{DB: db}.Save(ctx, result("r2", "conv-1", model.RunSuccess, base.Add(time.Minute))))
	require.NoError(t, db.SaveRun(ctx, result("r3", "conv-2", model.RunPartial, base.Add(2*time.Minute))))

	got, err := db.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	require.Len(t, got.Branches, 2)
	assert.Equal(t, "boom", got.Branches[1].Error)

	all, err := db.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})
	assert.Equal(t, 2, all[0].BranchCount)
	assert.Equal(t, 1, all[0].Successful)
	assert.True(t, base.Add(2*time.Minute).Equal(all[0].CreatedAt))

	byConv, err := db.ListRuns(ctx, RunFilter{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Len(t, byConv, 2)

	partial, err := db.ListRuns(ctx, RunFilter{Status: model.RunPartial, Limit: 1})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, "r3", partial[0].RunID)

	_, err = db.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.Error(t, db.SaveRun(ctx, &model.ComparisonResult{}))
}
