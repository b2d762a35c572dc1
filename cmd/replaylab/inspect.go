package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/conversation"
)

const (
	inspectContentLimit = 1000
	inspectPreviewLimit = 60
)

func runInspect(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	step := fs.Int("step", 0, "show the full message at this step (1-based)")
	full := fs.Bool("full", false, "do not truncate message content")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("usage: replaylab inspect [-step N] [-full] <session-id>")
	}

	conv, err := a.archive().Load(ctx, positional[0])
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return fmt.Errorf("conversation not found: %s", positional[0])
		}
		return err
	}

	fmt.Fprintf(stdout, "Conversation: %s\n", conv.SessionID)
	fmt.Fprintf(stdout, "Project:      %s\n", conv.ProjectPath)
	fmt.Fprintf(stdout, "Total steps:  %d\n\n", conv.StepCount())

	if *step != 0 {
		return printStep(conv, *step, *full)
	}

	fmt.Fprintf(stdout, "%4s  %-10s  %-63s  %s\n", "#", "ROLE", "PREVIEW", "TOOLS")
	for i, m := range conv.Messages {
		preview := strings.Join(strings.Fields(compare.Truncate(m.Content, inspectPreviewLimit)), " ")
		if len([]rune(m.Content)) > inspectPreviewLimit {
			preview += "..."
		}
		tools := ""
		switch {
		case len(m.ToolCalls) > 0:
			tools = fmt.Sprintf("↗%d", len(m.ToolCalls))
		case len(m.ToolResults) > 0:
			tools = fmt.Sprintf("↩%d", len(m.ToolResults))
		}
		fmt.Fprintf(stdout, "%4d  %-10s  %-63s  %s\n", i+1, m.Role, preview, tools)
	}
	fmt.Fprintln(stdout, "\nUse -step N to see full content. Tools: ↗=calls, ↩=results")
	return nil
}

func printStep(conv *conversation.Conversation, step int, full bool) error {
	if step < 1 || step > conv.StepCount() {
		return fmt.Errorf("step %d out of bounds (1-%d)", step, conv.StepCount())
	}
	m := conv.Messages[step-1]

	content := m.Content
	truncated := false
	if !full && len([]rune(content)) > inspectContentLimit {
		content = compare.Truncate(content, inspectContentLimit)
		truncated = true
	}
	fmt.Fprintf(stdout, "Step %d [%s]\n%s\n", step, m.Role, content)
	if truncated {
		fmt.Fprintln(stdout, "... content truncated. Use -full to see all.")
	}

	if len(m.ToolCalls) > 0 {
		fmt.Fprintf(stdout, "\nTool Calls (%d):\n", len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(stdout, "  • %s (id: %s)\n", tc.Name, shortToolID(tc.ID))
		}
	}
	if len(m.ToolResults) > 0 {
		fmt.Fprintf(stdout, "\nTool Results (%d):\n", len(m.ToolResults))
		for _, tr := range m.ToolResults {
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(stdout, "  • %s (id: %s)\n", status, shortToolID(tr.ToolCallID))
		}
	}
	return nil
}

func shortToolID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
