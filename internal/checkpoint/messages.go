package checkpoint

import (
	"github.com/dusk-indust/replaylab/internal/agent"
	"github.com/dusk-indust/replaylab/internal/conversation"
)

// ToAPIMessages converts the checkpoint prefix into prompt messages, keeping
// tool uses and tool results as structured blocks.
func ToAPIMessages(cp *Checkpoint) []agent.Message {
	return MessagesToAPI(cp.Messages)
}

// MessagesToAPI converts recorded messages into prompt messages.
func MessagesToAPI(msgs []conversation.Message) []agent.Message {
	out := make([]agent.Message, 0, len(msgs))
	for _, m := range msgs {
		am := agent.Message{Role: agent.RoleUser, Text: m.Content}
		if m.Role == conversation.RoleAssistant {
			am.Role = agent.RoleAssistant
		}
		for _, tc := range m.ToolCalls {
			am.ToolUses = append(am.ToolUses, agent.ToolUse{ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		for _, tr := range m.ToolResults {
			am.ToolResults = append(am.ToolResults, agent.ToolResult{ToolUseID: tr.ToolCallID, Content: tr.Output, IsError: tr.IsError})
		}
		out = append(out, am)
	}
	return out
}
