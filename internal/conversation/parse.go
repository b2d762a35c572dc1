package conversation

import (
	"encoding/json"
	"strings"

	"github.com/dusk-indust/replaylab/internal/logging"
)

// record is the union of the JSONL shapes found in session archives: flat
// records carry role/content at the top level, Claude session records nest
// them under "message".
type record struct {
	Type        string          `json:"type"`
	Role        string          `json:"role"`
	Content     json.RawMessage `json:"content"`
	Timestamp   string          `json:"timestamp"`
	ToolCalls   []rawToolCall   `json:"tool_calls"`
	ToolResults []rawToolResult `json:"tool_results"`
	Message     *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type rawToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type rawToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func parseLine(raw []byte, lineNum int, source string) (Message, bool) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Message{}, false
	}

	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		logging.Debug().Err(err).Int("line", lineNum).Str("source", source).Msg("skipping malformed record")
		return Message{}, false
	}

	role := rec.Role
	content := rec.Content
	if role == "" && rec.Message != nil {
		role = rec.Message.Role
		content = rec.Message.Content
	}
	if !Role(role).Valid() {
		return Message{}, false
	}

	msg := Message{
		Role:      Role(role),
		Timestamp: rec.Timestamp,
	}

	text, calls, results := decodeContent(content)
	msg.Content = text

	for _, tc := range rec.ToolCalls {
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Input: orEmpty(tc.Input)})
	}
	for _, tr := range rec.ToolResults {
		results = append(results, ToolResult{ToolCallID: tr.ToolCallID, Output: tr.Output, IsError: tr.IsError})
	}
	if len(calls) > 0 {
		msg.ToolCalls = calls
	}
	if len(results) > 0 {
		msg.ToolResults = results
	}
	return msg, true
}

// decodeContent accepts either a plain string or a list of content blocks.
// Text blocks (and bare strings inside the list) are joined with newlines.
func decodeContent(raw json.RawMessage) (string, []ToolCall, []ToolResult) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", nil, nil
	}

	var (
		texts   []string
		calls   []ToolCall
		results []ToolResult
	)
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			texts = append(texts, str)
			continue
		}
		var b contentBlock
		if err := json.Unmarshal(item, &b); err != nil {
			continue
		}
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "tool_use":
			calls = append(calls, ToolCall{ID: b.ID, Name: b.Name, Input: orEmpty(b.Input)})
		case "tool_result":
			out, _, _ := decodeContent(b.Content)
			results = append(results, ToolResult{ToolCallID: b.ToolUseID, Output: out, IsError: b.IsError})
		}
	}
	return strings.Join(texts, "\n"), calls, results
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
