// Package openai implements agent.Client on OpenAI-compatible chat completion
// endpoints using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/dusk-indust/replaylab/internal/agent"
)

const providerName = "openai"

// ChatClient is the subset of *openai.Client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
}

// Client implements agent.Client over chat completions.
type Client struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
}

var _ agent.Client = (*Client)(nil)

// New wraps a chat completion client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = agent.DefaultMaxTokens
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a client, pointing it at baseURL when set.
func NewFromAPIKey(apiKey, baseURL string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" && baseURL != "https://api.openai.com/v1" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), opts)
}

// Complete issues one chat completion.
func (c *Client) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	modelID := agent.StripProvider(req.Model)
	if modelID == "" {
		modelID = c.defaultModel
	}
	if modelID == "" {
		return nil, &agent.Error{Provider: providerName, Kind: agent.KindInvalidRequest, Message: "model identifier is required"}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  encodeMessages(req.System, req.Messages),
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &agent.Error{Provider: providerName, Kind: agent.KindUnavailable, Message: "response has no choices"}
	}

	choice := resp.Choices[0]
	out := &agent.Response{
		Text:       choice.Message.Content,
		StopReason: stopReason(choice.FinishReason),
		Usage: agent.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		tu := agent.ToolUse{ID: tc.ID, Name: tc.Function.Name}
		if tc.Function.Arguments != "" {
			var input map[string]any
			if json.Unmarshal([]byte(tc.Function.Arguments), &input) == nil {
				tu.Input = input
			}
		}
		out.ToolUses = append(out.ToolUses, tu)
	}
	return out, nil
}

// encodeMessages flattens tool results into role=tool messages, which is how
// chat completions model them.
func encodeMessages(system string, msgs []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		for _, tr := range m.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolUseID,
			})
		}
		if m.Text == "" && len(m.ToolUses) == 0 {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == agent.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msg := openai.ChatCompletionMessage{Role: role, Content: m.Text}
		for _, tu := range m.ToolUses {
			args, err := json.Marshal(tu.Input)
			if err != nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tu.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tu.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func stopReason(r openai.FinishReason) agent.StopReason {
	switch r {
	case openai.FinishReasonStop:
		return agent.StopEndTurn
	case openai.FinishReasonLength:
		return agent.StopMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return agent.StopToolUse
	}
	return agent.StopOther
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &agent.Error{
			Provider:   providerName,
			Kind:       agent.ClassifyStatus(apiErr.HTTPStatusCode, apiErr.Message),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &agent.Error{
			Provider:   providerName,
			Kind:       agent.ClassifyStatus(reqErr.HTTPStatusCode, fmt.Sprint(reqErr.Err)),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    err.Error(),
			Err:        err,
		}
	}
	return &agent.Error{Provider: providerName, Kind: agent.KindUnavailable, Message: err.Error(), Err: err}
}
