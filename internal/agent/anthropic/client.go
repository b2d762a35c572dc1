// Package anthropic implements agent.Client on the Anthropic Messages API
// using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dusk-indust/replaylab/internal/agent"
)

const providerName = "anthropic"

// MessagesClient is the subset of the SDK used by the adapter. It is
// satisfied by *sdk.MessageService so tests can pass a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	// DefaultModel is used when a request leaves Model empty.
	DefaultModel string
	// MaxTokens caps completions when a request leaves MaxTokens unset.
	MaxTokens int
}

// Client implements agent.Client on top of Anthropic Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

var _ agent.Client = (*Client)(nil)

// New wraps an SDK messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = agent.DefaultMaxTokens
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a client on the default SDK HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues one Messages.New call.
func (c *Client) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, &agent.Error{Provider: providerName, Kind: agent.KindInvalidRequest, Message: err.Error(), Err: err}
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return translateResponse(msg)
}

func (c *Client) encodeRequest(req *agent.Request) (*sdk.MessageNewParams, error) {
	modelID := agent.StripProvider(req.Model)
	if modelID == "" {
		modelID = c.defaultModel
	}
	if modelID == "" {
		return nil, errors.New("model identifier is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

func encodeMessages(msgs []agent.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolUses)+len(m.ToolResults))
		for _, tr := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolUseID, tr.Content, tr.IsError))
		}
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, tu := range m.ToolUses {
			if tu.Name == "" {
				return nil, fmt.Errorf("tool_use %q is missing a name", tu.ID)
			}
			input := tu.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tu.ID, input, tu.Name))
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case agent.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case agent.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one user or assistant message is required")
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (*agent.Response, error) {
	if msg == nil {
		return nil, &agent.Error{Provider: providerName, Kind: agent.KindUnknown, Message: "response message is nil"}
	}
	resp := &agent.Response{
		StopReason: stopReason(msg.StopReason),
		Usage: agent.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	var texts []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			use := agent.ToolUse{ID: block.ID, Name: block.Name}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &use.Input); err != nil {
					return nil, &agent.Error{Provider: providerName, Kind: agent.KindUnknown, Message: fmt.Sprintf("decode tool_use %s input: %v", block.Name, err)}
				}
			}
			resp.ToolUses = append(resp.ToolUses, use)
		}
	}
	resp.Text = strings.Join(texts, "\n")
	return resp, nil
}

func stopReason(r sdk.StopReason) agent.StopReason {
	switch r {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return agent.StopEndTurn
	case sdk.StopReasonMaxTokens:
		return agent.StopMaxTokens
	case sdk.StopReasonToolUse:
		return agent.StopToolUse
	}
	return agent.StopOther
}

// classify turns an SDK failure into an *agent.Error. Context errors are
// returned unchanged so callers can tell a deadline from a provider fault.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &agent.Error{
			Provider:   providerName,
			Kind:       agent.ClassifyStatus(apiErr.StatusCode, apiErr.RawJSON()),
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.RawJSON(),
			Err:        err,
		}
	}
	return &agent.Error{Provider: providerName, Kind: agent.KindUnavailable, Message: err.Error(), Err: err}
}
