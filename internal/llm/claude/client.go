// Package claude calls the Anthropic Messages API through the official SDK.
package claude

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/spec-kit/ticket-triage/internal/triage"
)

// ProviderName identifies this provider in logs, metrics and errors.
const ProviderName = "anthropic"

const defaultMaxTokens = 1024

// Client implements triage.Provider for Claude models.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude client. Extra options are appended after the API key,
// which lets tests point the SDK at a local server.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	return &Client{
		sdk:       anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

func (c *Client) Name() string { return ProviderName }

// Complete sends the prompt as a single user turn and returns the reply as a
// {"content":[{"type":..., "text":...}]} document.
func (c *Client) Complete(ctx context.Context, prompt triage.Prompt) (any, error) {
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	})
	if err != nil {
		return nil, toProviderError(err)
	}
	return fromSDKResponse(msg), nil
}

func fromSDKResponse(msg *anthropic.Message) map[string]any {
	blocks := make([]any, 0, len(msg.Content))
	for _, block := range msg.Content {
		blocks = append(blocks, map[string]any{
			"type": string(block.Type),
			"text": block.Text,
		})
	}
	return map[string]any{
		"content":     blocks,
		"stop_reason": string(msg.StopReason),
	}
}

func toProviderError(err error) *triage.ProviderError {
	perr := &triage.ProviderError{Provider: ProviderName, Message: err.Error(), Err: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr.Status = apiErr.StatusCode
	}
	return perr
}
