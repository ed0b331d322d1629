// Package anthropic adapts the Anthropic SDK to the memory.LLMClient
// interface used by the consolidation engine.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/memoryos/memoryos-go/memory"
)

// Client wraps an Anthropic API client as a memory.LLMClient.
type Client struct {
	client *anthropic.Client
}

// New wraps an existing Anthropic client.
func New(client *anthropic.Client) *Client {
	return &Client{client: client}
}

// ChatCompletion sends the request and concatenates the text blocks of the
// response. System-role messages become the request's system prompt.
func (c *Client) ChatCompletion(ctx context.Context, req memory.ChatRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	params.System = system
	params.Messages = messages

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
