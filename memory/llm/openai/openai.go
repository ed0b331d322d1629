// Package openai adapts the OpenAI SDK (and OpenAI-compatible endpoints)
// to the memory.LLMClient interface.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/memoryos/memoryos-go/memory"
)

// Client wraps an OpenAI API client as a memory.LLMClient.
type Client struct {
	client *openai.Client
}

// New wraps an existing OpenAI client.
func New(client *openai.Client) *Client {
	return &Client{client: client}
}

// ChatCompletion sends the request and returns the first choice's content.
func (c *Client) ChatCompletion(ctx context.Context, req memory.ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens != 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
