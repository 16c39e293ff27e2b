// Package openai generates one-line ticket summaries shown in the
// dashboard's ticket list.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// maxBodyChars caps how much of the first message is sent for
	// summarization; support emails rarely need more context than this.
	maxBodyChars = 2000

	systemPrompt = "You summarize customer support emails for an event operations team. " +
		"Reply with a single short sentence describing what the customer needs. " +
		"No preamble, no quotes."
)

// Client wraps the OpenAI API for ticket summarization.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient creates a summarization client. apiKey must be non-empty.
func NewClient(apiKey string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no OpenAI provider configured: set OPENAI_API_KEY")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		api:     openai.NewClient(apiKey),
		model:   string(openai.GPT4oMini),
		timeout: timeout,
	}, nil
}

// Summarize produces a one-line summary of a ticket's opening message.
// Callers treat failures as non-fatal.
func (c *Client) Summarize(ctx context.Context, subject, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Subject: %s\n\n%s", subject, body)},
		},
		MaxTokens:   60,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
