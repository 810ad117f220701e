package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicTransport sends requests to the Anthropic Messages API. It
// returns the raw response text; format detection is the parser's job.
type AnthropicTransport struct {
	client anthropic.Client
}

// NewAnthropicTransport builds the transport. If apiKey is empty the
// ANTHROPIC_API_KEY environment variable is used.
func NewAnthropicTransport(apiKey string) (*AnthropicTransport, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	return &AnthropicTransport{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

func (t *AnthropicTransport) Send(ctx context.Context, req *Request) (any, error) {
	resp, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// classifyAnthropicError maps SDK errors onto the transport taxonomy so
// the retry policy can decide without string matching on every layer.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := ErrServer
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			kind = ErrClient
		}
		return &TransportError{Kind: kind, StatusCode: apiErr.StatusCode, Err: err}
	}
	return classifyError(err)
}
