package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic is a Completer backed by the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates a client. baseURL may be empty.
func NewAnthropic(apiKey, baseURL string) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, r Request) (string, error) {
	maxTokens := int64(r.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 500
	}
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(r.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(r.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(r.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude error: %w", err)
	}

	var out strings.Builder
	for _, content := range resp.Content {
		out.WriteString(content.Text)
	}
	if out.Len() == 0 {
		return "", errors.New("empty content in response")
	}
	return out.String(), nil
}
