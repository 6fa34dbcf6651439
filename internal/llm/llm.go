// Package llm talks to chat-completion providers.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrNoCredentials is returned when the provider for a model has no API key.
var ErrNoCredentials = errors.New("no credentials configured for model")

// Request is a single-turn completion request.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer sends a prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Router picks a provider by model name. Models starting with "claude" go to
// Anthropic, everything else to the OpenAI-compatible endpoint.
type Router struct {
	OpenAI    Completer
	Anthropic Completer
}

// Complete forwards req to the provider that serves req.Model.
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	target := r.OpenAI
	if IsAnthropicModel(req.Model) {
		target = r.Anthropic
	}
	if target == nil {
		return "", ErrNoCredentials
	}
	return target.Complete(ctx, req)
}

// IsAnthropicModel reports whether model is served by Anthropic.
func IsAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "claude")
}
