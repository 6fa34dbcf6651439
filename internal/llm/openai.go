package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAI is a client for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	apiKey   string
	endpoint string
	client   HTTPClient
}

// NewOpenAI creates a client. An empty baseURL selects the public OpenAI API.
func NewOpenAI(apiKey, baseURL string, client HTTPClient) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAI{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
		client:   client,
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, r Request) (string, error) {
	if o.apiKey == "" {
		return "", ErrNoCredentials
	}

	body, err := json.Marshal(chatRequest{
		Model:       r.Model,
		Messages:    []chatMessage{{Role: "user", Content: r.Prompt}},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("empty choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
