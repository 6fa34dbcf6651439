// Package extract pulls readable article text out of web pages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrEmpty is returned when a page has no readable text.
var ErrEmpty = errors.New("article has no readable text")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Extractor downloads pages and keeps the text of recent ones in memory.
type Extractor struct {
	client   HTTPClient
	cache    *lru.Cache[string, string]
	maxChars int
}

// New creates an Extractor. cacheSize bounds the number of remembered pages.
func New(client HTTPClient, cacheSize int) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	cache, _ := lru.New[string, string](max(cacheSize, 1))
	return &Extractor{
		client:   client,
		cache:    cache,
		maxChars: 12000,
	}
}

// Text returns the readable text of the article at link, truncated to a
// size suitable for a prompt.
func (e *Extractor) Text(ctx context.Context, link string) (string, error) {
	if text, ok := e.cache.Get(link); ok {
		return text, nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsPosterBot/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	parser := readability.NewParser()
	article, err := parser.Parse(resp.Body, u)
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if text == "" {
		return "", ErrEmpty
	}
	if r := []rune(text); len(r) > e.maxChars {
		text = string(r[:e.maxChars])
	}

	e.cache.Add(link, text)
	return text, nil
}
