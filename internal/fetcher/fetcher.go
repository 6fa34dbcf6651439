// Package fetcher handles RSS feed downloading and entry selection.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
)

// ErrNoEntries is returned by Latest when a feed has no usable entries.
var ErrNoEntries = errors.New("feed has no entries")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Entry is the part of a feed item the poster cares about.
type Entry struct {
	Title     string
	Link      string
	Published time.Time
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses an RSS or Atom feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsPosterBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// FetchLatest fetches the feed at url and returns its most recent entry.
func (f *Fetcher) FetchLatest(ctx context.Context, url string) (Entry, error) {
	feed, err := f.Fetch(ctx, url)
	if err != nil {
		return Entry{}, err
	}
	return Latest(feed)
}

// Latest returns the most recent entry with a link. Entries are compared by
// published (or updated) date; undated feeds keep document order, so the
// first entry wins.
func Latest(feed *gofeed.Feed) (Entry, error) {
	var (
		best  *gofeed.Item
		bestT time.Time
	)
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		t := itemTime(item)
		if best == nil || t.After(bestT) {
			best, bestT = item, t
		}
	}
	if best == nil {
		return Entry{}, ErrNoEntries
	}
	return Entry{Title: best.Title, Link: best.Link, Published: bestT}, nil
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// SourceDomain returns the host part of a feed URL, or the URL itself when
// it cannot be parsed.
func SourceDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}
