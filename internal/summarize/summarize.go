// Package summarize turns an article link into a validated title and summary
// using a language model.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"newsbot/internal/llm"
	"newsbot/internal/model"
)

// Defaults for the completion call.
const (
	DefaultAttempts    = 3
	DefaultBackoff     = 2 * time.Second
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// Store provides the runtime prompt and model.
type Store interface {
	Prompt(ctx context.Context) (string, error)
	Model(ctx context.Context) (string, error)
}

// Extractor returns the readable text of an article.
type Extractor interface {
	Text(ctx context.Context, link string) (string, error)
}

// ErrorLog records failures to the persistent error log.
type ErrorLog interface {
	Record(ctx context.Context, message, link string)
}

// Summary is a successful result.
type Summary struct {
	Title string
	Text  string
}

// Error is returned when no valid summary could be produced.
type Error struct {
	Reason   string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("summarize failed after %d attempt(s): %s: %v", e.Attempts, e.Reason, e.Err)
	}
	return fmt.Sprintf("summarize failed after %d attempt(s): %s", e.Attempts, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

var errInvalidTitle = errors.New("title contains unsupported characters")

// Summarizer calls the model with the configured prompt and validates the reply.
type Summarizer struct {
	store     Store
	completer llm.Completer
	extractor Extractor
	errs      ErrorLog
	log       *slog.Logger

	attempts int
	backoff  time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last model.LLMResponse
}

// New creates a Summarizer. extractor may be nil when prompts never use {text}.
func New(store Store, completer llm.Completer, extractor Extractor, errs ErrorLog, log *slog.Logger) *Summarizer {
	return &Summarizer{
		store:     store,
		completer: completer,
		extractor: extractor,
		errs:      errs,
		log:       log,
		attempts:  DefaultAttempts,
		backoff:   DefaultBackoff,
		now:       time.Now,
	}
}

// Summarize produces a title and summary for the article at link. On failure
// the returned error is a *Error.
func (s *Summarizer) Summarize(ctx context.Context, link string) (Summary, error) {
	tmpl, err := s.store.Prompt(ctx)
	if err != nil {
		return Summary{}, s.fail(ctx, link, "read prompt", 0, err)
	}
	modelName, err := s.store.Model(ctx)
	if err != nil {
		return Summary{}, s.fail(ctx, link, "read model", 0, err)
	}

	prompt := strings.ReplaceAll(tmpl, "{url}", link)
	if strings.Contains(prompt, "{text}") {
		if s.extractor == nil {
			return Summary{}, s.fail(ctx, link, "article extraction unavailable", 0, nil)
		}
		text, err := s.extractor.Text(ctx, link)
		if err != nil {
			return Summary{}, s.fail(ctx, link, "extract article", 0, err)
		}
		prompt = strings.ReplaceAll(prompt, "{text}", text)
	}

	var (
		result  Summary
		attempt int
		lastErr error
	)
	backoff := retry.WithMaxRetries(uint64(max(s.attempts, 1)-1), retry.NewConstant(s.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s.log.InfoContext(ctx, "requesting summary", "attempt", attempt, "model", modelName)

		raw, err := s.completer.Complete(ctx, llm.Request{
			Model:       modelName,
			Prompt:      prompt,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
		})
		if errors.Is(err, llm.ErrNoCredentials) {
			lastErr = err
			return err
		}
		if err != nil {
			lastErr = err
			s.errs.Record(ctx, fmt.Sprintf("completion request: %v", err), link)
			return retry.RetryableError(err)
		}

		raw = strings.TrimSpace(raw)
		s.remember(link, raw)

		title, summary := ParseResponse(raw)
		title = SanitizeTitle(title)
		if !ValidTitle(title) {
			lastErr = errInvalidTitle
			s.errs.Record(ctx, fmt.Sprintf("invalid title: %s", title), link)
			return retry.RetryableError(errInvalidTitle)
		}
		result = Summary{Title: title, Text: summary}
		return nil
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(lastErr, llm.ErrNoCredentials) {
		return Summary{}, s.fail(ctx, link, "missing model credentials", attempt, lastErr)
	}
	if ctx.Err() != nil {
		return Summary{}, &Error{Reason: "cancelled", Attempts: attempt, Err: ctx.Err()}
	}
	return Summary{}, &Error{Reason: "attempts exhausted", Attempts: attempt, Err: lastErr}
}

// LastResponse returns the most recent raw completion. ok is false until the
// first response arrives.
func (s *Summarizer) LastResponse() (resp model.LLMResponse, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.last.ReceivedAt.IsZero()
}

func (s *Summarizer) remember(link, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = model.LLMResponse{Link: link, Raw: raw, ReceivedAt: s.now()}
}

func (s *Summarizer) fail(ctx context.Context, link, reason string, attempts int, err error) *Error {
	msg := reason
	if err != nil {
		msg = fmt.Sprintf("%s: %v", reason, err)
	}
	s.errs.Record(ctx, msg, link)
	return &Error{Reason: reason, Attempts: attempts, Err: err}
}
