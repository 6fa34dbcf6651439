// Package scheduler runs the posting loop: one feed source per cycle, one
// article per source, published to every bound channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsbot/internal/fetcher"
	"newsbot/internal/logger"
	"newsbot/internal/model"
	"newsbot/internal/storage"
	"newsbot/internal/summarize"
)

// ErrNoSources is returned by Start when no feed sources are configured.
var ErrNoSources = errors.New("no feed sources configured")

// Store is the subset of storage used by the loop.
type Store interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
	IsCached(ctx context.Context, link string) (bool, error)
	SaveCacheEntry(ctx context.Context, e *model.CacheEntry) error
}

// Summarizer produces a title and summary for an article link.
type Summarizer interface {
	Summarize(ctx context.Context, link string) (summarize.Summary, error)
}

// Notifier publishes to channels.
type Notifier interface {
	CanPost(ctx context.Context, chatID string) bool
	SendMessage(ctx context.Context, chatID, text string, html bool) bool
}

// ErrorLog records failures to the persistent error log.
type ErrorLog interface {
	Record(ctx context.Context, message, link string)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running     bool
	Interval    time.Duration
	StartedAt   time.Time
	LastPostAt  time.Time
	NextRunAt   time.Time
	Source      string
	SourceIndex int
	SourceCount int
	Posts       int
	Duplicates  int
	Errors      int
}

// Scheduler owns the posting loop and its in-memory state.
type Scheduler struct {
	store   Store
	fetcher *fetcher.Fetcher
	sum     Summarizer
	notify  Notifier
	errs    ErrorLog
	log     *slog.Logger
	sources []string

	wake        chan struct{}
	joinTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	state  Status
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Scheduler posting every interval.
func New(store Store, f *fetcher.Fetcher, sum Summarizer, notify Notifier, errs ErrorLog,
	sources []string, interval time.Duration, log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:       store,
		fetcher:     f,
		sum:         sum,
		notify:      notify,
		errs:        errs,
		log:         log,
		sources:     append([]string(nil), sources...),
		wake:        make(chan struct{}, 1),
		joinTimeout: 30 * time.Second,
		now:         time.Now,
		state: Status{
			Interval:    interval,
			SourceCount: len(sources),
		},
	}
}

// Start launches the loop if it is not already running. The loop is detached
// from ctx cancellation and runs until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Running {
		return nil
	}
	if len(s.sources) == 0 {
		return ErrNoSources
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return errors.New("previous posting loop has not exited yet")
		}
	}

	// A wake signal sent while stopped must not cut the first wait short.
	select {
	case <-s.wake:
	default:
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state.Running = true
	s.state.StartedAt = s.now()

	go s.run(loopCtx, s.done)
	s.log.Info("posting started", "interval", s.state.Interval)
	return nil
}

// Stop signals the loop to exit and waits for it, up to a bounded timeout.
// A cycle in progress runs to completion; a wait in progress ends at once.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.state.Running {
		s.mu.Unlock()
		return
	}
	s.state.Running = false
	s.state.NextRunAt = time.Time{}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		s.log.Info("posting stopped")
	case <-time.After(s.joinTimeout):
		s.log.Warn("posting loop did not exit in time", "timeout", s.joinTimeout)
	}
}

// SetInterval changes the wait used from the next sleep on.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Interval = d
	return nil
}

// SkipSource advances the feed cursor by one and returns the new current source.
func (s *Scheduler) SkipSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
	return s.currentLocked()
}

// WakeNow ends the current wait so the next cycle starts immediately.
// Signals sent while no wait is in progress are coalesced into one.
func (s *Scheduler) WakeNow() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Source = s.currentLocked()
	return st
}

// run loops until ctx is cancelled. Cancellation is observed only between
// cycles and while waiting; each cycle runs on a context Stop cannot cancel.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.state.NextRunAt = time.Time{}
		s.mu.Unlock()
	}()

	cycleCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		s.safeCycle(cycleCtx)
		if !s.sleep(ctx) {
			return
		}
	}
}

// sleep waits for the interval, a wake signal or cancellation. It reports
// whether the loop should continue.
func (s *Scheduler) sleep(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	interval := s.state.Interval
	s.state.NextRunAt = s.now().Add(interval)
	s.mu.Unlock()

	s.log.Debug("waiting for next cycle", "interval", interval)
	t := time.NewTimer(interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
	case <-t.C:
	}

	// Drop a signal that arrived while the previous one was being handled.
	select {
	case <-s.wake:
	default:
	}
	return ctx.Err() == nil
}

func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "posting cycle panicked", "panic", r)
			s.countError()
			s.errs.Record(ctx, fmt.Sprintf("posting cycle panicked: %v", r), "")
		}
	}()
	s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "list channels", "error", err)
		s.countError()
		return
	}
	if len(channels) == 0 {
		s.log.InfoContext(ctx, "no channels to post to")
		return
	}

	s.mu.Lock()
	source := s.currentLocked()
	s.mu.Unlock()
	defer s.advance()

	ctx = logger.Ctx(ctx, slog.String("source", source))
	s.log.InfoContext(ctx, "processing source")

	entry, err := s.fetcher.FetchLatest(ctx, source)
	if err != nil {
		if errors.Is(err, fetcher.ErrNoEntries) {
			s.log.WarnContext(ctx, "feed has no entries")
		} else {
			s.log.ErrorContext(ctx, "fetch feed", "error", err)
		}
		s.countError()
		s.errs.Record(ctx, fmt.Sprintf("fetch feed: %v", err), source)
		return
	}

	ctx = logger.Ctx(ctx, slog.String("link", entry.Link))

	cached, err := s.store.IsCached(ctx, entry.Link)
	if err != nil {
		s.log.ErrorContext(ctx, "check cache", "error", err)
		s.countError()
		return
	}
	if cached {
		s.mu.Lock()
		s.state.Duplicates++
		s.mu.Unlock()
		s.log.InfoContext(ctx, "duplicate skipped")
		return
	}

	summary, err := s.sum.Summarize(ctx, entry.Link)
	if err != nil {
		s.log.ErrorContext(ctx, "summarize article", "error", err)
		s.countError()
		return
	}

	text := FormatPost(summary.Title, entry.Link, summary.Text)
	saved := false
	for _, ch := range channels {
		if !s.notify.CanPost(ctx, ch.ID) {
			s.log.ErrorContext(ctx, "no permission to post", "channel", ch.ID)
			s.countError()
			s.errs.Record(ctx, fmt.Sprintf("no permission to post to %s", ch.ID), entry.Link)
			continue
		}
		if !s.notify.SendMessage(ctx, ch.ID, text, true) {
			s.countError()
			s.errs.Record(ctx, fmt.Sprintf("send to %s failed", ch.ID), entry.Link)
			continue
		}

		if !saved {
			saved = true
			err := s.store.SaveCacheEntry(ctx, &model.CacheEntry{
				ID:        storage.CacheKey(entry.Link),
				Title:     summary.Title,
				Summary:   summary.Text,
				Link:      entry.Link,
				Source:    fetcher.SourceDomain(source),
				CreatedAt: s.now().UTC(),
			})
			if err != nil {
				s.log.ErrorContext(ctx, "save cache entry", "error", err)
				s.errs.Record(ctx, fmt.Sprintf("save cache entry: %v", err), entry.Link)
			}
		}

		s.mu.Lock()
		s.state.Posts++
		s.state.LastPostAt = s.now()
		s.mu.Unlock()
		s.log.InfoContext(ctx, "posted", "channel", ch.ID)
	}
}

func (s *Scheduler) countError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Errors++
}

func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
}

func (s *Scheduler) advanceLocked() {
	if len(s.sources) == 0 {
		return
	}
	s.state.SourceIndex = (s.state.SourceIndex + 1) % len(s.sources)
}

func (s *Scheduler) currentLocked() string {
	if len(s.sources) == 0 {
		return ""
	}
	return s.sources[s.state.SourceIndex]
}
