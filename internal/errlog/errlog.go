// Package errlog appends to the persistent error log and, when enabled,
// broadcasts each entry to the bound channels.
package errlog

import (
	"context"
	"fmt"
	"log/slog"

	"newsbot/internal/model"
)

// Store is the subset of storage used by the Recorder.
type Store interface {
	InsertError(ctx context.Context, message, link string) error
	ErrorNotifications(ctx context.Context) (bool, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

// Sender delivers plain or HTML text to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string, html bool) bool
}

// Recorder writes error records.
type Recorder struct {
	store  Store
	sender Sender
	log    *slog.Logger
}

// New creates a Recorder. sender may be nil, in which case nothing is broadcast.
func New(store Store, sender Sender, log *slog.Logger) *Recorder {
	return &Recorder{store: store, sender: sender, log: log}
}

// Record appends an error record. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, message, link string) {
	r.log.WarnContext(ctx, "error recorded", "error", message, "link", link)

	if err := r.store.InsertError(ctx, message, link); err != nil {
		r.log.ErrorContext(ctx, "insert error record", "error", err)
	}

	if r.sender == nil {
		return
	}
	on, err := r.store.ErrorNotifications(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "read error_notifications", "error", err)
		return
	}
	if !on {
		return
	}

	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "list channels", "error", err)
		return
	}
	text := fmt.Sprintf("Error: %s\nLink: %s", message, link)
	for _, ch := range channels {
		if !r.sender.SendMessage(ctx, ch.ID, text, false) {
			r.log.WarnContext(ctx, "broadcast error", "channel", ch.ID)
		}
	}
}
