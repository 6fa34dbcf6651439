// Package bot is the command gateway: it receives Telegram updates over a
// webhook or long polling and drives the scheduler and the store.
package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"newsbot/internal/logger"
	"newsbot/internal/model"
	"newsbot/internal/scheduler"
	"newsbot/internal/storage"
)

// Scheduler is the posting loop as seen by commands.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	SetInterval(d time.Duration) error
	SkipSource() string
	WakeNow()
	Status() scheduler.Status
}

// Notifier talks to Telegram chats.
type Notifier interface {
	SendMessage(ctx context.Context, chatID, text string, html bool) bool
	SendFile(ctx context.Context, chatID, path string) bool
	CanPost(ctx context.Context, chatID string) bool
	FileURL(fileID string) (string, error)
}

// Diagnostics exposes the last raw model response.
type Diagnostics interface {
	LastResponse() (model.LLMResponse, bool)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpdateSource delivers updates by long polling.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles admin commands.
type Bot struct {
	store  storage.Storage
	sched  Scheduler
	notify Notifier
	diag   Diagnostics
	http   HTTPClient
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Bot.
func New(store storage.Storage, sched Scheduler, notify Notifier, diag Diagnostics, log *slog.Logger) *Bot {
	return &Bot{
		store:  store,
		sched:  sched,
		notify: notify,
		diag:   diag,
		http:   &http.Client{Timeout: 2 * time.Minute},
		log:    log,
		now:    time.Now,
	}
}

// Run consumes updates by long polling, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, api UpdateSource) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// Handler returns the webhook HTTP handler: POST /webhook and GET /ping.
func (b *Bot) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(b.accessLog)
	r.HandleFunc("/webhook", b.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(b.log.Handler(), slog.LevelError)),
	)(r)
}

// Telegram retries deliveries that do not get a 200, so every update is
// acknowledged even when it cannot be decoded.
func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.log.WarnContext(r.Context(), "decode update", "error", err)
		_, _ = w.Write([]byte("OK"))
		return
	}
	b.HandleUpdate(context.WithoutCancel(r.Context()), update)
	_, _ = w.Write([]byte("OK"))
}

func (b *Bot) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)
		b.log.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// HandleUpdate processes a single Telegram update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.From == nil || msg.From.UserName == "" {
		b.reply(ctx, chatID, "You have no username. Set one in your Telegram settings.")
		return
	}
	user := msg.From.UserName
	ctx = logger.Ctx(ctx, slog.String("user", user), slog.String("chat_id", chatID))

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.Text == restorePrompt {
		b.withChannel(ctx, chatID, user, func(string) { b.handleRestore(ctx, chatID, msg) })
		return
	}

	text := strings.TrimSpace(msg.Text)
	if IsChannelRef(text) {
		b.handleBind(ctx, chatID, user, text)
		return
	}

	cmd, args, ok := ParseCommand(text)
	if !ok {
		return
	}
	b.log.DebugContext(ctx, "command", "cmd", cmd)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, user)
		return
	case "help":
		b.reply(ctx, chatID, helpText)
		return
	}

	handler, known := b.commands()[cmd]
	if !known {
		b.reply(ctx, chatID, "Unknown command. Use /help for a list of commands.")
		return
	}
	b.withChannel(ctx, chatID, user, func(channel string) {
		handler(ctx, cmdContext{chatID: chatID, user: user, channel: channel, args: args})
	})
}

func (b *Bot) reply(ctx context.Context, chatID, text string) {
	b.notify.SendMessage(ctx, chatID, text, false)
}
