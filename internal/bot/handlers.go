package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newsbot/internal/model"
	"newsbot/internal/storage"
)

const (
	restorePrompt   = "Send the database file (feedcache.db) in reply to this message"
	restoreFileName = "feedcache.db"
	notAdminText    = "You are not an admin of any channel."
	errorsShown     = 10
)

type cmdContext struct {
	chatID  string
	user    string
	channel string
	args    string
}

type commandFunc func(ctx context.Context, c cmdContext)

func (b *Bot) commands() map[string]commandFunc {
	return map[string]commandFunc{
		"startposting":    b.handleStartPosting,
		"stopposting":     b.handleStopPosting,
		"setinterval":     b.handleSetInterval,
		"nextpost":        b.handleNextPost,
		"skiprss":         b.handleSkipRSS,
		"editprompt":      b.handleEditPrompt,
		"changellm":       b.handleChangeLLM,
		"errnotification": b.handleErrNotification,
		"info":            b.handleInfo,
		"errinf":          b.handleErrInf,
		"feedcache":       b.handleFeedCache,
		"feedcacheclear":  b.handleFeedCacheClear,
		"addadmin":        b.handleAddAdmin,
		"removeadmin":     b.handleRemoveAdmin,
		"debug":           b.handleDebug,
		"sqlitebackup":    b.handleBackup,
		"sqliteupdate":    b.handleRestoreRequest,
	}
}

// withChannel runs fn with the channel the user administers, or replies
// that the user is not an admin.
func (b *Bot) withChannel(ctx context.Context, chatID, user string, fn func(channel string)) {
	channel, err := b.store.ChannelByAdmin(ctx, user)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, chatID, notAdminText)
		return
	}
	if err != nil {
		b.log.ErrorContext(ctx, "lookup admin channel", "error", err)
		b.reply(ctx, chatID, "Internal error, try again later.")
		return
	}
	fn(channel)
}

func (b *Bot) handleStart(ctx context.Context, chatID, user string) {
	channel, err := b.store.ChannelByAdmin(ctx, user)
	switch {
	case err == nil:
		b.reply(ctx, chatID, fmt.Sprintf("You are already an admin of %s. Use /startposting to begin.", channel))
	case errors.Is(err, storage.ErrNotFound):
		b.reply(ctx, chatID, "Send the channel to post to (for example @channelname or -1001234567890):")
	default:
		b.log.ErrorContext(ctx, "lookup admin channel", "error", err)
		b.reply(ctx, chatID, "Internal error, try again later.")
	}
}

func (b *Bot) handleBind(ctx context.Context, chatID, user, channel string) {
	if existing, err := b.store.ChannelByAdmin(ctx, user); err == nil {
		b.reply(ctx, chatID, fmt.Sprintf("You already manage %s.", existing))
		return
	}
	if _, err := b.store.ChannelCreator(ctx, channel); err == nil {
		b.reply(ctx, chatID, "This channel is already bound. Ask its admins for access.")
		return
	}
	if !b.notify.CanPost(ctx, channel) {
		b.reply(ctx, chatID, "The bot is not an administrator of this channel.")
		return
	}

	err := b.store.SaveChannel(ctx, channel, user)
	if errors.Is(err, storage.ErrAlreadyBound) {
		b.reply(ctx, chatID, "This channel is already bound. Ask its admins for access.")
		return
	}
	if err != nil {
		b.log.ErrorContext(ctx, "save channel", "channel", channel, "error", err)
		b.reply(ctx, chatID, fmt.Sprintf("Failed to bind channel: %v", err))
		return
	}
	b.log.InfoContext(ctx, "channel bound", "channel", channel)
	b.reply(ctx, chatID, fmt.Sprintf("Channel %s bound. You are its creator. Use /startposting to begin.", channel))
}

func (b *Bot) handleStartPosting(ctx context.Context, c cmdContext) {
	if b.sched.Status().Running {
		b.reply(ctx, c.chatID, "Posting is already running.")
		return
	}
	if err := b.sched.Start(ctx); err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Could not start posting: %v", err))
		return
	}
	b.reply(ctx, c.chatID, fmt.Sprintf("Posting started in %s", c.channel))
}

func (b *Bot) handleStopPosting(ctx context.Context, c cmdContext) {
	b.sched.Stop()
	b.reply(ctx, c.chatID, "Posting stopped")
}

func (b *Bot) handleSetInterval(ctx context.Context, c cmdContext) {
	if c.args == "" {
		b.reply(ctx, c.chatID, "Specify the interval: /setinterval 34m")
		return
	}
	secs, err := ParseInterval(c.args)
	if err != nil {
		b.reply(ctx, c.chatID, "Invalid format. Use: /setinterval 34m, 1h, 2h 53m")
		return
	}
	d := secondsToDuration(secs)
	if err := b.sched.SetInterval(d); err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Could not set interval: %v", err))
		return
	}
	b.reply(ctx, c.chatID, fmt.Sprintf("Posting interval set to %s", FormatInterval(d)))
}

func (b *Bot) handleNextPost(ctx context.Context, c cmdContext) {
	if !b.sched.Status().Running {
		b.reply(ctx, c.chatID, "Posting is not active. Use /startposting first.")
		return
	}
	b.sched.WakeNow()
	b.reply(ctx, c.chatID, "Timer reset. The next post will be published now.")
}

func (b *Bot) handleSkipRSS(ctx context.Context, c cmdContext) {
	source := b.sched.SkipSource()
	b.reply(ctx, c.chatID, fmt.Sprintf("RSS source skipped. Current source: %s", source))
}

func (b *Bot) handleEditPrompt(ctx context.Context, c cmdContext) {
	if c.args == "" {
		b.reply(ctx, c.chatID, "Send the new prompt after the command, for example:\n/editprompt Summarize {url} ...")
		return
	}
	if err := b.store.SetConfig(ctx, model.ConfigPrompt, c.args); err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, c.chatID, "Prompt updated:\n"+c.args)
}

func (b *Bot) handleChangeLLM(ctx context.Context, c cmdContext) {
	fields := strings.Fields(c.args)
	if len(fields) == 0 {
		b.reply(ctx, c.chatID, "Specify the model, for example: /changellm gpt-4o-mini")
		return
	}
	if err := b.store.SetConfig(ctx, model.ConfigModel, fields[0]); err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, c.chatID, fmt.Sprintf("Model changed to: %s", fields[0]))
}

func (b *Bot) handleErrNotification(ctx context.Context, c cmdContext) {
	state := strings.ToLower(strings.TrimSpace(c.args))
	if state != "on" && state != "off" {
		b.reply(ctx, c.chatID, "Use: /errnotification on or /errnotification off")
		return
	}
	if err := b.store.SetConfig(ctx, model.ConfigErrorNotifications, state); err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, c.chatID, fmt.Sprintf("Error notifications: %s", state))
}

func (b *Bot) handleInfo(ctx context.Context, c cmdContext) {
	info := StatusInfo{
		Channel:   c.channel,
		Scheduler: b.sched.Status(),
		Now:       b.now(),
	}
	var err error
	if info.Creator, err = b.store.ChannelCreator(ctx, c.channel); err != nil {
		b.log.WarnContext(ctx, "channel creator", "error", err)
	}
	if info.Admins, err = b.store.Admins(ctx, c.channel); err != nil {
		b.log.WarnContext(ctx, "channel admins", "error", err)
	}
	if info.CacheSize, err = b.store.CountCache(ctx); err != nil {
		b.log.WarnContext(ctx, "count cache", "error", err)
	}
	if info.Model, err = b.store.Model(ctx); err != nil {
		b.log.WarnContext(ctx, "read model", "error", err)
	}
	if info.Prompt, err = b.store.Prompt(ctx); err != nil {
		b.log.WarnContext(ctx, "read prompt", "error", err)
	}
	b.reply(ctx, c.chatID, FormatStatus(info))
}

func (b *Bot) handleErrInf(ctx context.Context, c cmdContext) {
	records, err := b.store.RecentErrors(ctx, errorsShown)
	if err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, c.chatID, FormatErrors(records))
}

type cacheJSON struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

func (b *Bot) handleFeedCache(ctx context.Context, c cmdContext) {
	entries, err := b.store.ListCache(ctx)
	if err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(entries) == 0 {
		b.reply(ctx, c.chatID, "Feed cache is empty")
		return
	}
	out := make([]cacheJSON, len(entries))
	for i, e := range entries {
		out[i] = cacheJSON{
			ID:        e.ID,
			Title:     e.Title,
			Summary:   e.Summary,
			Link:      e.Link,
			Source:    e.Source,
			Timestamp: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, c.chatID, "Feed cache:\n"+string(data))
}

func (b *Bot) handleFeedCacheClear(ctx context.Context, c cmdContext) {
	if err := b.store.ClearCache(ctx); err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, c.chatID, "Feed cache cleared")
}

func (b *Bot) handleAddAdmin(ctx context.Context, c cmdContext) {
	name, ok := ParseUsername(c.args)
	if !ok {
		b.reply(ctx, c.chatID, "Specify a username: /addadmin @username")
		return
	}
	err := b.store.AddAdmin(ctx, c.channel, name, c.user)
	switch {
	case err == nil:
		b.reply(ctx, c.chatID, fmt.Sprintf("@%s added as an admin of %s", name, c.channel))
	case errors.Is(err, storage.ErrNotAdmin):
		b.reply(ctx, c.chatID, "You cannot add admins to this channel.")
	default:
		b.log.ErrorContext(ctx, "add admin", "error", err)
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleRemoveAdmin(ctx context.Context, c cmdContext) {
	name, ok := ParseUsername(c.args)
	if !ok {
		b.reply(ctx, c.chatID, "Specify a username: /removeadmin @username")
		return
	}
	err := b.store.RemoveAdmin(ctx, c.channel, name, c.user)
	switch {
	case err == nil:
		b.reply(ctx, c.chatID, fmt.Sprintf("@%s removed from the admins of %s", name, c.channel))
	case errors.Is(err, storage.ErrCreatorProtected):
		b.reply(ctx, c.chatID, "The channel creator cannot be removed.")
	case errors.Is(err, storage.ErrNotAdmin):
		b.reply(ctx, c.chatID, "You cannot remove admins from this channel.")
	case errors.Is(err, storage.ErrNotFound):
		b.reply(ctx, c.chatID, fmt.Sprintf("@%s is not an admin of %s", name, c.channel))
	default:
		b.log.ErrorContext(ctx, "remove admin", "error", err)
		b.reply(ctx, c.chatID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) handleDebug(ctx context.Context, c cmdContext) {
	resp, ok := b.diag.LastResponse()
	if !ok {
		b.reply(ctx, c.chatID, "No LLM responses yet. Try again after an article has been processed.")
		return
	}
	b.reply(ctx, c.chatID, FormatDebug(resp))
}

func (b *Bot) handleBackup(ctx context.Context, c cmdContext) {
	dir, err := os.MkdirTemp("", "newsbot-backup-")
	if err != nil {
		b.reply(ctx, c.chatID, fmt.Sprintf("Backup failed: %v", err))
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, restoreFileName)
	if err := b.store.Backup(ctx, path); err != nil {
		b.log.ErrorContext(ctx, "backup database", "error", err)
		b.reply(ctx, c.chatID, fmt.Sprintf("Backup failed: %v", err))
		return
	}
	if !b.notify.SendFile(ctx, c.chatID, path) {
		b.reply(ctx, c.chatID, "Could not upload the database file.")
		return
	}
	b.reply(ctx, c.chatID, "Database exported")
}

func (b *Bot) handleRestoreRequest(ctx context.Context, c cmdContext) {
	b.reply(ctx, c.chatID, restorePrompt)
}

func (b *Bot) handleRestore(ctx context.Context, chatID string, msg *tgbotapi.Message) {
	if msg.Document == nil {
		b.reply(ctx, chatID, "Attach the database file.")
		return
	}
	if msg.Document.FileName != restoreFileName {
		b.reply(ctx, chatID, fmt.Sprintf("The file must be named %s", restoreFileName))
		return
	}

	url, err := b.notify.FileURL(msg.Document.FileID)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Could not fetch the file: %v", err))
		return
	}

	dir, err := os.MkdirTemp("", "newsbot-restore-")
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Restore failed: %v", err))
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, restoreFileName)
	if err := b.download(ctx, url, path); err != nil {
		b.log.ErrorContext(ctx, "download database", "error", err)
		b.reply(ctx, chatID, fmt.Sprintf("Could not fetch the file: %v", err))
		return
	}
	if err := b.store.Restore(ctx, path); err != nil {
		b.log.ErrorContext(ctx, "restore database", "error", err)
		b.reply(ctx, chatID, fmt.Sprintf("Restore failed: %v", err))
		return
	}
	b.log.InfoContext(ctx, "database restored")
	b.reply(ctx, chatID, "Database restored")
}

func (b *Bot) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(dest) //nolint:gosec // dest is inside a fresh temp dir
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return f.Close()
}

// maxIntervalSeconds is the longest interval a time.Duration can hold.
const maxIntervalSeconds = int64(math.MaxInt64 / int64(time.Second))

func secondsToDuration(secs int) time.Duration {
	n := int64(secs)
	if n > maxIntervalSeconds {
		n = maxIntervalSeconds
	}
	return time.Duration(n) * time.Second
}
