// Package telegram wraps the Bot API calls the poster needs.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is the longest text Telegram accepts in one message.
const MaxMessageLength = 4096

// API is the subset of *tgbotapi.BotAPI used by Client.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Client sends messages and files and checks posting rights.
type Client struct {
	api API
	log *slog.Logger

	mu    sync.Mutex
	botID int64
}

// New creates a Client over api.
func New(api API, log *slog.Logger) *Client {
	return &Client{api: api, log: log}
}

// SendMessage sends text to chatID, which is a numeric id or an @username.
// It reports whether the message was delivered.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, html bool) bool {
	msg := tgbotapi.MessageConfig{
		BaseChat: baseChat(chatID),
		Text:     Truncate(text),
	}
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	} else {
		msg.DisableWebPagePreview = true
	}
	if _, err := c.api.Send(msg); err != nil {
		c.log.ErrorContext(ctx, "send message", "chat_id", chatID, "error", err)
		return false
	}
	return true
}

// SendFile uploads the file at path to chatID as a document.
func (c *Client) SendFile(ctx context.Context, chatID, path string) bool {
	doc := tgbotapi.DocumentConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: baseChat(chatID),
			File:     tgbotapi.FilePath(path),
		},
	}
	if _, err := c.api.Send(doc); err != nil {
		c.log.ErrorContext(ctx, "send file", "chat_id", chatID, "path", path, "error", err)
		return false
	}
	return true
}

// CanPost reports whether the bot is an administrator of chatID.
func (c *Client) CanPost(ctx context.Context, chatID string) bool {
	botID, err := c.selfID()
	if err != nil {
		c.log.ErrorContext(ctx, "resolve bot identity", "error", err)
		return false
	}

	cfg := tgbotapi.ChatConfigWithUser{UserID: botID}
	if id, ok := numericID(chatID); ok {
		cfg.ChatID = id
	} else {
		cfg.SuperGroupUsername = chatID
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: cfg})
	if err != nil {
		c.log.WarnContext(ctx, "get chat member", "chat_id", chatID, "error", err)
		return false
	}
	return member.IsAdministrator() || member.IsCreator()
}

// FileURL returns a direct download URL for an uploaded file.
func (c *Client) FileURL(fileID string) (string, error) {
	u, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file url: %w", err)
	}
	return u, nil
}

func (c *Client) selfID() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.botID != 0 {
		return c.botID, nil
	}
	me, err := c.api.GetMe()
	if err != nil {
		return 0, err
	}
	c.botID = me.ID
	return c.botID, nil
}

// Truncate cuts text to MaxMessageLength characters, marking the cut with "...".
func Truncate(text string) string {
	r := []rune(text)
	if len(r) <= MaxMessageLength {
		return text
	}
	return string(r[:MaxMessageLength-3]) + "..."
}

func baseChat(chatID string) tgbotapi.BaseChat {
	if id, ok := numericID(chatID); ok {
		return tgbotapi.BaseChat{ChatID: id}
	}
	return tgbotapi.BaseChat{ChannelUsername: chatID}
}

func numericID(chatID string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	return id, err == nil
}
