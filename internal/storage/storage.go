// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"newsbot/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotAdmin         = errors.New("requester is not a channel admin")
	ErrCreatorProtected = errors.New("channel creator cannot be removed")
	ErrAlreadyBound     = errors.New("channel already bound")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	SaveChannel(ctx context.Context, channelID, creator string) error
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ChannelByAdmin(ctx context.Context, username string) (string, error)
	ChannelCreator(ctx context.Context, channelID string) (string, error)
	Admins(ctx context.Context, channelID string) ([]string, error)
	AddAdmin(ctx context.Context, channelID, username, requester string) error
	RemoveAdmin(ctx context.Context, channelID, username, requester string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	Prompt(ctx context.Context) (string, error)
	Model(ctx context.Context) (string, error)
	ErrorNotifications(ctx context.Context) (bool, error)

	IsCached(ctx context.Context, link string) (bool, error)
	SaveCacheEntry(ctx context.Context, e *model.CacheEntry) error
	ListCache(ctx context.Context) ([]model.CacheEntry, error)
	CountCache(ctx context.Context) (int, error)
	ClearCache(ctx context.Context) error

	InsertError(ctx context.Context, message, link string) error
	RecentErrors(ctx context.Context, limit int) ([]model.ErrorRecord, error)

	Backup(ctx context.Context, dest string) error
	Restore(ctx context.Context, src string) error

	Close() error
}

// CacheKey returns the dedupe key of an article link.
func CacheKey(link string) string {
	h := sha256.Sum256([]byte(link))
	return hex.EncodeToString(h[:])
}
