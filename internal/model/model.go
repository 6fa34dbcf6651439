// Package model defines the domain types used across the application.
package model

import "time"

// Runtime configuration keys stored in the config table.
const (
	ConfigPrompt             = "prompt"
	ConfigModel              = "model"
	ConfigErrorNotifications = "error_notifications"
)

// DefaultModel is used when the config table has no model value.
const DefaultModel = "gpt-4o-mini"

// Channel is a destination chat bound by its creator.
type Channel struct {
	ID      string
	Creator string
}

// CacheEntry records an article that has already been published.
type CacheEntry struct {
	ID        string
	Title     string
	Summary   string
	Link      string
	Source    string
	CreatedAt time.Time
}

// ErrorRecord is a single entry of the append-only error log.
type ErrorRecord struct {
	ID        int64
	Message   string
	Link      string
	CreatedAt time.Time
}

// LLMResponse is the most recent raw completion, kept for diagnostics.
type LLMResponse struct {
	Link       string
	Raw        string
	ReceivedAt time.Time
}
