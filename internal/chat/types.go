// Package chat holds the platform-neutral message and member types the
// dispatch engine works with, so routing and sessions can be exercised
// without a live Discord connection.
package chat

import (
	"context"
	"time"
)

// Role is a guild role as seen at dispatch time.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Permissions int64  `json:"permissions"`
	Everyone    bool   `json:"everyone"`
}

// Member is the author of an inbound message with everything permission
// resolution needs already materialized.
type Member struct {
	UserID      string
	Username    string
	Bot         bool
	Admin       bool // native administrator or guild owner
	Developer   bool // configured bot developer
	Permissions int64 // effective channel permissions
	Roles       []Role
}

// Message is one inbound chat message.
type Message struct {
	ID          string
	GuildID     string
	ChannelID   string
	Content     string
	Issued      time.Time
	Member      Member
	MentionsBot bool
	ChannelNSFW bool
}

// Responder is the reply sink handed to command actions and routing.
type Responder interface {
	// Send posts a message without waiting for the result.
	Send(channelID, content string)
	// SendAwait posts a message and returns its ID.
	SendAwait(ctx context.Context, channelID, content string) (string, error)
	// CanPost reports whether the bot may post in the channel.
	CanPost(channelID string) bool
}

// RoleSource resolves the full role list of a guild, used by commands
// that reference roles other than the author's.
type RoleSource interface {
	GuildRoles(guildID string) ([]Role, error)
}
