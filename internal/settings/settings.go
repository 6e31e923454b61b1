// Package settings persists per-guild configuration: command prefix
// override, blacklisted channels, and the permission allow/deny table.
package settings

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/keshon/datastore"

	"github.com/ThePrimedTNT/astolfo/internal/permissions"
)

// GuildSettings is everything the dispatch engine needs to know about a
// guild. Zero value is a valid default (no prefix override, no blacklist,
// empty permission table).
type GuildSettings struct {
	Prefix              string                `json:"prefix,omitempty"`
	BlacklistedChannels []string              `json:"blacklisted_channels,omitempty"`
	Permissions         []permissions.Setting `json:"permissions,omitempty"`
}

// ChannelBlacklisted reports whether commands are blocked in a channel.
func (g GuildSettings) ChannelBlacklisted(channelID string) bool {
	for _, id := range g.BlacklistedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// Store is a read-mostly guild settings store over a JSON file datastore.
type Store struct {
	mu sync.RWMutex
	ds *datastore.DataStore
}

// Open loads or creates the settings file.
func Open(path string) (*Store, error) {
	ds, err := datastore.New(path)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return &Store{ds: ds}, nil
}

// Close flushes and closes the underlying datastore.
func (s *Store) Close() error {
	return s.ds.Close()
}

// Guild returns the effective settings for a guild, defaults included.
func (s *Store) Guild(guildID string) GuildSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(guildID)
}

// SetPrefix sets or clears (empty string) a guild's prefix override.
func (s *Store) SetPrefix(guildID, prefix string) error {
	return s.update(guildID, func(g *GuildSettings) {
		g.Prefix = prefix
	})
}

// BlacklistChannel adds a channel to the guild's command blacklist.
func (s *Store) BlacklistChannel(guildID, channelID string) error {
	return s.update(guildID, func(g *GuildSettings) {
		if g.ChannelBlacklisted(channelID) {
			return
		}
		g.BlacklistedChannels = append(g.BlacklistedChannels, channelID)
	})
}

// UnblacklistChannel removes a channel from the guild's command blacklist.
func (s *Store) UnblacklistChannel(guildID, channelID string) error {
	return s.update(guildID, func(g *GuildSettings) {
		var keep []string
		for _, id := range g.BlacklistedChannels {
			if id != channelID {
				keep = append(keep, id)
			}
		}
		g.BlacklistedChannels = keep
	})
}

// Grant records an allow or deny row, replacing any row for the same
// (role, channel, node) tuple.
func (s *Store) Grant(guildID string, setting permissions.Setting) error {
	return s.update(guildID, func(g *GuildSettings) {
		for i, p := range g.Permissions {
			if p.RoleID == setting.RoleID && p.ChannelID == setting.ChannelID && p.Node == setting.Node {
				g.Permissions[i] = setting
				return
			}
		}
		g.Permissions = append(g.Permissions, setting)
	})
}

// Revoke removes any row for the (role, channel, node) tuple.
func (s *Store) Revoke(guildID, roleID, channelID, node string) error {
	return s.update(guildID, func(g *GuildSettings) {
		var keep []permissions.Setting
		for _, p := range g.Permissions {
			if p.RoleID == roleID && p.ChannelID == channelID && p.Node == node {
				continue
			}
			keep = append(keep, p)
		}
		g.Permissions = keep
	})
}

func (s *Store) update(guildID string, mutate func(*GuildSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.load(guildID)
	mutate(&g)
	s.ds.Add(guildID, g)
	return nil
}

// load materializes a guild record; the datastore hands back generic
// JSON values, so round-trip through encoding/json.
func (s *Store) load(guildID string) GuildSettings {
	raw, ok := s.ds.Get(guildID)
	if !ok {
		return GuildSettings{}
	}
	if g, ok := raw.(GuildSettings); ok {
		return g
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return GuildSettings{}
	}
	var g GuildSettings
	if err := json.Unmarshal(data, &g); err != nil {
		return GuildSettings{}
	}
	return g
}
