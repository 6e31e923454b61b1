// Package permissions resolves whether a member may invoke a command
// node, combining the guild's allow/deny table with native Discord
// permission defaults.
package permissions

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
)

// GuildScope marks a setting that applies to the whole guild rather than
// a single channel.
const GuildScope = ""

// Setting is one row of a guild's permission table.
type Setting struct {
	RoleID    string `json:"role_id"`
	ChannelID string `json:"channel_id"` // GuildScope for guild-wide rows
	Node      string `json:"node"`
	Allow     bool   `json:"allow"`
}

// Descriptor is the permission attached to a command node.
type Descriptor struct {
	// Node is the dotted permission path, e.g. "music.play".
	Node string
	// Default is a native permission bitmask that satisfies the check
	// when the table is silent. Zero means the command is open by default.
	Default int64
}

// NodeMatches reports whether a table row's node covers the checked path.
// Matching is a case-insensitive dotted-segment prefix comparison: a row
// on "music" covers a check of "music.play", never the reverse. A "*"
// segment matches the entire remaining suffix.
func NodeMatches(setting, check string) bool {
	if setting == "" {
		return false
	}
	sp := strings.Split(strings.ToLower(setting), ".")
	cp := strings.Split(strings.ToLower(check), ".")

	for i, seg := range sp {
		if seg == "*" {
			return true
		}
		if i >= len(cp) || seg != cp[i] {
			return false
		}
	}
	return true
}

// Resolve walks the member's roles against the table and returns the
// explicit verdict for a node, or nil when no row matches.
//
// Roles are processed lowest position first with @everyone always first;
// within that order the table is applied in four passes, each overriding
// the last: guild denies, guild allows, channel denies, channel allows.
// Channel scope therefore always beats guild scope for the same role set.
func Resolve(roles []chat.Role, settings []Setting, channelID, node string) *bool {
	ordered := orderRoles(roles)

	var verdict *bool
	apply := func(wantChannel string, wantAllow bool) {
		for _, role := range ordered {
			for _, s := range settings {
				if s.RoleID != role.ID || s.ChannelID != wantChannel || s.Allow != wantAllow {
					continue
				}
				if NodeMatches(s.Node, node) {
					v := s.Allow
					verdict = &v
				}
			}
		}
	}

	apply(GuildScope, false)
	apply(GuildScope, true)
	apply(channelID, false)
	apply(channelID, true)
	return verdict
}

// Result is the outcome of a permission check.
type Result struct {
	Allowed bool
	// Missing names what the member lacked, for the denial reply.
	Missing string
}

// Check decides whether the member may run a node in a channel.
//
// The administrator flag bypasses native permission defaults but not the
// table: an explicit deny row still denies. Otherwise an explicit deny
// wins, then an explicit allow or a satisfied native default grants.
func Check(member chat.Member, settings []Setting, channelID string, desc Descriptor) Result {
	verdict := Resolve(member.Roles, settings, channelID, desc.Node)

	if verdict != nil && !*verdict {
		return Result{Missing: desc.Node}
	}
	if member.Admin {
		return Result{Allowed: true}
	}
	if verdict != nil && *verdict {
		return Result{Allowed: true}
	}
	if desc.Default == 0 {
		return Result{Allowed: true}
	}
	if member.Permissions&desc.Default != 0 {
		return Result{Allowed: true}
	}
	return Result{Missing: NativeName(desc.Default)}
}

func orderRoles(roles []chat.Role) []chat.Role {
	ordered := make([]chat.Role, 0, len(roles))
	for _, r := range roles {
		if r.Everyone {
			ordered = append(ordered, r)
		}
	}
	// insertion sort by ascending position; role lists are short
	for _, r := range roles {
		if r.Everyone {
			continue
		}
		at := len(ordered)
		for i, o := range ordered {
			if !o.Everyone && o.Position > r.Position {
				at = i
				break
			}
		}
		ordered = append(ordered[:at], append([]chat.Role{r}, ordered[at:]...)...)
	}
	return ordered
}

// nativeNames maps the permission bits commands actually gate on to
// human-readable names for denial replies.
var nativeNames = map[int64]string{
	discordgo.PermissionAdministrator:      "Administrator",
	discordgo.PermissionManageGuild:        "Manage Server",
	discordgo.PermissionManageChannels:     "Manage Channels",
	discordgo.PermissionManageMessages:     "Manage Messages",
	discordgo.PermissionManageRoles:        "Manage Roles",
	discordgo.PermissionKickMembers:        "Kick Members",
	discordgo.PermissionBanMembers:         "Ban Members",
	discordgo.PermissionModerateMembers:    "Moderate Members",
	discordgo.PermissionSendMessages:       "Send Messages",
	discordgo.PermissionEmbedLinks:         "Embed Links",
	discordgo.PermissionVoiceConnect:       "Connect to Voice Channel",
	discordgo.PermissionVoiceSpeak:         "Speak",
	discordgo.PermissionVoiceMoveMembers:   "Move Members",
	discordgo.PermissionReadMessageHistory: "Read Message History",
}

// NativeName returns the first named permission present in the mask.
func NativeName(mask int64) string {
	for bit, name := range nativeNames {
		if mask&bit != 0 {
			return name
		}
	}
	return "Unknown Permission"
}
