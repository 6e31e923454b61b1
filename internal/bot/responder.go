package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
)

// responder adapts a discordgo session to the engine's reply sink.
type responder struct {
	dg  *discordgo.Session
	log zerolog.Logger
}

func (r *responder) Send(channelID, content string) {
	go func() {
		if _, err := r.dg.ChannelMessageSend(channelID, content); err != nil && !isIgnorableRESTError(err) {
			r.log.Warn().Err(err).Str("channel", channelID).Msg("send failed")
		}
	}()
}

func (r *responder) SendAwait(ctx context.Context, channelID, content string) (string, error) {
	msg, err := r.dg.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (r *responder) CanPost(channelID string) bool {
	perms, err := r.dg.State.UserChannelPermissions(r.dg.State.User.ID, channelID)
	if err != nil {
		perms, err = r.dg.UserChannelPermissions(r.dg.State.User.ID, channelID)
		if err != nil {
			return false
		}
	}
	return perms&discordgo.PermissionSendMessages != 0
}

// roleSource exposes a guild's role list to commands that target roles
// beyond the invoking member's own.
type roleSource struct {
	dg *discordgo.Session
}

func (rs *roleSource) GuildRoles(guildID string) ([]chat.Role, error) {
	guild, err := rs.dg.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, err = rs.dg.Guild(guildID)
		if err != nil {
			return nil, err
		}
	}

	roles := make([]chat.Role, 0, len(guild.Roles))
	for _, r := range guild.Roles {
		roles = append(roles, chat.Role{
			ID:          r.ID,
			Name:        r.Name,
			Position:    r.Position,
			Permissions: r.Permissions,
			Everyone:    r.ID == guildID,
		})
	}
	return roles, nil
}
