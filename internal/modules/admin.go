package modules

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/permissions"
)

// adminModule covers guild configuration. It is the one module allowed
// through blacklisted channels, so the blacklist can always be undone.
func adminModule() *command.Module {
	manageGuild := permissions.Descriptor{Default: discordgo.PermissionManageGuild}

	return &command.Module{
		Name: "Admin",
		Roots: []*command.Node{
			{
				Name:       "settings",
				Permission: permissions.Descriptor{Node: "admin.settings", Default: discordgo.PermissionManageGuild},
				Children: []*command.Node{
					{
						Name:       "prefix",
						Permission: manageGuild,
						Action:     prefixAction,
					},
					{
						Name:       "blacklist",
						Permission: manageGuild,
						Action:     blacklistAction,
					},
				},
			},
		},
	}
}

func prefixAction(ctx *command.Context) error {
	if ctx.Args == "" {
		prefix := ctx.Settings.Guild(ctx.Message.GuildID).Prefix
		if prefix == "" {
			ctx.Reply("Using the default prefix. Set one with `settings prefix <prefix>`.")
		} else {
			ctx.Reply(fmt.Sprintf("Prefix is `%s`.", prefix))
		}
		return nil
	}
	if err := ctx.Settings.SetPrefix(ctx.Message.GuildID, ctx.Args); err != nil {
		return fmt.Errorf("set prefix: %w", err)
	}
	ctx.Reply(fmt.Sprintf("Prefix set to `%s`.", ctx.Args))
	return nil
}

// blacklistAction toggles command handling for the current channel.
func blacklistAction(ctx *command.Context) error {
	guildID, channelID := ctx.Message.GuildID, ctx.Message.ChannelID

	if ctx.Settings.Guild(guildID).ChannelBlacklisted(channelID) {
		if err := ctx.Settings.UnblacklistChannel(guildID, channelID); err != nil {
			return fmt.Errorf("unblacklist channel: %w", err)
		}
		ctx.Reply("Commands are enabled in this channel again.")
		return nil
	}
	if err := ctx.Settings.BlacklistChannel(guildID, channelID); err != nil {
		return fmt.Errorf("blacklist channel: %w", err)
	}
	ctx.Reply("Commands are now disabled in this channel. Run `settings blacklist` here to undo.")
	return nil
}
