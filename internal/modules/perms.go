package modules

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/permissions"
	"github.com/ThePrimedTNT/astolfo/internal/session"
)

func permissionsModule() *command.Module {
	manageRoles := discordgo.PermissionManageRoles

	node := func(name string, action command.Action) *command.Node {
		return &command.Node{
			Name:       name,
			Permission: permissions.Descriptor{Default: int64(manageRoles)},
			Action:     action,
		}
	}

	return &command.Module{
		Name: "Permissions",
		Roots: []*command.Node{
			{
				Name:    "permissions",
				Aliases: []string{"perms"},
				Children: []*command.Node{
					node("grant", grantAction(true)),
					node("deny", grantAction(false)),
					node("reset", resetAction),
					node("check", checkAction),
				},
			},
		},
	}
}

// grantState accumulates the answers of the interactive grant flow:
// scope, then node, then role.
type grantState struct {
	allow     bool
	channelID string
	node      string
}

// grantAction starts the multi-turn grant/deny conversation. Each stage
// consumes one follow-up message and registers the next stage on the
// session; the final stage records the setting and ends the session by
// unregistering the last listener.
func grantAction(allow bool) command.Action {
	return func(ctx *command.Context) error {
		state := &grantState{allow: allow}

		verb := "grant"
		if !allow {
			verb = "deny"
		}
		ctx.Reply(fmt.Sprintf("Where should this %s apply? Reply `guild` or mention a channel.", verb))
		ctx.Session.AddListener(scopeStage(ctx, state))
		return nil
	}
}

func scopeStage(ctx *command.Context, state *grantState) session.ResponseListener {
	return func(msg chat.Message) session.Action {
		answer := strings.TrimSpace(msg.Content)
		switch {
		case strings.EqualFold(answer, "guild"):
			state.channelID = permissions.GuildScope
		case strings.HasPrefix(answer, "<#") && strings.HasSuffix(answer, ">"):
			state.channelID = strings.TrimSuffix(strings.TrimPrefix(answer, "<#"), ">")
		default:
			ctx.Reply("Reply `guild` or mention a channel like `#general`.")
			return session.IgnoreCommand
		}
		ctx.Reply("Which permission node? For example `music.play` or `music`.")
		ctx.Session.AddListener(nodeStage(ctx, state))
		return session.IgnoreAndUnregister
	}
}

func nodeStage(ctx *command.Context, state *grantState) session.ResponseListener {
	return func(msg chat.Message) session.Action {
		state.node = strings.TrimSpace(msg.Content)
		if state.node == "" {
			return session.IgnoreCommand
		}
		ctx.Reply("Which role? Mention it or give its name.")
		ctx.Session.AddListener(roleStage(ctx, state))
		return session.IgnoreAndUnregister
	}
}

func roleStage(ctx *command.Context, state *grantState) session.ResponseListener {
	return func(msg chat.Message) session.Action {
		role, err := resolveRole(ctx, strings.TrimSpace(msg.Content))
		if err != nil {
			ctx.Reply(err.Error())
			return session.IgnoreCommand
		}

		setting := permissions.Setting{
			RoleID:    role.ID,
			ChannelID: state.channelID,
			Node:      state.node,
			Allow:     state.allow,
		}
		if err := ctx.Settings.Grant(msg.GuildID, setting); err != nil {
			ctx.Reply("Couldn't save that setting, sorry.")
			ctx.Log.Error().Err(err).Msg("saving permission setting")
			return session.IgnoreAndUnregister
		}

		verb := "granted to"
		if !state.allow {
			verb = "denied for"
		}
		scope := "the whole guild"
		if state.channelID != permissions.GuildScope {
			scope = "<#" + state.channelID + ">"
		}
		ctx.Reply(fmt.Sprintf("`%s` %s `%s` in %s.", state.node, verb, role.Name, scope))
		return session.IgnoreAndUnregister
	}
}

// resolveRole accepts a role mention, a raw ID, or a (case-insensitive)
// role name with or without a leading @.
func resolveRole(ctx *command.Context, input string) (chat.Role, error) {
	roles, err := ctx.Roles.GuildRoles(ctx.Message.GuildID)
	if err != nil {
		return chat.Role{}, fmt.Errorf("I couldn't fetch this guild's roles.")
	}

	id := input
	if strings.HasPrefix(input, "<@&") && strings.HasSuffix(input, ">") {
		id = strings.TrimSuffix(strings.TrimPrefix(input, "<@&"), ">")
	}
	name := strings.TrimPrefix(input, "@")

	for _, r := range roles {
		if r.ID == id || strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return chat.Role{}, fmt.Errorf("No role matching `%s` here.", input)
}

// resetAction removes a setting: `permissions reset <node> <role> [#channel]`.
func resetAction(ctx *command.Context) error {
	fields := strings.Fields(ctx.Args)
	if len(fields) < 2 {
		ctx.Reply("Usage: `permissions reset <node> <role> [#channel]`")
		return nil
	}

	role, err := resolveRole(ctx, fields[1])
	if err != nil {
		ctx.Reply(err.Error())
		return nil
	}
	channelID := permissions.GuildScope
	if len(fields) >= 3 {
		channelID = strings.TrimSuffix(strings.TrimPrefix(fields[2], "<#"), ">")
	}

	if err := ctx.Settings.Revoke(ctx.Message.GuildID, role.ID, channelID, fields[0]); err != nil {
		return fmt.Errorf("revoke setting: %w", err)
	}
	ctx.Reply(fmt.Sprintf("Cleared `%s` for `%s`.", fields[0], role.Name))
	return nil
}

// checkAction reports the caller's effective verdict on a node in the
// current channel.
func checkAction(ctx *command.Context) error {
	node := strings.TrimSpace(ctx.Args)
	if node == "" {
		ctx.Reply("Usage: `permissions check <node>`")
		return nil
	}

	gs := ctx.Settings.Guild(ctx.Message.GuildID)
	verdict := permissions.Resolve(ctx.Message.Member.Roles, gs.Permissions, ctx.Message.ChannelID, node)

	switch {
	case verdict == nil:
		ctx.Reply(fmt.Sprintf("No explicit setting for `%s`; native permissions decide.", node))
	case *verdict:
		ctx.Reply(fmt.Sprintf("`%s` is explicitly allowed for you here.", node))
	default:
		ctx.Reply(fmt.Sprintf("`%s` is explicitly denied for you here.", node))
	}
	return nil
}
