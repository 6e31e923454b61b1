// Package bot wires the dispatch engine to Discord through discordgo.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
	"github.com/ThePrimedTNT/astolfo/internal/chatbot"
	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/config"
	"github.com/ThePrimedTNT/astolfo/internal/dispatch"
	"github.com/ThePrimedTNT/astolfo/internal/session"
	"github.com/ThePrimedTNT/astolfo/internal/settings"
)

// Bot owns the Discord session and the dispatcher built on top of it.
type Bot struct {
	cfg      *config.Config
	store    *settings.Store
	tree     *command.Tree
	provider chatbot.Provider
	log      zerolog.Logger

	dg         *discordgo.Session
	dispatcher *dispatch.Dispatcher
}

// New creates the bot. The dispatcher is built once the gateway is ready
// and the bot's own user ID is known.
func New(cfg *config.Config, store *settings.Store, tree *command.Tree, provider chatbot.Provider, log zerolog.Logger) *Bot {
	return &Bot{
		cfg:      cfg,
		store:    store,
		tree:     tree,
		provider: provider,
		log:      log.With().Str("component", "bot").Logger(),
	}
}

// Run connects to Discord and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	b.dg = dg

	dg.Identify.Intents = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildMembers | discordgo.IntentsMessageContent

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onGuildDelete)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, tearing down listeners")
	if b.dispatcher != nil {
		b.dispatcher.Close()
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if b.dispatcher == nil {
		b.dispatcher = dispatch.New(dispatch.Config{
			BotUserID:       r.User.ID,
			DefaultPrefix:   b.cfg.DefaultPrefix,
			SessionTimeout:  b.cfg.SessionTimeout,
			ListenerTTL:     b.cfg.ListenerTTL,
			CleanupInterval: b.cfg.CleanupInterval,
			RateThreshold:   b.cfg.RateLimitThreshold,
			RateWindow:      b.cfg.RateLimitWindow,
		}, dispatch.Deps{
			Tree:        b.tree,
			Settings:    b.store,
			Sessions:    session.NewManager(b.log),
			Chatbot:     b.provider,
			Replier:     &responder{dg: s, log: b.log},
			Roles:       &roleSource{dg: s},
			IgnoreError: isIgnorableRESTError,
			Log:         b.log,
		})
	}
	b.log.Info().Str("user", r.User.Username).Msg("gateway ready")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if b.dispatcher == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	b.dispatcher.Dispatch(b.buildMessage(s, m))
}

func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if b.dispatcher != nil {
		b.dispatcher.RemoveGuild(g.ID)
	}
}

// buildMessage materializes the platform-neutral message the dispatcher
// works with: author roles in position order, effective permissions, and
// the admin/developer flags.
func (b *Bot) buildMessage(s *discordgo.Session, m *discordgo.MessageCreate) chat.Message {
	member := chat.Member{
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Bot:       m.Author.Bot,
		Developer: b.cfg.IsDeveloper(m.Author.ID),
	}

	perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		perms, _ = s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	}
	member.Permissions = perms

	guild, err := s.State.Guild(m.GuildID)
	if err != nil || guild == nil {
		guild, _ = s.Guild(m.GuildID)
	}
	if guild != nil {
		member.Roles = memberRoles(guild, m.Member)
		member.Admin = m.Author.ID == guild.OwnerID ||
			perms&discordgo.PermissionAdministrator != 0 ||
			member.Developer
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}

	nsfw := false
	if ch, err := s.State.Channel(m.ChannelID); err == nil && ch != nil {
		nsfw = ch.NSFW
	}

	return chat.Message{
		ID:          m.ID,
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		Content:     m.Content,
		Issued:      m.Timestamp,
		Member:      member,
		MentionsBot: mentioned,
		ChannelNSFW: nsfw,
	}
}

// memberRoles returns the member's roles with the guild's implicit
// @everyone role always included.
func memberRoles(guild *discordgo.Guild, member *discordgo.Member) []chat.Role {
	byID := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, r := range guild.Roles {
		byID[r.ID] = r
	}

	var roles []chat.Role
	if everyone, ok := byID[guild.ID]; ok {
		roles = append(roles, chat.Role{
			ID:          everyone.ID,
			Name:        everyone.Name,
			Permissions: everyone.Permissions,
			Everyone:    true,
		})
	}
	if member == nil {
		return roles
	}
	for _, id := range member.Roles {
		r, ok := byID[id]
		if !ok {
			continue
		}
		roles = append(roles, chat.Role{
			ID:          r.ID,
			Name:        r.Name,
			Position:    r.Position,
			Permissions: r.Permissions,
		})
	}
	return roles
}

// isIgnorableRESTError reports platform errors safe to swallow, like
// acting on a message that was already deleted.
func isIgnorableRESTError(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Message == nil {
		return false
	}
	switch rest.Message.Code {
	case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
		return true
	}
	return false
}
