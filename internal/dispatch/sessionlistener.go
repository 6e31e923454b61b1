package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/chatbot"
	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/permissions"
	"github.com/ThePrimedTNT/astolfo/internal/ratelimit"
	"github.com/ThePrimedTNT/astolfo/internal/session"
	"github.com/ThePrimedTNT/astolfo/internal/worker"
)

// sessionListener is the bottom of the hierarchy: one user in one
// channel. It resolves command lines against the tree, enforces the rate
// limit and permission gates, and owns the routing side of the user's
// CommandSession.
type sessionListener struct {
	key worker.Key
	cfg Config

	deps    Deps
	limiter *ratelimit.Limiter
	queue   *worker.SerialQueue
	log     zerolog.Logger

	// limitNotified tracks the one-time rate limit notice; reset when
	// the user drops back under the threshold.
	limitNotified bool
}

func newSessionListener(guildID, channelID, userID string, cfg Config, deps Deps, limiter *ratelimit.Limiter) *sessionListener {
	return &sessionListener{
		key:     worker.Key{GuildID: guildID, UserID: userID, ChannelID: channelID},
		cfg:     cfg,
		deps:    deps,
		limiter: limiter,
		queue:   worker.NewSerialQueue(),
		log: deps.Log.With().Str("component", "dispatch").
			Str("guild", guildID).Str("channel", channelID).Str("user", userID).Logger(),
	}
}

func (l *sessionListener) forward(data guildMessage) {
	l.queue.Submit(func() {
		defer func() {
			// One bad command must not kill this user's routing queue.
			if r := recover(); r != nil {
				l.deps.Reporter.Report(fmt.Errorf("panic: %v", r), "", data.msg)
			}
		}()
		if data.matched {
			l.handleCommand(data, data.line, false)
		} else {
			l.handlePlain(data)
		}
	})
}

// handlePlain feeds a prefix-less message to the active session, if one
// is awaiting follow-ups. RunCommand means the message satisfied the
// follow-up and the session is done.
func (l *sessionListener) handlePlain(data guildMessage) {
	s := l.deps.Sessions.Get(l.key)
	if s == nil || !s.HasListeners() {
		return
	}
	if s.HandleMessage(data.msg) == session.RunCommand {
		<-l.deps.Sessions.Invalidate(l.key)
	}
}

// handleCommand runs the resolution pipeline for a command-shaped
// message. fromChatbot guards the single re-resolution a chatbot COMMAND
// reply is allowed.
func (l *sessionListener) handleCommand(data guildMessage, line string, fromChatbot bool) {
	gs := l.deps.Settings.Guild(l.key.GuildID)

	res := l.deps.Tree.Resolve(line)
	if res == nil || res.Node.Action == nil {
		l.handleMiss(data, line, res, gs.ChannelBlacklisted(l.key.ChannelID), fromChatbot)
		return
	}

	// Blacklisted channels only let the admin module through, so a
	// misconfigured blacklist can still be undone in place.
	if gs.ChannelBlacklisted(l.key.ChannelID) && res.Module.Name != l.cfg.AdminModule {
		return
	}

	if res.Module.NSFW && !data.msg.ChannelNSFW {
		l.deps.Replier.Send(l.key.ChannelID,
			fmt.Sprintf("`%s` only works in age-restricted channels.", res.Path))
		return
	}

	if l.rateLimited(data) {
		return
	}

	ctx := l.commandContext(data, res)
	for _, node := range res.Chain {
		for _, gate := range node.Inherited {
			if !gate(ctx) {
				return
			}
		}
	}

	perm := l.checkPermission(data, res)
	if !perm.ok {
		l.deps.Replier.Send(l.key.ChannelID, perm.message)
		return
	}

	// A live session on the same path consumes the message itself; this
	// is how pagination and other interactive commands continue.
	if existing := l.deps.Sessions.Get(l.key); existing != nil && existing.Path == res.Path && existing.HasListeners() {
		if existing.HandleMessage(data.msg) != session.RunCommand {
			return
		}
		<-l.deps.Sessions.Invalidate(l.key)
	}

	l.startSession(data, res, ctx)
}

// rateLimited enforces the per-user window. The message that tips the
// counter over is dropped silently; the next one while still limited
// gets a single notice.
func (l *sessionListener) rateLimited(data guildMessage) bool {
	already := l.limiter.IsLimited(l.key.UserID)
	l.limiter.Add(l.key.UserID)
	if !l.limiter.IsLimited(l.key.UserID) {
		l.limitNotified = false
		return false
	}
	if already && !l.limitNotified {
		l.limitNotified = true
		l.deps.Replier.Send(l.key.ChannelID, "Slow down! You're sending commands too fast.")
	}
	return true
}

type permOutcome struct {
	ok      bool
	message string
}

func (l *sessionListener) checkPermission(data guildMessage, res *command.Resolution) permOutcome {
	gs := l.deps.Settings.Guild(l.key.GuildID)
	result := permissions.Check(data.msg.Member, gs.Permissions, l.key.ChannelID, res.Node.Permission)
	if result.Allowed {
		return permOutcome{ok: true}
	}
	return permOutcome{
		message: fmt.Sprintf("You need `%s` to use `%s`.", result.Missing, res.Path),
	}
}

// handleMiss deals with lines that resolve to nothing runnable: chatbot
// fallback for mentions, a suggestion otherwise.
func (l *sessionListener) handleMiss(data guildMessage, line string, res *command.Resolution, blacklisted, fromChatbot bool) {
	if data.mention && !blacklisted && !fromChatbot && l.deps.Chatbot != nil {
		l.chatbotFallback(data, line)
		return
	}
	if data.mention || fromChatbot || blacklisted {
		return
	}

	if res != nil {
		// Matched a group node without an action: point at its children.
		if hint := command.SuggestChild(res.Node, res.Args); hint != "" {
			l.deps.Replier.Send(l.key.ChannelID,
				fmt.Sprintf("`%s` needs a subcommand. Did you mean `%s %s`?", res.Path, res.Path, hint))
			return
		}
		l.deps.Replier.Send(l.key.ChannelID,
			fmt.Sprintf("`%s` needs a subcommand. Type `help %s` for a list.", res.Path, res.Path))
		return
	}
	if hint := l.deps.Tree.Suggest(line); hint != "" {
		l.deps.Replier.Send(l.key.ChannelID, fmt.Sprintf("Unknown command. Did you mean `%s`?", hint))
		return
	}
	l.deps.Replier.Send(l.key.ChannelID, "Unknown command. Type `help` for a list.")
}

// chatbotFallback asks the external chatbot; COMMAND replies get exactly
// one re-resolution pass, MESSAGE replies are sent verbatim.
func (l *sessionListener) chatbotFallback(data guildMessage, line string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SessionTimeout)
	defer cancel()

	reply, err := l.deps.Chatbot.Process(ctx, l.key.UserID, line)
	if err != nil {
		l.log.Warn().Err(err).Msg("chatbot fallback failed")
		return
	}
	if reply.Kind == chatbot.Command {
		l.handleCommand(data, reply.Text, true)
		return
	}
	if reply.Text != "" {
		l.deps.Replier.Send(l.key.ChannelID, reply.Text)
	}
}

func (l *sessionListener) commandContext(data guildMessage, res *command.Resolution) *command.Context {
	return &command.Context{
		Ctx:      context.Background(),
		Path:     res.Path,
		Args:     res.Args,
		Message:  data.msg,
		Replier:  l.deps.Replier,
		Roles:    l.deps.Roles,
		Settings: l.deps.Settings,
		Tree:     l.deps.Tree,
		Log:      l.log,
	}
}

// startSession destroys any previous session for the key and launches
// the leaf action bound to a fresh one.
func (l *sessionListener) startSession(data guildMessage, res *command.Resolution, ctx *command.Context) {
	action := res.Node.Action

	<-l.deps.Sessions.Start(l.key,
		func() *session.CommandSession {
			return session.New(res.Path, l.cfg.SessionTimeout)
		},
		func(s *session.CommandSession) {
			ctx.Session = s
			s.Bind(func(taskCtx context.Context) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic in %s: %v", res.Path, r)
					}
				}()
				ctx.Ctx = taskCtx
				return action(ctx)
			}, func(err error) {
				if err != nil && !l.ignorable(err) {
					l.deps.Reporter.Report(err, res.Path, data.msg)
				}
				// Task completion destroys the session unless follow-up
				// listeners keep it alive.
				if !s.HasListeners() {
					s.Destroy()
				}
			})
		})
}

// ignorable filters failures that are part of normal operation: the
// session-timeout cancellation and platform errors the adapter marks as
// safe to swallow (e.g. unknown-message on delete).
func (l *sessionListener) ignorable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return l.deps.IgnoreError != nil && l.deps.IgnoreError(err)
}

func (l *sessionListener) dispose() {
	<-l.deps.Sessions.Invalidate(l.key)
	l.queue.Close()
}
