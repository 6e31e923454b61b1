package dispatch

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
	"github.com/ThePrimedTNT/astolfo/internal/ratelimit"
	"github.com/ThePrimedTNT/astolfo/internal/worker"
)

// guildMessage is what travels below the guild level: the raw event plus
// the outcome of the prefix check.
type guildMessage struct {
	msg     chat.Message
	issued  time.Time
	matched bool   // a prefix or mention was stripped
	mention bool   // the prefix was a bot mention
	line    string // content with the prefix stripped
}

// guildListener resolves the effective prefix for its guild and forwards
// events to per-channel queues. Command-shaped messages create channel
// listeners on demand; plain messages only reach existing ones.
type guildListener struct {
	guildID string
	cfg     Config
	deps    Deps
	limiter *ratelimit.Limiter

	queue    *worker.SerialQueue
	channels map[string]*channelEntry
	timer    *time.Timer
	log      zerolog.Logger
}

type channelEntry struct {
	listener *channelListener
	lastUsed time.Time
}

func newGuildListener(guildID string, cfg Config, deps Deps, limiter *ratelimit.Limiter) *guildListener {
	g := &guildListener{
		guildID:  guildID,
		cfg:      cfg,
		deps:     deps,
		limiter:  limiter,
		queue:    worker.NewSerialQueue(),
		channels: make(map[string]*channelEntry),
		log:      deps.Log.With().Str("component", "dispatch").Str("guild", guildID).Logger(),
	}
	g.timer = time.AfterFunc(cfg.CleanupInterval, g.scheduleCleanup)
	return g
}

func (g *guildListener) forward(msg chat.Message) {
	g.queue.Submit(func() { g.handle(msg) })
}

func (g *guildListener) handle(msg chat.Message) {
	data := guildMessage{msg: msg, issued: g.deps.Now()}
	data.matched, data.mention, data.line = g.matchPrefix(msg)

	if data.matched {
		e, ok := g.channels[msg.ChannelID]
		if !ok {
			e = &channelEntry{listener: newChannelListener(g.guildID, msg.ChannelID, g.cfg, g.deps, g.limiter)}
			g.channels[msg.ChannelID] = e
		}
		e.lastUsed = data.issued
		e.listener.forward(data)
		return
	}

	// Plain messages only matter to an active session; never create
	// routing state for them, and never count them as activity for
	// idle eviction.
	if e, ok := g.channels[msg.ChannelID]; ok {
		e.listener.forward(data)
	}
}

// matchPrefix applies the effective prefix: the guild's override, the
// global default, or a leading bot mention. Mention prefixes are only
// honored when the platform actually parsed a mention of the bot, so
// pasted mention markup in plain text does not trigger commands.
func (g *guildListener) matchPrefix(msg chat.Message) (matched, mention bool, line string) {
	prefix := g.deps.Settings.Guild(g.guildID).Prefix
	if prefix == "" {
		prefix = g.cfg.DefaultPrefix
	}

	if rest, ok := strings.CutPrefix(msg.Content, prefix); ok {
		return true, false, strings.TrimSpace(rest)
	}
	if msg.MentionsBot {
		for _, m := range []string{"<@" + g.cfg.BotUserID + ">", "<@!" + g.cfg.BotUserID + ">"} {
			if rest, ok := strings.CutPrefix(msg.Content, m); ok {
				return true, true, strings.TrimSpace(rest)
			}
		}
	}
	return false, false, msg.Content
}

func (g *guildListener) scheduleCleanup() {
	submitted := g.queue.Submit(func() {
		cutoff := g.deps.Now().Add(-g.cfg.ListenerTTL)
		for id, e := range g.channels {
			if e.lastUsed.Before(cutoff) {
				e.listener.dispose()
				delete(g.channels, id)
				g.log.Debug().Str("channel", id).Msg("channel listener evicted")
			}
		}
	})
	if submitted {
		g.timer.Reset(g.cfg.CleanupInterval)
	}
}

func (g *guildListener) dispose() {
	g.timer.Stop()
	g.queue.Submit(func() {
		for id, e := range g.channels {
			e.listener.dispose()
			delete(g.channels, id)
		}
	})
	g.queue.Submit(g.queue.Close)
}
