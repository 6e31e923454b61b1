// Package dispatch routes every inbound message through the listener
// hierarchy: Dispatcher -> GuildListener -> ChannelListener ->
// SessionListener. Each level is a serialized event queue owning an
// idle-evicted map of the level below, so maps are never touched from
// two goroutines and cleanup can never race an in-flight forward.
package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
	"github.com/ThePrimedTNT/astolfo/internal/chatbot"
	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/ratelimit"
	"github.com/ThePrimedTNT/astolfo/internal/session"
	"github.com/ThePrimedTNT/astolfo/internal/settings"
	"github.com/ThePrimedTNT/astolfo/internal/worker"
)

// Config tunes the routing hierarchy.
type Config struct {
	BotUserID     string
	DefaultPrefix string

	SessionTimeout  time.Duration // hard cap on a leaf action, default 1m
	ListenerTTL     time.Duration // idle eviction threshold, default 10m
	CleanupInterval time.Duration // eviction pass interval, default 5m

	RateThreshold int           // hits per window before limiting, default 4
	RateWindow    time.Duration // default 6s

	// AdminModule names the module allowed through blacklisted channels.
	AdminModule string
}

func (c *Config) fillDefaults() {
	if c.DefaultPrefix == "" {
		c.DefaultPrefix = "?"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = time.Minute
	}
	if c.ListenerTTL <= 0 {
		c.ListenerTTL = 10 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.RateThreshold <= 0 {
		c.RateThreshold = 4
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 6 * time.Second
	}
	if c.AdminModule == "" {
		c.AdminModule = "Admin"
	}
}

// ErrorReporter receives leaf action failures. One bad command must not
// kill a routing queue, so failures end here instead of propagating.
type ErrorReporter interface {
	Report(err error, path string, msg chat.Message)
}

type logReporter struct{ log zerolog.Logger }

func (r logReporter) Report(err error, path string, msg chat.Message) {
	r.log.Error().Err(err).
		Str("path", path).
		Str("guild", msg.GuildID).
		Str("user", msg.Member.UserID).
		Msg("command failed")
}

// Deps are the engine's external collaborators.
type Deps struct {
	Tree     *command.Tree
	Settings *settings.Store
	Sessions *session.Manager
	Chatbot  chatbot.Provider // may be nil
	Replier  chat.Responder
	Roles    chat.RoleSource
	Reporter ErrorReporter // nil: log-backed default
	// IgnoreError filters platform errors that should be swallowed,
	// e.g. deleting an already-deleted message.
	IgnoreError func(error) bool
	Log         zerolog.Logger
	Now         func() time.Time // nil: time.Now
}

// Dispatcher is the top of the hierarchy: it receives every message
// event, drops bot authors and unpostable channels, and forwards to the
// per-guild queue.
type Dispatcher struct {
	cfg     Config
	deps    Deps
	limiter *ratelimit.Limiter

	queue  *worker.SerialQueue
	guilds map[string]*guildEntry
	timer  *time.Timer
	log    zerolog.Logger
}

type guildEntry struct {
	listener *guildListener
	lastUsed time.Time
}

// New builds the dispatcher and starts its cleanup cycle.
func New(cfg Config, deps Deps) *Dispatcher {
	cfg.fillDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Reporter == nil {
		deps.Reporter = logReporter{log: deps.Log}
	}

	d := &Dispatcher{
		cfg:     cfg,
		deps:    deps,
		limiter: ratelimit.New(cfg.RateThreshold, cfg.RateWindow),
		queue:   worker.NewSerialQueue(),
		guilds:  make(map[string]*guildEntry),
		log:     deps.Log.With().Str("component", "dispatch").Logger(),
	}
	d.timer = time.AfterFunc(cfg.CleanupInterval, d.scheduleCleanup)
	return d
}

// Dispatch enqueues one inbound message. Never blocks.
func (d *Dispatcher) Dispatch(msg chat.Message) {
	d.queue.Submit(func() { d.handle(msg) })
}

func (d *Dispatcher) handle(msg chat.Message) {
	if msg.Member.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}
	if !d.deps.Replier.CanPost(msg.ChannelID) {
		return
	}

	e, ok := d.guilds[msg.GuildID]
	if !ok {
		e = &guildEntry{listener: newGuildListener(msg.GuildID, d.cfg, d.deps, d.limiter)}
		d.guilds[msg.GuildID] = e
		d.log.Debug().Str("guild", msg.GuildID).Msg("guild listener created")
	}
	e.lastUsed = d.deps.Now()
	e.listener.forward(msg)
}

// RemoveGuild tears down a guild's listener tree, e.g. on a leave event.
func (d *Dispatcher) RemoveGuild(guildID string) {
	d.queue.Submit(func() {
		if e, ok := d.guilds[guildID]; ok {
			e.listener.dispose()
			delete(d.guilds, guildID)
			d.log.Info().Str("guild", guildID).Msg("guild listener removed")
		}
	})
}

func (d *Dispatcher) scheduleCleanup() {
	submitted := d.queue.Submit(func() {
		cutoff := d.deps.Now().Add(-d.cfg.ListenerTTL)
		for id, e := range d.guilds {
			if e.lastUsed.Before(cutoff) {
				e.listener.dispose()
				delete(d.guilds, id)
				d.log.Debug().Str("guild", id).Msg("guild listener evicted")
			}
		}
	})
	if submitted {
		d.timer.Reset(d.cfg.CleanupInterval)
	}
}

// Close stops cleanup and tears down every listener.
func (d *Dispatcher) Close() {
	d.timer.Stop()
	d.queue.Submit(func() {
		for id, e := range d.guilds {
			e.listener.dispose()
			delete(d.guilds, id)
		}
	})
	// Reject anything submitted after teardown.
	d.queue.Submit(d.queue.Close)
}
