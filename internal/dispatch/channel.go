package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/ratelimit"
	"github.com/ThePrimedTNT/astolfo/internal/worker"
)

// channelListener routes a channel's events to per-user session
// listeners. Command-shaped messages get-or-create the listener; plain
// messages reach only users with existing routing state.
type channelListener struct {
	guildID   string
	channelID string
	cfg       Config
	deps      Deps
	limiter   *ratelimit.Limiter

	queue *worker.SerialQueue
	users map[string]*userEntry
	timer *time.Timer
	log   zerolog.Logger
}

type userEntry struct {
	listener *sessionListener
	lastUsed time.Time
}

func newChannelListener(guildID, channelID string, cfg Config, deps Deps, limiter *ratelimit.Limiter) *channelListener {
	c := &channelListener{
		guildID:   guildID,
		channelID: channelID,
		cfg:       cfg,
		deps:      deps,
		limiter:   limiter,
		queue:     worker.NewSerialQueue(),
		users:     make(map[string]*userEntry),
		log: deps.Log.With().Str("component", "dispatch").
			Str("guild", guildID).Str("channel", channelID).Logger(),
	}
	c.timer = time.AfterFunc(cfg.CleanupInterval, c.scheduleCleanup)
	return c
}

func (c *channelListener) forward(data guildMessage) {
	c.queue.Submit(func() { c.handle(data) })
}

func (c *channelListener) handle(data guildMessage) {
	userID := data.msg.Member.UserID

	e, ok := c.users[userID]
	if !ok {
		if !data.matched {
			return
		}
		e = &userEntry{listener: newSessionListener(c.guildID, c.channelID, userID, c.cfg, c.deps, c.limiter)}
		c.users[userID] = e
	}
	// Only command traffic counts as activity for idle eviction.
	if data.matched {
		e.lastUsed = data.issued
	}
	e.listener.forward(data)
}

func (c *channelListener) scheduleCleanup() {
	submitted := c.queue.Submit(func() {
		cutoff := c.deps.Now().Add(-c.cfg.ListenerTTL)
		for id, e := range c.users {
			if e.lastUsed.Before(cutoff) {
				e.listener.dispose()
				delete(c.users, id)
				c.log.Debug().Str("user", id).Msg("session listener evicted")
			}
		}
	})
	if submitted {
		c.timer.Reset(c.cfg.CleanupInterval)
	}
}

func (c *channelListener) dispose() {
	c.timer.Stop()
	c.queue.Submit(func() {
		for id, e := range c.users {
			e.listener.dispose()
			delete(c.users, id)
		}
	})
	c.queue.Submit(c.queue.Close)
}
