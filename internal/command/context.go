package command

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
	"github.com/ThePrimedTNT/astolfo/internal/session"
	"github.com/ThePrimedTNT/astolfo/internal/settings"
)

// Context is what a leaf action (and every inherited predicate) receives.
type Context struct {
	// Ctx is the bound task's context; it ends at the session timeout.
	Ctx context.Context

	Path string // resolved command path, e.g. "music play"
	Args string // remaining argument text

	Message chat.Message
	Replier chat.Responder
	Roles   chat.RoleSource

	// Session is the command's conversational session. Actions register
	// response listeners, destroy hooks, and updatables on it.
	Session *session.CommandSession

	Settings *settings.Store
	Tree     *Tree

	Log zerolog.Logger
}

// Reply sends text to the channel the command came from.
func (c *Context) Reply(text string) {
	c.Replier.Send(c.Message.ChannelID, text)
}

// ReplyAwait sends text and returns the posted message's ID.
func (c *Context) ReplyAwait(text string) (string, error) {
	return c.Replier.SendAwait(c.Ctx, c.Message.ChannelID, text)
}
