// Package chatbot is the fallback collaborator consulted when a
// mention-prefixed message resolves to no command.
package chatbot

import (
	"context"
	"fmt"
	"strings"
)

// Kind tells the dispatcher how to treat a chatbot reply.
type Kind int

const (
	// Message replies are sent to the channel verbatim.
	Message Kind = iota
	// Command replies are re-resolved as a command line.
	Command
)

// Reply is the chatbot's answer to a mention.
type Reply struct {
	Kind Kind
	Text string
}

// Provider answers free-form mentions.
type Provider interface {
	Process(ctx context.Context, userID, text string) (Reply, error)
}

// New returns the provider named in configuration.
func New(provider, url string) (Provider, error) {
	switch provider {
	case "pollinations", "":
		return NewPollinations(url), nil
	default:
		return nil, fmt.Errorf("unsupported chatbot provider: %s", provider)
	}
}

// classify turns raw model output into a Reply. A reply starting with a
// slash is a command the bot should run on the user's behalf.
func classify(text string) Reply {
	text = strings.TrimSpace(text)
	if cmd, ok := strings.CutPrefix(text, "/"); ok && cmd != "" {
		return Reply{Kind: Command, Text: cmd}
	}
	return Reply{Kind: Message, Text: text}
}
