package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
	"github.com/ThePrimedTNT/astolfo/internal/chatbot"
	"github.com/ThePrimedTNT/astolfo/internal/command"
	"github.com/ThePrimedTNT/astolfo/internal/permissions"
	"github.com/ThePrimedTNT/astolfo/internal/session"
	"github.com/ThePrimedTNT/astolfo/internal/settings"
)

const botID = "bot-1"

type fakeResponder struct {
	mu      sync.Mutex
	sent    []string
	canPost bool
}

func (f *fakeResponder) Send(channelID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
}

func (f *fakeResponder) SendAwait(ctx context.Context, channelID, content string) (string, error) {
	f.Send(channelID, content)
	return "reply-1", nil
}

func (f *fakeResponder) CanPost(channelID string) bool { return f.canPost }

func (f *fakeResponder) sends() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeRoles struct{ roles []chat.Role }

func (f *fakeRoles) GuildRoles(guildID string) ([]chat.Role, error) { return f.roles, nil }

type fakeChatbot struct {
	mu      sync.Mutex
	reply   chatbot.Reply
	err     error
	prompts []string
}

func (f *fakeChatbot) Process(ctx context.Context, userID, text string) (chatbot.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, text)
	return f.reply, f.err
}

func (f *fakeChatbot) asked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (f *fakeReporter) Report(err error, path string, msg chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fakeReporter) reported() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

type fixture struct {
	t        *testing.T
	d        *Dispatcher
	replier  *fakeResponder
	store    *settings.Store
	reporter *fakeReporter
	chatbot  *fakeChatbot
	played   chan string
	kicked   chan string
	unlocked chan string
}

// newFixture wires a dispatcher around a small command tree:
//
//	Music:  music play|skip
//	Core:   ping
//	Admin:  unblock
//	Mod:    kick        (requires Kick Members)
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		t:        t,
		replier:  &fakeResponder{canPost: true},
		store:    store,
		reporter: &fakeReporter{},
		chatbot:  &fakeChatbot{},
		played:   make(chan string, 16),
		kicked:   make(chan string, 16),
		unlocked: make(chan string, 16),
	}

	tree := command.NewTree(
		&command.Module{Name: "Music", Roots: []*command.Node{{
			Name: "music",
			Children: []*command.Node{
				{Name: "play", Aliases: []string{"p"}, Action: func(ctx *command.Context) error {
					f.played <- ctx.Args
					return nil
				}},
				{Name: "skip", Action: func(ctx *command.Context) error { return nil }},
			},
		}}},
		&command.Module{Name: "Core", Roots: []*command.Node{{
			Name: "ping",
			Action: func(ctx *command.Context) error {
				ctx.Reply("Pong!")
				return nil
			},
		}}},
		&command.Module{Name: "Admin", Roots: []*command.Node{{
			Name: "unblock",
			Action: func(ctx *command.Context) error {
				f.unlocked <- ctx.Message.ChannelID
				return nil
			},
		}}},
		&command.Module{Name: "Mod", Roots: []*command.Node{{
			Name:       "kick",
			Permission: permissions.Descriptor{Node: "mod.kick", Default: discordgo.PermissionKickMembers},
			Action: func(ctx *command.Context) error {
				f.kicked <- ctx.Args
				return nil
			},
		}}},
	)

	cfg.BotUserID = botID
	f.d = New(cfg, Deps{
		Tree:     tree,
		Settings: store,
		Sessions: session.NewManager(zerolog.Nop()),
		Chatbot:  f.chatbot,
		Replier:  f.replier,
		Roles:    &fakeRoles{},
		Reporter: f.reporter,
		Log:      zerolog.Nop(),
	})
	t.Cleanup(f.d.Close)
	return f
}

// setTree swaps the command tree. Only valid before the first Dispatch,
// while no listener has copied the dependencies yet.
func (f *fixture) setTree(tree *command.Tree) {
	f.d.deps.Tree = tree
}

func (f *fixture) send(content string) {
	f.sendAs(chat.Member{UserID: "u1", Username: "alice"}, content)
}

func (f *fixture) sendAs(member chat.Member, content string) {
	f.d.Dispatch(chat.Message{
		ID:          "m-1",
		GuildID:     "g1",
		ChannelID:   "c1",
		Content:     content,
		Issued:      time.Now(),
		Member:      member,
		MentionsBot: strings.Contains(content, "<@"+botID+">"),
	})
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel")
		panic("unreachable")
	}
}

func waitForReply(t *testing.T, f *fixture, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range f.replier.sends() {
			if strings.Contains(s, substr) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no reply containing %q, got %v", substr, f.replier.sends())
}

func TestLeafCommandRunsWithArgs(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("?music play neverending")

	assert.Equal(t, "neverending", recv(t, f.played))
}

func TestAliasAndCaseInsensitiveResolution(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("?MUSIC P darude")

	assert.Equal(t, "darude", recv(t, f.played))
}

func TestBotAuthorsAreDropped(t *testing.T) {
	f := newFixture(t, Config{})

	f.sendAs(chat.Member{UserID: "u2", Bot: true}, "?music play ignored")
	f.send("?music play real")

	// FIFO on the dispatcher queue: had the bot message been routed,
	// its args would have arrived first.
	assert.Equal(t, "real", recv(t, f.played))
}

func TestUnpostableChannelsAreDropped(t *testing.T) {
	f := newFixture(t, Config{})
	f.replier.canPost = false

	f.send("?music play silence")

	select {
	case <-f.played:
		t.Fatal("command ran in a channel the bot cannot post in")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGuildPrefixOverride(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.store.SetPrefix("g1", "!"))

	f.send("?music play default-prefix")
	f.send("!music play override")

	// The default-prefix message is plain text under the override and
	// never reaches the tree.
	assert.Equal(t, "override", recv(t, f.played))
}

func TestMentionActsAsPrefix(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("<@" + botID + "> ping")

	waitForReply(t, f, "Pong!")
}

func TestUnknownCommandSuggests(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("?musi")

	waitForReply(t, f, "`music`")
}

func TestGroupNodeSuggestsChild(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("?music pla")

	waitForReply(t, f, "`music play`")
}

func TestGroupNodeWithoutArgsPointsAtHelp(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("?music")

	waitForReply(t, f, "help music")
}

func TestBlacklistedChannelAllowsOnlyAdminModule(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.store.BlacklistChannel("g1", "c1"))

	f.send("?music play blocked")
	f.send("?unblock")

	assert.Equal(t, "c1", recv(t, f.unlocked))
	select {
	case <-f.played:
		t.Fatal("non-admin command ran in a blacklisted channel")
	default:
	}
}

func TestPermissionDenialReplies(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("?kick @bob")

	waitForReply(t, f, "You need `Kick Members` to use `kick`.")
	select {
	case <-f.kicked:
		t.Fatal("command ran despite missing permission")
	default:
	}
}

func TestAdminBypassesNativeDefault(t *testing.T) {
	f := newFixture(t, Config{})

	f.sendAs(chat.Member{UserID: "u1", Admin: true}, "?kick @bob")

	assert.Equal(t, "@bob", recv(t, f.kicked))
}

func TestNativePermissionBitGrants(t *testing.T) {
	f := newFixture(t, Config{})

	f.sendAs(chat.Member{UserID: "u1", Permissions: discordgo.PermissionKickMembers}, "?kick @bob")

	assert.Equal(t, "@bob", recv(t, f.kicked))
}

func TestRateLimitNoticeSentOnce(t *testing.T) {
	f := newFixture(t, Config{RateThreshold: 3, RateWindow: time.Hour})

	for i := 0; i < 5; i++ {
		f.send("?ping")
	}

	// Two pongs make it through, the tipping message is dropped
	// silently, the next one earns the single notice, the rest nothing.
	require.Eventually(t, func() bool {
		return len(f.replier.sends()) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	var pongs, notices int
	for _, s := range f.replier.sends() {
		switch {
		case s == "Pong!":
			pongs++
		case strings.Contains(s, "Slow down"):
			notices++
		}
	}
	assert.Equal(t, 2, pongs)
	assert.Equal(t, 1, notices)
}

func TestChatbotAnswersMentions(t *testing.T) {
	f := newFixture(t, Config{})
	f.chatbot.reply = chatbot.Reply{Kind: chatbot.Message, Text: "I'm doing great!"}

	f.send("<@" + botID + "> how are you?")

	waitForReply(t, f, "I'm doing great!")
	assert.Equal(t, []string{"how are you?"}, f.chatbot.asked())
}

func TestChatbotCommandReplyIsResolvedOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.chatbot.reply = chatbot.Reply{Kind: chatbot.Command, Text: "music play something nice"}

	f.send("<@" + botID + "> put some music on")

	assert.Equal(t, "something nice", recv(t, f.played))
}

func TestChatbotGarbageCommandStaysSilent(t *testing.T) {
	f := newFixture(t, Config{})
	f.chatbot.reply = chatbot.Reply{Kind: chatbot.Command, Text: "do a barrel roll"}

	f.send("<@" + botID + "> hi")

	// A chatbot "command" that resolves to nothing must not loop back
	// into the chatbot or produce a suggestion.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.replier.sends())
	assert.Len(t, f.chatbot.asked(), 1)
}

func TestPlainMessagesWithoutSessionAreIgnored(t *testing.T) {
	f := newFixture(t, Config{})

	f.send("just chatting")
	f.send("?ping")

	waitForReply(t, f, "Pong!")
	assert.Equal(t, []string{"Pong!"}, f.replier.sends())
}

// promptTree builds a single "music play" command whose action registers
// the given listener and signals on ready once it is installed.
func promptTree(ready chan struct{}, listener session.ResponseListener) *command.Tree {
	return command.NewTree(&command.Module{Name: "Music", Roots: []*command.Node{{
		Name: "music",
		Children: []*command.Node{{Name: "play", Action: func(ctx *command.Context) error {
			ctx.Session.AddListener(listener)
			ready <- struct{}{}
			return nil
		}}},
	}}})
}

func TestSessionConsumesFollowUp(t *testing.T) {
	f := newFixture(t, Config{})
	ready := make(chan struct{}, 4)
	answers := make(chan string, 4)
	f.setTree(promptTree(ready, func(m chat.Message) session.Action {
		answers <- m.Content
		return session.IgnoreAndUnregister
	}))

	f.send("?music play waiting")
	recv(t, ready)
	f.send("next track please")

	assert.Equal(t, "next track please", recv(t, answers))
}

func TestFollowUpListenerBlocksSameCommand(t *testing.T) {
	f := newFixture(t, Config{})
	ready := make(chan struct{}, 4)
	consumed := make(chan string, 4)
	f.setTree(promptTree(ready, func(m chat.Message) session.Action {
		consumed <- m.Content
		return session.IgnoreCommand
	}))

	f.send("?music play once")
	recv(t, ready)

	// Same path while the session listens: the session eats the message
	// instead of a second invocation starting.
	f.send("?music play again")

	assert.Equal(t, "?music play again", recv(t, consumed))
	select {
	case <-ready:
		t.Fatal("command re-ran while its session was consuming input")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunCommandFromListenerRestartsCommand(t *testing.T) {
	f := newFixture(t, Config{})
	ready := make(chan struct{}, 4)
	f.setTree(promptTree(ready, func(m chat.Message) session.Action {
		return session.RunCommand
	}))

	f.send("?music play first")
	recv(t, ready)
	f.send("?music play second")

	// RunCommand tears the old session down and the command starts over.
	recv(t, ready)
}

func TestActionErrorsReachReporter(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("stream exploded")
	f.setTree(command.NewTree(&command.Module{Name: "Music", Roots: []*command.Node{{
		Name: "music",
		Children: []*command.Node{{Name: "play", Action: func(*command.Context) error {
			return boom
		}}},
	}}}))

	f.send("?music play x")

	require.Eventually(t, func() bool {
		return len(f.reporter.reported()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.reporter.reported()[0], boom)
}

func TestActionPanicIsContained(t *testing.T) {
	f := newFixture(t, Config{})
	f.setTree(command.NewTree(&command.Module{Name: "Music", Roots: []*command.Node{{
		Name: "music",
		Children: []*command.Node{
			{Name: "play", Action: func(*command.Context) error { panic("volume knob fell off") }},
			{Name: "skip", Action: func(ctx *command.Context) error {
				ctx.Reply("skipped")
				return nil
			}},
		},
	}}}))

	f.send("?music play x")
	f.send("?music skip")

	// The panic is reported and the listener keeps routing.
	waitForReply(t, f, "skipped")
	require.Eventually(t, func() bool {
		return len(f.reporter.reported()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.reporter.reported()[0].Error(), "volume knob fell off")
}

func TestSessionTimeoutIsNotReported(t *testing.T) {
	f := newFixture(t, Config{SessionTimeout: 30 * time.Millisecond})
	f.setTree(command.NewTree(&command.Module{Name: "Music", Roots: []*command.Node{{
		Name: "music",
		Children: []*command.Node{{Name: "play", Action: func(ctx *command.Context) error {
			<-ctx.Ctx.Done()
			return ctx.Ctx.Err()
		}}},
	}}}))

	f.send("?music play forever")

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, f.reporter.reported())
}

// destroyTree builds a "music play" command whose session outlives the
// task via a listener, reporting destruction on dead.
func destroyTree(ready, dead chan struct{}) *command.Tree {
	return command.NewTree(&command.Module{Name: "Music", Roots: []*command.Node{{
		Name: "music",
		Children: []*command.Node{{Name: "play", Action: func(ctx *command.Context) error {
			ctx.Session.OnDestroy(func() { close(dead) })
			ctx.Session.AddListener(func(chat.Message) session.Action { return session.Nothing })
			ready <- struct{}{}
			return nil
		}}},
	}}})
}

func TestIdleSessionListenerIsEvicted(t *testing.T) {
	f := newFixture(t, Config{
		ListenerTTL:     50 * time.Millisecond,
		CleanupInterval: 20 * time.Millisecond,
	})
	ready := make(chan struct{}, 1)
	dead := make(chan struct{})
	f.setTree(destroyTree(ready, dead))

	f.send("?music play idle")
	recv(t, ready)

	// Eviction disposes the listener chain, which invalidates the
	// session and fires its destroy hooks.
	recv(t, dead)
}

func TestRemoveGuildDestroysSessions(t *testing.T) {
	f := newFixture(t, Config{})
	ready := make(chan struct{}, 1)
	dead := make(chan struct{})
	f.setTree(destroyTree(ready, dead))

	f.send("?music play here")
	recv(t, ready)

	f.d.RemoveGuild("g1")

	recv(t, dead)
}

func TestConcurrentUsersDoNotInterfere(t *testing.T) {
	f := newFixture(t, Config{RateThreshold: 100})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.d.Dispatch(chat.Message{
				GuildID:   "g1",
				ChannelID: "c1",
				Content:   "?music skip",
				Issued:    time.Now(),
				Member:    chat.Member{UserID: "user-" + string(rune('a'+i))},
			})
		}()
	}
	wg.Wait()

	f.send("?ping")
	waitForReply(t, f, "Pong!")
	assert.Empty(t, f.reporter.reported())
}

func TestMentionPrefixRequiresRealMention(t *testing.T) {
	f := newFixture(t, Config{})

	// Mention markup pasted as plain text: the platform parsed no
	// mention, so it must not act as a prefix.
	f.d.Dispatch(chat.Message{
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "<@" + botID + "> ping",
		Issued:    time.Now(),
		Member:    chat.Member{UserID: "u1"},
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.replier.sends())
}

func TestNSFWModuleNeedsAgeRestrictedChannel(t *testing.T) {
	f := newFixture(t, Config{})
	rolled := make(chan struct{}, 2)
	f.setTree(command.NewTree(&command.Module{Name: "Lewd", NSFW: true, Roots: []*command.Node{{
		Name: "roll",
		Action: func(ctx *command.Context) error {
			rolled <- struct{}{}
			return nil
		},
	}}}))

	f.send("?roll")
	waitForReply(t, f, "age-restricted")
	select {
	case <-rolled:
		t.Fatal("NSFW command ran in a regular channel")
	default:
	}

	f.d.Dispatch(chat.Message{
		GuildID:     "g1",
		ChannelID:   "c1",
		Content:     "?roll",
		Issued:      time.Now(),
		Member:      chat.Member{UserID: "u1"},
		ChannelNSFW: true,
	})
	recv(t, rolled)
}

func TestChatterDoesNotPostponeEviction(t *testing.T) {
	f := newFixture(t, Config{
		ListenerTTL:     50 * time.Millisecond,
		CleanupInterval: 20 * time.Millisecond,
	})
	ready := make(chan struct{}, 1)
	dead := make(chan struct{})
	f.setTree(destroyTree(ready, dead))

	f.send("?music play idle")
	recv(t, ready)

	// Constant plain chatter must not count as activity: the listener
	// chain still idles out on command traffic alone.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				f.send("la la la")
			}
		}
	}()

	recv(t, dead)
}
