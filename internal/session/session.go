// Package session implements the conversational session: the mutable
// state of one in-flight or awaiting-follow-up command invocation.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ThePrimedTNT/astolfo/internal/chat"
)

// Action is what a response listener decided about an inbound message.
type Action int

const (
	// Nothing leaves the session untouched.
	Nothing Action = iota
	// RunCommand signals the message satisfied the follow-up and a new
	// command should run; the owning listener destroys the session.
	RunCommand
	// IgnoreCommand consumes the message without treating it as a command.
	IgnoreCommand
	// IgnoreAndUnregister consumes the message and removes the listener.
	IgnoreAndUnregister
	// Unregister removes the listener without consuming the message.
	Unregister
)

// ResponseListener inspects a follow-up message and returns an Action.
type ResponseListener func(msg chat.Message) Action

// CommandSession is one conversational context bound to a command path.
// At most one is alive per (guild, channel, user) key; the manager
// enforces that a predecessor is destroyed before a successor exists.
type CommandSession struct {
	Path string

	mu        sync.Mutex
	listeners []*listenerEntry
	hooks     []func()
	destroyed bool

	cancel  context.CancelFunc
	done    chan struct{}
	quit    chan struct{} // closed on destroy; stops updatable loops
	bound   bool
	timeout time.Duration
}

// New creates a session for a resolved command path with the given hard
// execution timeout for its bound task.
func New(path string, timeout time.Duration) *CommandSession {
	return &CommandSession{
		Path:    path,
		timeout: timeout,
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

// Bind launches the leaf action as the session's task. The task is
// force-cancelled at the session timeout; cancellation alone does not
// mark the session destroyed, the completion path decides that.
// onDone receives the task's error, nil included, exactly once.
func (s *CommandSession) Bind(task func(ctx context.Context) error, onDone func(error)) {
	s.mu.Lock()
	if s.destroyed || s.bound {
		s.mu.Unlock()
		if s.destroyed {
			return
		}
		panic("session: task already bound")
	}
	s.bound = true
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		err := task(ctx)
		close(s.done)
		if onDone != nil {
			onDone(err)
		}
	}()
}

type listenerEntry struct {
	fn ResponseListener
}

// AddListener appends a response listener. Listeners run in registration
// order when a follow-up message arrives. A listener may itself register
// further listeners while handling a message; they take effect for the
// next message.
func (s *CommandSession) AddListener(l ResponseListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.listeners = append(s.listeners, &listenerEntry{fn: l})
}

// OnDestroy registers a hook to run once when the session is destroyed.
func (s *CommandSession) OnDestroy(h func()) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		h()
		return
	}
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// AddUpdatable runs fn on a fixed interval until the session is destroyed.
func (s *CommandSession) AddUpdatable(interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn()
			case <-s.quit:
				return
			}
		}
	}()
}

// HasListeners reports whether any response listener is registered.
func (s *CommandSession) HasListeners() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) > 0
}

// Destroyed reports whether Destroy has run.
func (s *CommandSession) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// HandleMessage feeds a follow-up message to each listener in order and
// folds their decisions: RunCommand dominates, any ignore result beats
// Nothing. Listeners asking to unregister are removed; when the last
// listener removes itself the session destroys itself.
func (s *CommandSession) HandleMessage(msg chat.Message) Action {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return Nothing
	}
	snapshot := make([]*listenerEntry, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	result := Nothing
	removed := make(map[*listenerEntry]bool)
	for _, l := range snapshot {
		act := l.fn(msg)
		switch act {
		case RunCommand:
			result = RunCommand
		case IgnoreCommand, IgnoreAndUnregister:
			if result != RunCommand {
				result = IgnoreCommand
			}
		}
		if act == Unregister || act == IgnoreAndUnregister {
			removed[l] = true
		}
	}

	s.mu.Lock()
	if !s.destroyed && len(removed) > 0 {
		var keep []*listenerEntry
		for _, l := range s.listeners {
			if !removed[l] {
				keep = append(keep, l)
			}
		}
		s.listeners = keep
	}
	empty := len(s.listeners) == 0
	s.mu.Unlock()

	if empty && result != RunCommand {
		s.Destroy()
	}
	return result
}

// Destroy tears the session down: runs destroy hooks, cancels the bound
// task, stops updatables, and clears the listener list. Idempotent.
func (s *CommandSession) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	hooks := s.hooks
	cancel := s.cancel
	bound := s.bound
	s.hooks = nil
	s.listeners = nil
	s.mu.Unlock()

	close(s.quit)
	for _, h := range hooks {
		h()
	}
	if cancel != nil {
		cancel()
	}
	if !bound {
		// Nothing to join for sessions whose task never started.
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

// Join blocks until the bound task has completed.
func (s *CommandSession) Join() {
	<-s.done
}
