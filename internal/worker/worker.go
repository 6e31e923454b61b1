// Package worker provides the two scheduling primitives the dispatch
// engine is built on: a serialized per-entity event queue and a
// single-flight per-key task scheduler.
package worker

import (
	"sync"
)

// SerialQueue executes submitted functions one at a time in submission
// order. Submit never blocks: the backlog is unbounded and drained by a
// single goroutine, so events within one entity can never interleave.
type SerialQueue struct {
	mu      sync.Mutex
	backlog []func()
	running bool
	closed  bool
}

// NewSerialQueue creates an empty queue.
func NewSerialQueue() *SerialQueue {
	return &SerialQueue{}
}

// Submit enqueues fn. Returns false if the queue has been closed.
func (q *SerialQueue) Submit(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.backlog = append(q.backlog, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()
	return true
}

func (q *SerialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		fn()
	}
}

// Close drops any pending backlog and rejects further submissions. The
// currently-executing function, if any, finishes normally.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.backlog = nil
	q.mu.Unlock()
}

// Key identifies one conversational context.
type Key struct {
	GuildID   string
	UserID    string
	ChannelID string
}

// KeyedWorker runs at most one task per key at a time. Tasks submitted
// for the same key run FIFO; tasks for different keys run in parallel.
type KeyedWorker struct {
	mu   sync.Mutex
	keys map[Key]*keyState
}

type keyState struct {
	backlog []queuedTask
	running bool
}

type queuedTask struct {
	fn   func()
	done chan struct{}
}

// NewKeyedWorker creates an empty worker.
func NewKeyedWorker() *KeyedWorker {
	return &KeyedWorker{keys: make(map[Key]*keyState)}
}

// Do schedules fn under key and returns a channel closed when fn has
// completed. Completion of the running task starts the next queued one.
func (w *KeyedWorker) Do(key Key, fn func()) <-chan struct{} {
	done := make(chan struct{})

	w.mu.Lock()
	st, ok := w.keys[key]
	if !ok {
		st = &keyState{}
		w.keys[key] = st
	}
	st.backlog = append(st.backlog, queuedTask{fn: fn, done: done})
	if !st.running {
		st.running = true
		go w.drain(key, st)
	}
	w.mu.Unlock()

	return done
}

func (w *KeyedWorker) drain(key Key, st *keyState) {
	for {
		w.mu.Lock()
		if len(st.backlog) == 0 {
			st.running = false
			delete(w.keys, key)
			w.mu.Unlock()
			return
		}
		task := st.backlog[0]
		st.backlog = st.backlog[1:]
		w.mu.Unlock()

		task.fn()
		close(task.done)
	}
}
