package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueueOrdering(t *testing.T) {
	q := NewSerialQueue()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup

	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		q.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range got {
		require.Equal(t, i, v, "events must run in submission order")
	}
}

func TestSerialQueueNoInterleaving(t *testing.T) {
	q := NewSerialQueue()

	var inFlight, maxSeen int32
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		q.Submit(func() {
			n := atomic.AddInt32(&inFlight, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			wg.Done()
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestSerialQueueCloseRejectsSubmit(t *testing.T) {
	q := NewSerialQueue()
	q.Close()
	assert.False(t, q.Submit(func() {}))
}

func TestKeyedWorkerSingleFlightPerKey(t *testing.T) {
	w := NewKeyedWorker()
	key := Key{GuildID: "g", UserID: "u", ChannelID: "c"}

	var inFlight, maxSeen int32
	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 20; i++ {
		w.Do(key, func() {
			n := atomic.AddInt32(&inFlight, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			wg.Done()
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen), "same key must never run two tasks at once")
}

func TestKeyedWorkerFIFOPerKey(t *testing.T) {
	w := NewKeyedWorker()
	key := Key{GuildID: "g", UserID: "u", ChannelID: "c"}

	var mu sync.Mutex
	var got []int
	var last <-chan struct{}
	for i := 0; i < 50; i++ {
		i := i
		last = w.Do(key, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	<-last

	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestKeyedWorkerKeysRunInParallel(t *testing.T) {
	w := NewKeyedWorker()

	block := make(chan struct{})
	w.Do(Key{GuildID: "g", UserID: "u1", ChannelID: "c"}, func() { <-block })

	done := w.Do(Key{GuildID: "g", UserID: "u2", ChannelID: "c"}, func() {})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key was blocked by another key's task")
	}
	close(block)
}

func TestKeyedWorkerDoneSignalsCompletion(t *testing.T) {
	w := NewKeyedWorker()
	var ran atomic.Bool

	done := w.Do(Key{GuildID: "g"}, func() {
		time.Sleep(5 * time.Millisecond)
		ran.Store(true)
	})
	<-done
	assert.True(t, ran.Load())
}
