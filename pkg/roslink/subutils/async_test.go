package subutils

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(msg json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(msg))
}

func (c *collector) collected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestAsyncQueueingHandler(t *testing.T) {
	t.Run("messages reach the wrapped handler in order", func(t *testing.T) {
		c := &collector{}
		a := NewAsyncQueueingHandler(c.handle, 10).Start()
		defer a.Close()

		a.Handle(json.RawMessage(`1`))
		a.Handle(json.RawMessage(`2`))
		a.Handle(json.RawMessage(`3`))

		require.Eventually(t, func() bool {
			return len(c.collected()) == 3
		}, time.Second, time.Millisecond)
		assert.Equal(t, []string{"1", "2", "3"}, c.collected())
	})

	t.Run("close drains queued messages", func(t *testing.T) {
		c := &collector{}
		a := NewAsyncQueueingHandler(c.handle, 10)

		// Not started yet, so everything sits in the queue.
		a.Handle(json.RawMessage(`1`))
		a.Handle(json.RawMessage(`2`))
		assert.Equal(t, 2, a.QueueSize())

		a.Start()
		require.NoError(t, a.Close())
		assert.Equal(t, []string{"1", "2"}, c.collected())
	})

	t.Run("full queue drops and counts", func(t *testing.T) {
		c := &collector{}
		a := NewAsyncQueueingHandler(c.handle, 2)

		// Not started: the queue cannot drain.
		a.Handle(json.RawMessage(`1`))
		a.Handle(json.RawMessage(`2`))
		a.Handle(json.RawMessage(`3`))

		assert.Equal(t, int64(1), a.Dropped())
		assert.Equal(t, 2, a.QueueSize())

		a.Start()
		a.Close()
	})

	t.Run("handle after close is ignored", func(t *testing.T) {
		c := &collector{}
		a := NewAsyncQueueingHandler(c.handle, 10).Start()
		require.NoError(t, a.Close())
		assert.True(t, a.IsClosed())

		a.Handle(json.RawMessage(`1`))
		assert.Empty(t, c.collected())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		a := NewAsyncQueueingHandler(func(json.RawMessage) {}, 10).Start()
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
	})

	t.Run("default queue size", func(t *testing.T) {
		a := NewAsyncQueueingHandler(func(json.RawMessage) {}, 0)
		assert.Equal(t, 100, a.QueueCapacity())
	})

	t.Run("ticker runs on the processing goroutine", func(t *testing.T) {
		ticks := make(chan struct{}, 4)
		a := NewAsyncQueueingHandler(func(json.RawMessage) {}, 10).
			WithTicker(10*time.Millisecond, func() { ticks <- struct{}{} }).
			Start()
		defer a.Close()

		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("tick never fired")
		}
	})
}
