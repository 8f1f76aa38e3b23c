// Package subutils provides handler decorators for topic subscriptions:
// asynchronous queueing so slow consumers do not stall the connection's
// read loop, and logging for debugging.
package subutils

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/roslink/roslink/pkg/roslink"
)

var (
	ErrQueueFull     = errors.New("handler queue is full")
	ErrHandlerClosed = errors.New("handler is closed")
)

// AsyncQueueingHandler decouples message delivery from message processing:
// the connection's dispatch goroutine enqueues and returns immediately
// while a background goroutine feeds the wrapped handler. Messages
// arriving on a full queue are dropped and counted.
type AsyncQueueingHandler struct {
	wrapped   roslink.MessageHandler
	queue     chan json.RawMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	ticker    *time.Ticker
	onTick    func()

	mu      sync.Mutex
	dropped int64
}

// NewAsyncQueueingHandler wraps a handler with a buffered queue of the
// given size. Call Start to begin processing and Close to shut down; Close
// drains whatever is queued before returning.
func NewAsyncQueueingHandler(wrapped roslink.MessageHandler, queueSize int) *AsyncQueueingHandler {
	if queueSize <= 0 {
		queueSize = 100
	}

	return &AsyncQueueingHandler{
		wrapped: wrapped,
		queue:   make(chan json.RawMessage, queueSize),
		done:    make(chan struct{}),
	}
}

// WithTicker arranges for onTick to run on the processing goroutine at the
// given interval, useful for periodic flushes or health checks. Must be
// called before Start.
func (a *AsyncQueueingHandler) WithTicker(interval time.Duration, onTick func()) *AsyncQueueingHandler {
	if interval > 0 && a.ticker == nil {
		a.ticker = time.NewTicker(interval)
		a.onTick = onTick
	}
	return a
}

// Start launches the background processing goroutine.
func (a *AsyncQueueingHandler) Start() *AsyncQueueingHandler {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

// Handle is the roslink.MessageHandler to pass to Topic.Subscribe. It
// never blocks: a full queue drops the message.
func (a *AsyncQueueingHandler) Handle(msg json.RawMessage) {
	if a.IsClosed() {
		return
	}

	select {
	case a.queue <- msg:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
	}
}

func (a *AsyncQueueingHandler) processQueue() {
	defer a.wg.Done()

	var tickerChan <-chan time.Time
	if a.ticker != nil {
		tickerChan = a.ticker.C
	}

	for {
		select {
		case msg := <-a.queue:
			a.wrapped(msg)
		case <-tickerChan:
			if a.onTick != nil {
				a.onTick()
			}
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncQueueingHandler) drainQueue() {
	for {
		select {
		case msg := <-a.queue:
			a.wrapped(msg)
		default:
			return
		}
	}
}

// Close stops the ticker, signals the processing goroutine, and waits for
// it to drain the queue and exit.
func (a *AsyncQueueingHandler) Close() error {
	a.closeOnce.Do(func() {
		if a.ticker != nil {
			a.ticker.Stop()
		}
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// QueueSize returns the number of messages currently queued.
func (a *AsyncQueueingHandler) QueueSize() int {
	return len(a.queue)
}

// QueueCapacity returns the queue's buffer size.
func (a *AsyncQueueingHandler) QueueCapacity() int {
	return cap(a.queue)
}

// Dropped returns how many messages were discarded on a full queue.
func (a *AsyncQueueingHandler) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// IsClosed reports whether Close has been called.
func (a *AsyncQueueingHandler) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
