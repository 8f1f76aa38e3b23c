package roslink

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/roslink/roslink/pkg/roslink/o11y"
)

// ConnectionState is the lifecycle state of a Ros connection. Transitions
// are driven solely by socket lifecycle events, never polled.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// wsConn is the slice of *websocket.Conn the client uses. Tests substitute a
// scripted implementation; the method set matches coder/websocket exactly so
// the real connection satisfies it structurally.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Ros owns one socket to a rosbridge server and the correlation router that
// demultiplexes its inbound frames. Topic, Service, Param and ActionClient
// handles are created from a Ros and share its connection, call-ID generator
// and router.
type Ros struct {
	// Configuration
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeChannelSize int
	decompress       DecompressFunc
	metricsProvider  o11y.MetricsProvider
	tracingProvider  o11y.TracingProvider

	router *router
	ids    *idGenerator

	// Connection state
	state  atomic.Int32
	mu     sync.Mutex
	conn   wsConn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeChannel chan []byte
	deferred     [][]byte // sends registered before the next transition to Open

	// Lifecycle event handlers
	handlerMu          sync.Mutex
	connectionHandlers []func()
	closeHandlers      []func(err error)
	errorHandlers      []func(err error)

	// Metrics (nil if not configured)
	sendCounter  o11y.Counter
	frameCounter o11y.Counter
	errorCounter o11y.Counter
}

// State returns the current connection state.
func (r *Ros) State() ConnectionState {
	return ConnectionState(r.state.Load())
}

// IsConnected reports whether the socket is open.
func (r *Ros) IsConnected() bool {
	return r.State() == StateOpen
}

// URL returns the configured rosbridge URL.
func (r *Ros) URL() string {
	return r.url
}

// OnConnection registers a handler fired each time the socket transitions
// to Open, after any deferred sends have been flushed.
func (r *Ros) OnConnection(fn func()) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.connectionHandlers = append(r.connectionHandlers, fn)
}

// OnClose registers a handler fired when the socket closes. The error is
// nil for a locally requested close.
func (r *Ros) OnClose(fn func(err error)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.closeHandlers = append(r.closeHandlers, fn)
}

// OnError registers a handler for transport and per-frame protocol errors.
// A protocol error drops the offending frame only; the connection stays up.
func (r *Ros) OnError(fn func(err error)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.errorHandlers = append(r.errorHandlers, fn)
}

// Connect dials the rosbridge server, replacing any prior socket, and
// starts the read and write loops. Sends issued before Connect are flushed
// first-registered-first-fired on the transition to Open.
func (r *Ros) Connect(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		// Replace any prior socket: close it, then retry the transition.
		r.Close()
		r.state.Store(int32(StateDisconnected))
		if !r.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
			return fmt.Errorf("roslink: connect already in progress")
		}
	}

	if _, err := url.Parse(r.url); err != nil {
		r.state.Store(int32(StateDisconnected))
		return fmt.Errorf("invalid URL: %w", err)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, r.dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, r.url, nil)
	if err != nil {
		r.state.Store(int32(StateDisconnected))
		return fmt.Errorf("failed to connect to rosbridge: %w", err)
	}
	conn.SetReadLimit(-1)

	r.start(ctx, conn)
	r.logger.Info("connected to rosbridge", zap.String("url", r.url))
	return nil
}

// start wires a ready socket into the client. Split from Connect so tests
// can drive the protocol over a scripted connection.
func (r *Ros) start(ctx context.Context, conn wsConn) {
	r.mu.Lock()
	r.conn = conn
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	// Buffer deferred sends in registration order ahead of anything else
	// that could be written. The list is cleared: a later reconnect
	// replays nothing.
	deferred := r.deferred
	r.deferred = nil
	r.writeChannel = make(chan []byte, r.writeChannelSize+len(deferred))
	for _, data := range deferred {
		r.writeChannel <- data
	}
	r.mu.Unlock()

	r.state.Store(int32(StateOpen))

	go r.readLoop()
	go r.writeLoop()

	r.fireConnection()
}

// Close closes the current socket if present and is a no-op otherwise.
func (r *Ros) Close() error {
	if r.State() != StateOpen {
		return nil
	}
	r.shutdown(websocket.StatusNormalClosure, "client close", nil)
	return nil
}

func (r *Ros) shutdown(status websocket.StatusCode, reason string, cause error) {
	if !r.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		return
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		r.conn.Close(status, reason)
		r.conn = nil
	}
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	if cause != nil {
		r.logger.Warn("connection closed", zap.Error(cause))
	} else {
		r.logger.Info("connection closed")
	}
	r.fireClose(cause)
}

// notifyDisconnectError handles a transport failure observed by a loop
// goroutine. Cleanup runs on a fresh goroutine because the loops must exit
// before shutdown can complete.
func (r *Ros) notifyDisconnectError(err error) {
	r.fireError(err)
	go r.shutdown(websocket.StatusInternalError, "connection error", err)
}

// Send transmits an envelope if the socket is open, or registers a one-shot
// deferred send that fires on the next transition to Open. Deferred sends
// go out first-registered-first-fired; they are not replayed across later
// reconnects.
func (r *Ros) Send(env *Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	if r.sendCounter != nil {
		r.sendCounter.Add(context.Background(), 1, o11y.Label{Key: "op", Value: env.Op})
	}

	r.mu.Lock()
	if r.State() != StateOpen {
		r.deferred = append(r.deferred, data)
		r.mu.Unlock()
		r.logger.Debug("send deferred until connect", zap.String("op", env.Op), zap.String("id", env.ID))
		return nil
	}
	writeChannel := r.writeChannel
	ctx := r.ctx
	r.mu.Unlock()

	select {
	case writeChannel <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Ros) readLoop() {
	defer close(r.done)

	r.mu.Lock()
	conn := r.conn
	ctx := r.ctx
	r.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("read failed", zap.Error(err))
				r.notifyDisconnectError(err)
			}
			return
		}
		r.handleFrame(ctx, data)
	}
}

func (r *Ros) writeLoop() {
	r.mu.Lock()
	conn := r.conn
	ctx := r.ctx
	writeChannel := r.writeChannel
	r.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-writeChannel:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					r.logger.Error("write failed", zap.Error(err))
					r.notifyDisconnectError(err)
				}
				return
			}
		}
	}
}

// handleFrame decodes one inbound frame and routes it. A malformed frame is
// dropped and reported; the connection remains open.
func (r *Ros) handleFrame(ctx context.Context, data []byte) {
	env, err := DecodeEnvelope(data, r.decompress)
	if err != nil {
		r.logger.Warn("dropping malformed frame", zap.Error(err))
		if r.errorCounter != nil {
			r.errorCounter.Add(ctx, 1, o11y.Label{Key: "kind", Value: "bad_frame"})
		}
		r.fireError(err)
		return
	}
	if r.frameCounter != nil {
		r.frameCounter.Add(ctx, 1, o11y.Label{Key: "op", Value: env.Op})
	}
	r.router.dispatch(ctx, env)
}

func (r *Ros) fireConnection() {
	r.handlerMu.Lock()
	handlers := append(([]func())(nil), r.connectionHandlers...)
	r.handlerMu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (r *Ros) fireClose(err error) {
	r.handlerMu.Lock()
	handlers := append(([]func(error))(nil), r.closeHandlers...)
	r.handlerMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (r *Ros) fireError(err error) {
	r.handlerMu.Lock()
	handlers := append(([]func(error))(nil), r.errorHandlers...)
	r.handlerMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}
