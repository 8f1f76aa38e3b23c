package roslink

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/roslink/roslink/pkg/roslink/o11y"
)

// MessageHandler receives the raw "msg" payload of an inbound publish.
type MessageHandler func(msg json.RawMessage)

// callHandler receives the full envelope of a matched service_response.
type callHandler func(env *Envelope)

type topicListener struct {
	owner any
	fn    MessageHandler
}

// router is the single inbound dispatch point for one connection: a mapping
// from topic name to an ordered listener list, and from call ID to a
// one-shot response handler. All mutation is mutex-guarded because the
// public API can be called from any goroutine, but Dispatch itself only
// runs on the connection's read goroutine, which preserves arrival order.
type router struct {
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string][]topicListener
	calls  map[string]callHandler

	// Metrics (nil if not configured)
	dispatchCounter o11y.Counter
	dropCounter     o11y.Counter
	pendingGauge    o11y.Gauge
}

func newRouter(logger *zap.Logger, metrics o11y.MetricsProvider) *router {
	r := &router{
		logger: logger,
		topics: make(map[string][]topicListener),
		calls:  make(map[string]callHandler),
	}
	if metrics != nil {
		r.dispatchCounter = metrics.Counter("roslink_frames_dispatched_total")
		r.dropCounter = metrics.Counter("roslink_frames_dropped_total")
		r.pendingGauge = metrics.Gauge("roslink_pending_calls")
	}
	return r
}

// addTopicListener appends a listener for the topic. Listeners are notified
// in registration order. The owner tag lets a topic channel remove all of
// its listeners without touching another channel's.
func (r *router) addTopicListener(topic string, owner any, fn MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[topic] = append(r.topics[topic], topicListener{owner: owner, fn: fn})
}

// removeTopicListeners removes every listener the owner registered for the
// topic and returns how many were removed.
func (r *router) removeTopicListeners(topic string, owner any) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners := r.topics[topic]
	kept := listeners[:0]
	removed := 0
	for _, l := range listeners {
		if l.owner == owner {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == 0 {
		delete(r.topics, topic)
	} else {
		r.topics[topic] = kept
	}
	return removed
}

// registerCall installs the one-shot handler for a pending service call.
func (r *router) registerCall(id string, fn callHandler) {
	r.mu.Lock()
	r.calls[id] = fn
	pending := len(r.calls)
	r.mu.Unlock()

	if r.pendingGauge != nil {
		r.pendingGauge.Set(context.Background(), float64(pending))
	}
}

// cancelCall removes a pending call without invoking it. Returns false if
// the call was already consumed or never registered.
func (r *router) cancelCall(id string) bool {
	r.mu.Lock()
	_, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
	}
	pending := len(r.calls)
	r.mu.Unlock()

	if ok && r.pendingGauge != nil {
		r.pendingGauge.Set(context.Background(), float64(pending))
	}
	return ok
}

// dispatch routes one decoded inbound envelope. Publishes fan out to every
// listener keyed by the topic; service responses consume their pending
// handler atomically so a duplicate response with the same ID is a no-op.
// Unmatched keys and unknown ops are ignored, supporting multi-client use
// of the same rosbridge server.
func (r *router) dispatch(ctx context.Context, env *Envelope) {
	switch env.Op {
	case OpPublish:
		r.mu.Lock()
		listeners := r.topics[env.Topic]
		fns := make([]MessageHandler, len(listeners))
		for i, l := range listeners {
			fns[i] = l.fn
		}
		r.mu.Unlock()

		if r.dispatchCounter != nil {
			r.dispatchCounter.Add(ctx, 1, o11y.Label{Key: "op", Value: OpPublish})
		}
		for _, fn := range fns {
			fn(env.Msg)
		}

	case OpServiceResponse:
		r.mu.Lock()
		fn, ok := r.calls[env.ID]
		if ok {
			delete(r.calls, env.ID)
		}
		pending := len(r.calls)
		r.mu.Unlock()

		if !ok {
			r.logger.Debug("service response with no pending call", zap.String("id", env.ID))
			return
		}
		if r.pendingGauge != nil {
			r.pendingGauge.Set(ctx, float64(pending))
		}
		if r.dispatchCounter != nil {
			r.dispatchCounter.Add(ctx, 1, o11y.Label{Key: "op", Value: OpServiceResponse})
		}
		fn(env)

	default:
		// The protocol defines no other server-to-client ops once the
		// compression wrapper has been unwrapped by the codec.
		r.logger.Debug("ignoring inbound envelope", zap.String("op", env.Op))
		if r.dropCounter != nil {
			r.dropCounter.Add(ctx, 1, o11y.Label{Key: "op", Value: env.Op})
		}
	}
}
