package roslink

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Topic is a pub/sub handle for one named, typed rosbridge topic. Handles
// are cheap; several may exist for the same topic name and share the
// connection's wire-level state through the router.
type Topic struct {
	ros         *Ros
	name        string
	messageType string

	compression  string
	throttleRate int
	latch        bool
	queueSize    int
	queueLength  int

	mu         sync.Mutex
	advertised bool
}

// Topic creates a handle for the named topic. Options are configured with
// the fluent With* methods before subscribing or publishing.
func (r *Ros) Topic(name, messageType string) *Topic {
	return &Topic{
		ros:         r,
		name:        name,
		messageType: messageType,
		compression: CompressionNone,
		queueSize:   100,
	}
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Type returns the topic's message type.
func (t *Topic) Type() string { return t.messageType }

// IsAdvertised reports whether the topic is currently advertised.
func (t *Topic) IsAdvertised() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertised
}

// WithCompression sets the subscription compression mode. An unknown mode
// is kept as configured but warned about; rosbridge will fall back server
// side.
func (t *Topic) WithCompression(mode string) *Topic {
	if mode != CompressionNone && mode != CompressionPNG {
		t.ros.logger.Warn("unknown compression mode",
			zap.String("topic", t.name),
			zap.String("compression", mode),
		)
	}
	t.compression = mode
	return t
}

// WithThrottleRate sets the minimum interval in milliseconds between
// messages the server sends for this subscription. Negative rates are
// clamped to 0 with a warning.
func (t *Topic) WithThrottleRate(rate int) *Topic {
	if rate < 0 {
		t.ros.logger.Warn("negative throttle rate clamped to 0",
			zap.String("topic", t.name),
			zap.Int("throttle_rate", rate),
		)
		rate = 0
	}
	t.throttleRate = rate
	return t
}

// WithLatch marks published messages as latched.
func (t *Topic) WithLatch(latch bool) *Topic {
	t.latch = latch
	return t
}

// WithQueueSize sets the server-side publish queue size.
func (t *Topic) WithQueueSize(size int) *Topic {
	t.queueSize = size
	return t
}

// WithQueueLength sets the server-side subscription queue length.
func (t *Topic) WithQueueLength(length int) *Topic {
	t.queueLength = length
	return t
}

// Advertise announces this client as a publisher of the topic. Calls are
// not deduplicated; advertising twice sends twice.
func (t *Topic) Advertise() error {
	err := t.ros.Send(&Envelope{
		Op:        OpAdvertise,
		ID:        t.ros.ids.next(OpAdvertise, t.name),
		Type:      t.messageType,
		Topic:     t.name,
		Latch:     t.latch,
		QueueSize: t.queueSize,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.advertised = true
	t.mu.Unlock()
	return nil
}

// Unadvertise withdraws the publisher announcement.
func (t *Topic) Unadvertise() error {
	err := t.ros.Send(&Envelope{
		Op:    OpUnadvertise,
		ID:    t.ros.ids.next(OpUnadvertise, t.name),
		Topic: t.name,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.advertised = false
	t.mu.Unlock()
	return nil
}

// Subscribe registers a handler for inbound messages on this topic and
// issues a wire-level subscribe with a fresh ID. Repeated calls are
// additive: each adds a handler and sends its own subscribe.
func (t *Topic) Subscribe(handler MessageHandler) error {
	t.ros.router.addTopicListener(t.name, t, handler)

	return t.ros.Send(&Envelope{
		Op:           OpSubscribe,
		ID:           t.ros.ids.next(OpSubscribe, t.name),
		Type:         t.messageType,
		Topic:        t.name,
		Compression:  t.compression,
		ThrottleRate: t.throttleRate,
		QueueLength:  t.queueLength,
	})
}

// Unsubscribe removes every handler this channel registered and sends
// exactly one wire-level unsubscribe.
func (t *Topic) Unsubscribe() error {
	removed := t.ros.router.removeTopicListeners(t.name, t)
	t.ros.logger.Debug("unsubscribed",
		zap.String("topic", t.name),
		zap.Int("handlers_removed", removed),
	)

	return t.ros.Send(&Envelope{
		Op:    OpUnsubscribe,
		ID:    t.ros.ids.next(OpUnsubscribe, t.name),
		Topic: t.name,
	})
}

// Publish sends a message on the topic, advertising first if this handle
// has not advertised yet.
func (t *Topic) Publish(message any) error {
	t.mu.Lock()
	advertised := t.advertised
	t.mu.Unlock()

	if !advertised {
		if err := t.Advertise(); err != nil {
			return err
		}
	}

	msg, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", t.name, err)
	}

	return t.ros.Send(&Envelope{
		Op:    OpPublish,
		ID:    t.ros.ids.next(OpPublish, t.name),
		Topic: t.name,
		Msg:   msg,
	})
}
