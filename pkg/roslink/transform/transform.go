// Package transform provides composable message transforms for inbound
// topic traffic: filtering by topic pattern, payload rewriting with jq
// queries, structural diffs, and rate limiting. Transforms sit between a
// subscription and the application handler.
package transform

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"

	"github.com/roslink/roslink/pkg/roslink"
)

// Message is one inbound topic message as seen by a transform pipeline.
// Payload holds the decoded JSON value.
type Message struct {
	Ctx     context.Context
	Topic   string
	Payload any
}

// MessageTransformFunc transforms one message. Returning nil drops the
// message; returning false stops any remaining transforms in a chain.
type MessageTransformFunc func(msg *Message) (*Message, bool)

// SimpleMessageTransformFunc transforms just the payload. Fields carries
// segments extracted from the topic by pattern matching, when applicable.
// Returning nil drops the message.
type SimpleMessageTransformFunc func(ctx context.Context, payload any, fields map[string]string) any

// DropTopicPattern drops messages whose topic matches an MQTT-style
// pattern, for example "sensors/+/raw" or "debug/#".
func DropTopicPattern(pattern string) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		if mqttpattern.Matches(pattern, msg.Topic) {
			return nil, false
		}
		return msg, true
	}
}

// DropTopicPrefix drops messages whose topic starts with the prefix.
func DropTopicPrefix(prefix string) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		if strings.HasPrefix(msg.Topic, prefix) {
			return nil, false
		}
		return msg, true
	}
}

// AddTopicPrefix rewrites the topic by prepending a prefix.
func AddTopicPrefix(prefix string) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		return &Message{
			Ctx:     msg.Ctx,
			Topic:   prefix + msg.Topic,
			Payload: msg.Payload,
		}, true
	}
}

// RateLimitByTopic drops messages arriving within minInterval of the
// previous message on the same topic. The state is per returned function
// and not goroutine safe; use one pipeline per subscription.
func RateLimitByTopic(minInterval time.Duration) MessageTransformFunc {
	lastSent := make(map[string]time.Time)

	return func(msg *Message) (*Message, bool) {
		now := time.Now()
		if last, ok := lastSent[msg.Topic]; ok && now.Sub(last) < minInterval {
			return nil, false
		}
		lastSent[msg.Topic] = now
		return msg, true
	}
}

// ChainTransforms combines transforms into a single pipeline. A nil result
// or false continue flag stops the chain.
func ChainTransforms(transforms ...MessageTransformFunc) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		current := msg
		for _, transform := range transforms {
			if current == nil {
				return nil, true
			}

			transformed, keepGoing := transform(current)
			current = transformed

			if current == nil || !keepGoing {
				return current, keepGoing
			}
		}
		return current, true
	}
}

// TransformOnPattern applies fn to messages whose topic matches the
// MQTT-style pattern, with named segments extracted into fields. Messages
// on other topics pass through unchanged.
func TransformOnPattern(pattern string, fn SimpleMessageTransformFunc) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		if !mqttpattern.Matches(pattern, msg.Topic) {
			return msg, true
		}

		fields := mqttpattern.Extract(pattern, msg.Topic)
		payload := fn(msg.Ctx, msg.Payload, fields)
		if payload == nil {
			return nil, true
		}

		return &Message{
			Ctx:     msg.Ctx,
			Topic:   msg.Topic,
			Payload: payload,
		}, true
	}
}

// IfPattern applies a transform only when the topic matches the pattern.
func IfPattern(pattern string, transform MessageTransformFunc) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		if mqttpattern.Matches(pattern, msg.Topic) {
			return transform(msg)
		}
		return msg, true
	}
}

// IfElsePattern applies ifTransform when the topic matches the pattern and
// elseTransform otherwise.
func IfElsePattern(pattern string, ifTransform, elseTransform MessageTransformFunc) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		if mqttpattern.Matches(pattern, msg.Topic) {
			return ifTransform(msg)
		}
		return elseTransform(msg)
	}
}

// ModifyPayload applies fn to every payload, without pattern matching.
func ModifyPayload(fn SimpleMessageTransformFunc) MessageTransformFunc {
	return func(msg *Message) (*Message, bool) {
		payload := fn(msg.Ctx, msg.Payload, make(map[string]string))
		if payload == nil {
			return nil, true
		}

		return &Message{
			Ctx:     msg.Ctx,
			Topic:   msg.Topic,
			Payload: payload,
		}, true
	}
}

// Handler adapts a transform pipeline into a subscription handler for the
// given topic. Inbound JSON is decoded, run through the pipeline, and the
// surviving message is handed to next. Payloads that fail to decode are
// passed through as raw strings.
func Handler(topic string, pipeline MessageTransformFunc, next func(msg *Message)) roslink.MessageHandler {
	return func(raw json.RawMessage) {
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = string(raw)
		}

		msg := &Message{
			Ctx:     context.Background(),
			Topic:   topic,
			Payload: payload,
		}

		if pipeline != nil {
			msg, _ = pipeline(msg)
			if msg == nil {
				return
			}
		}
		next(msg)
	}
}
