package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

func isStruct(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Struct {
		return true
	}
	return t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct
}

func containsStructs(v any) bool {
	if v == nil {
		return false
	}

	t := reflect.TypeOf(v)
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}

	elem := t.Elem()
	if elem.Kind() == reflect.Struct {
		return true
	}
	return elem.Kind() == reflect.Pointer && elem.Elem().Kind() == reflect.Struct
}

// JqTransform compiles a jq query into a MessageTransformFunc. The query
// runs against the message payload with the topic bound to $topic. A query
// producing no results drops the message; multiple results are collected
// into an array. Runtime errors pass the message through unchanged, logged
// when a logger is provided.
func JqTransform(jqQuery string, logger *zap.Logger) (MessageTransformFunc, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parse jq query %q: %w", jqQuery, err)
	}

	compiled, err := gojq.Compile(query, gojq.WithVariables([]string{"$topic"}))
	if err != nil {
		return nil, fmt.Errorf("compile jq query %q: %w", jqQuery, err)
	}

	return func(msg *Message) (*Message, bool) {
		var jqInput any

		switch payload := msg.Payload.(type) {
		case string:
			if err := json.Unmarshal([]byte(payload), &jqInput); err != nil {
				jqInput = payload
			}
		case []byte:
			if err := json.Unmarshal(payload, &jqInput); err != nil {
				jqInput = string(payload)
			}
		case json.RawMessage:
			if err := json.Unmarshal(payload, &jqInput); err != nil {
				jqInput = string(payload)
			}
		default:
			// Structs must round-trip through JSON so jq sees plain maps.
			if isStruct(payload) || containsStructs(payload) {
				encoded, err := json.Marshal(payload)
				if err != nil {
					if logger != nil {
						logger.Error("jq transform: marshal payload",
							zap.String("jq_query", jqQuery),
							zap.String("topic", msg.Topic),
							zap.Error(err))
					}
					return msg, true
				}
				if err := json.Unmarshal(encoded, &jqInput); err != nil {
					if logger != nil {
						logger.Error("jq transform: unmarshal payload",
							zap.String("jq_query", jqQuery),
							zap.String("topic", msg.Topic),
							zap.Error(err))
					}
					return msg, true
				}
			} else {
				jqInput = payload
			}
		}

		ctx := msg.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		iter := compiled.RunWithContext(ctx, jqInput, msg.Topic)

		var results []any
		for {
			result, hasResult := iter.Next()
			if !hasResult {
				break
			}

			if execErr, ok := result.(error); ok {
				if logger != nil {
					logger.Error("jq transform: execution error",
						zap.String("jq_query", jqQuery),
						zap.String("topic", msg.Topic),
						zap.Error(execErr))
				}
				return msg, true
			}

			results = append(results, result)
		}

		if len(results) == 0 {
			return nil, false
		}

		var payload any
		if len(results) == 1 {
			payload = results[0]
		} else {
			payload = results
		}

		return &Message{
			Ctx:     msg.Ctx,
			Topic:   msg.Topic,
			Payload: payload,
		}, true
	}, nil
}
