package roslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/roslink/roslink/pkg/roslink/o11y"
)

// ErrCallTimeout is delivered to the callback when a CallWithTimeout call
// receives no response before its deadline.
var ErrCallTimeout = errors.New("roslink: service call timed out")

// ServiceHandler receives the response of a service call: the response
// values as raw JSON, or an error if the server reported failure or the
// call timed out. It is invoked exactly once per call.
type ServiceHandler func(values json.RawMessage, err error)

// Service is a client handle for one rosbridge service endpoint.
type Service struct {
	ros         *Ros
	name        string
	serviceType string
}

// Service creates a handle for the named service.
func (r *Ros) Service(name, serviceType string) *Service {
	return &Service{ros: r, name: name, serviceType: serviceType}
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Call invokes the service and registers cb for the response. The request's
// own fields are flattened into positional args: struct fields in
// declaration order, map entries in sorted key order. With no timeout, a
// call whose response never arrives holds its pending entry forever — use
// CallWithTimeout in long-lived processes.
func (s *Service) Call(request any, cb ServiceHandler) error {
	return s.call(request, 0, cb)
}

// CallWithTimeout behaves like Call but cancels the pending entry and
// delivers ErrCallTimeout if no response arrives within the timeout.
func (s *Service) CallWithTimeout(request any, timeout time.Duration, cb ServiceHandler) error {
	return s.call(request, timeout, cb)
}

func (s *Service) call(request any, timeout time.Duration, cb ServiceHandler) error {
	args, keys, err := flattenRequest(request)
	if err != nil {
		return fmt.Errorf("service %s: %w", s.name, err)
	}

	id := s.ros.ids.next(OpCallService, s.name)

	var span o11y.Span
	if s.ros.tracingProvider != nil {
		_, span = s.ros.tracingProvider.StartSpan(context.Background(), "roslink.call_service")
		span.SetAttributes(
			o11y.Label{Key: "service", Value: s.name},
			o11y.Label{Key: "id", Value: id},
		)
	}

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			// Consume the pending entry; if the response won the race
			// this is a no-op.
			if s.ros.router.cancelCall(id) {
				if span != nil {
					span.SetStatus(o11y.SpanStatusError, "timeout")
					span.End()
				}
				cb(nil, ErrCallTimeout)
			}
		})
	}

	s.ros.router.registerCall(id, func(env *Envelope) {
		if timer != nil {
			timer.Stop()
		}
		values, callErr := decodeResponse(env, keys)
		if span != nil {
			if callErr != nil {
				span.SetStatus(o11y.SpanStatusError, callErr.Error())
			} else {
				span.SetStatus(o11y.SpanStatusOK, "")
			}
			span.End()
		}
		cb(values, callErr)
	})

	return s.ros.Send(&Envelope{
		Op:      OpCallService,
		ID:      id,
		Service: s.name,
		Args:    args,
	})
}

// decodeResponse turns a service_response envelope into response values.
// When the server returns a positional array, it is reconstructed into an
// object using the request's key order, so callers see named fields either
// way.
func decodeResponse(env *Envelope, keys []string) (json.RawMessage, error) {
	if env.Result != nil && !*env.Result {
		return nil, fmt.Errorf("service call failed: %s", strings.TrimSpace(string(env.Values)))
	}

	values := env.Values
	if len(values) == 0 {
		return nil, nil
	}

	trimmed := strings.TrimSpace(string(values))
	if !strings.HasPrefix(trimmed, "[") {
		return values, nil
	}

	var positional []json.RawMessage
	if err := json.Unmarshal(values, &positional); err != nil {
		return nil, fmt.Errorf("%w: service response values: %v", ErrBadFrame, err)
	}

	object := make(map[string]json.RawMessage, len(positional))
	for i, v := range positional {
		if i >= len(keys) {
			break
		}
		object[keys[i]] = v
	}

	reconstructed, err := json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("reconstruct service response: %w", err)
	}
	return reconstructed, nil
}

// flattenRequest produces the positional args list for a call_service
// envelope along with the key order used, so an array-shaped response can
// be zipped back into an object.
func flattenRequest(request any) (args []any, keys []string, err error) {
	if request == nil {
		return nil, nil, nil
	}

	v := reflect.ValueOf(request)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			keys = append(keys, name)
			args = append(args, v.Field(i).Interface())
		}
		return args, keys, nil

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, nil, fmt.Errorf("request map keys must be strings, got %s", v.Type().Key())
		}
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, v.MapIndex(reflect.ValueOf(k)).Interface())
		}
		return args, keys, nil

	default:
		return nil, nil, fmt.Errorf("request must be a struct or map, got %s", v.Kind())
	}
}
