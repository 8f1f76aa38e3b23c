package roslink

import (
	"encoding/json"
	"fmt"
	"time"
)

// Param is a convenience handle for one named value in the remote parameter
// store, layered over the rosapi get/set services.
type Param struct {
	ros  *Ros
	name string
}

// Param creates a handle for the named parameter.
func (r *Ros) Param(name string) *Param {
	return &Param{ros: r, name: name}
}

// Name returns the parameter name.
func (p *Param) Name() string { return p.name }

type paramRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type paramValue struct {
	Value string `json:"value"`
}

// Get fetches the parameter. The rosapi service returns the value as JSON
// text inside a string field; it is decoded before the callback runs.
func (p *Param) Get(cb func(value any, err error)) error {
	svc := p.ros.Service("/rosapi/get_param", "rosapi/GetParam")
	return svc.Call(paramRequest{Name: p.name}, func(values json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		var resp paramValue
		if err := json.Unmarshal(values, &resp); err != nil {
			cb(nil, fmt.Errorf("param %s: decode response: %w", p.name, err))
			return
		}

		var value any
		if err := json.Unmarshal([]byte(resp.Value), &value); err != nil {
			cb(nil, fmt.Errorf("param %s: decode value %q: %w", p.name, resp.Value, err))
			return
		}
		cb(value, nil)
	})
}

// GetWithTimeout behaves like Get but fails with ErrCallTimeout if the
// parameter server does not answer in time.
func (p *Param) GetWithTimeout(timeout time.Duration, cb func(value any, err error)) error {
	svc := p.ros.Service("/rosapi/get_param", "rosapi/GetParam")
	return svc.CallWithTimeout(paramRequest{Name: p.name}, timeout, func(values json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		var resp paramValue
		if err := json.Unmarshal(values, &resp); err != nil {
			cb(nil, fmt.Errorf("param %s: decode response: %w", p.name, err))
			return
		}

		var value any
		if err := json.Unmarshal([]byte(resp.Value), &value); err != nil {
			cb(nil, fmt.Errorf("param %s: decode value %q: %w", p.name, resp.Value, err))
			return
		}
		cb(value, nil)
	})
}

// Set stores a value for the parameter. The value is JSON-encoded into the
// request's string field; the service response is ignored.
func (p *Param) Set(value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("param %s: encode value: %w", p.name, err)
	}

	svc := p.ros.Service("/rosapi/set_param", "rosapi/SetParam")
	return svc.Call(paramRequest{Name: p.name, Value: string(encoded)}, func(json.RawMessage, error) {})
}
