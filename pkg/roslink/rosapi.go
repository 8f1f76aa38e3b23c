package roslink

import (
	"encoding/json"
	"fmt"
)

// Introspection helpers over the rosapi services exposed by rosbridge.

type nameListResponse struct {
	Topics   []string `json:"topics"`
	Services []string `json:"services"`
	Names    []string `json:"names"`
}

// Topics fetches the names of all topics known to the server.
func (r *Ros) Topics(cb func(topics []string, err error)) error {
	svc := r.Service("/rosapi/topics", "rosapi/Topics")
	return svc.Call(nil, func(values json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		var resp nameListResponse
		if err := json.Unmarshal(values, &resp); err != nil {
			cb(nil, fmt.Errorf("rosapi topics: %w", err))
			return
		}
		cb(resp.Topics, nil)
	})
}

// Services fetches the names of all services known to the server.
func (r *Ros) Services(cb func(services []string, err error)) error {
	svc := r.Service("/rosapi/services", "rosapi/Services")
	return svc.Call(nil, func(values json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		var resp nameListResponse
		if err := json.Unmarshal(values, &resp); err != nil {
			cb(nil, fmt.Errorf("rosapi services: %w", err))
			return
		}
		cb(resp.Services, nil)
	})
}

// ParamNames fetches the names of all parameters in the remote store.
func (r *Ros) ParamNames(cb func(names []string, err error)) error {
	svc := r.Service("/rosapi/get_param_names", "rosapi/GetParamNames")
	return svc.Call(nil, func(values json.RawMessage, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		var resp nameListResponse
		if err := json.Unmarshal(values, &resp); err != nil {
			cb(nil, fmt.Errorf("rosapi param names: %w", err))
			return
		}
		cb(resp.Names, nil)
	})
}
