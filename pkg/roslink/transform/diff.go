package transform

import (
	"context"

	"github.com/tsarna/go-structdiff"
)

// DiffTransform is a SimpleMessageTransformFunc that replaces old/new
// payload pairs with their structural difference. A map payload with
// exactly the keys "old" and "new" is replaced by the diff itself; a map
// with extra keys keeps them and gains a "delta" key instead. Anything
// else passes through unchanged.
//
// Useful on state topics where the full message repeats mostly unchanged
// fields and only the delta is interesting.
func DiffTransform(ctx context.Context, payload any, fields map[string]string) any {
	payloadMap, ok := payload.(map[string]any)
	if !ok {
		return payload
	}

	oldValue, hasOld := payloadMap["old"]
	newValue, hasNew := payloadMap["new"]
	if !hasOld || !hasNew {
		return payload
	}

	diff, err := structdiff.Diff(oldValue, newValue)
	if err != nil {
		return payload
	}

	if len(payloadMap) == 2 {
		return diff
	}

	out := make(map[string]any, len(payloadMap)-1)
	for key, value := range payloadMap {
		if key != "old" && key != "new" {
			out[key] = value
		}
	}
	out["delta"] = diff
	return out
}
