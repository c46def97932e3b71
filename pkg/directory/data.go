package directory

import (
	"encoding/json"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp is a placeholder value replaced with the store's clock on write.
var ServerTimestamp any = serverTimestamp{}

const sentinelKey = "__sentinel"

// MarshalJSON lets the placeholder cross the relay wire.
func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{sentinelKey: "serverTimestamp"})
}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Clone returns a deep copy of d. Nested maps and slices are copied, other values are shared.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Data:
		return t.Clone()
	case map[string]any:
		return Data(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ResolveServerTimestamps returns a copy of d with every ServerTimestamp
// placeholder replaced by now.
func (d Data) ResolveServerTimestamps(now time.Time) Data {
	return mapValues(d, func(v any) any {
		if IsServerTimestamp(v) {
			return now
		}
		return v
	})
}

// RestoreSentinels converts placeholders that were flattened to JSON back into
// their in-memory form.
func (d Data) RestoreSentinels() Data {
	return mapValues(d, func(v any) any {
		m, ok := v.(map[string]any)
		if !ok || len(m) != 1 {
			return v
		}
		if m[sentinelKey] == "serverTimestamp" {
			return ServerTimestamp
		}
		return v
	})
}

func mapValues(d Data, fn func(any) any) Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = mapValue(v, fn)
	}
	return out
}

func mapValue(v any, fn func(any) any) any {
	v = fn(v)
	switch t := v.(type) {
	case Data:
		return mapValues(t, fn)
	case map[string]any:
		return mapValues(Data(t), fn)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = mapValue(e, fn)
		}
		return out
	default:
		return v
	}
}

// Merge returns a copy of base with the top-level fields of patch applied.
func Merge(base, patch Data) Data {
	out := base.Clone()
	if out == nil {
		out = Data{}
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// Decode converts d into v through its JSON form.
func (d Data) Decode(v any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
