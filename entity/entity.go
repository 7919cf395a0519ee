// Package entity holds the opaque wiki record type shared by the backend,
// the HTTP client and the editor controller.
package entity

import (
	"fmt"
	"strconv"
)

// NewMarker flags a record that only exists client-side. It is never sent
// to or stored by the server.
const NewMarker = "isNew"

// Entity is a wiki record. Only the identifier field has meaning to the
// system; every other attribute is passed through verbatim.
type Entity map[string]any

// Key returns the string form of the identifier stored under idField, or ""
// when it is missing. Numeric ids are formatted without an exponent so that
// 7 and "7" compare equal.
func (e Entity) Key(idField string) string {
	return Stringify(e[idField])
}

// String returns the field as a string, formatting non-string values.
func (e Entity) String(field string) string {
	return Stringify(e[field])
}

// IsNew reports whether the record carries the client-side new marker.
func (e Entity) IsNew() bool {
	v, _ := e[NewMarker].(bool)
	return v
}

// Without returns a shallow copy of e with the given keys removed.
func (e Entity) Without(keys ...string) Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Clone returns a deep copy of e. Nested maps and slices decoded from JSON
// are copied; other values are shared.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a deep copy of base with every field of overlay applied.
func Merge(base, overlay Entity) Entity {
	out := base.Clone()
	if out == nil {
		out = make(Entity, len(overlay))
	}
	for k, v := range overlay {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Entity:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Stringify formats a decoded JSON value the way ids and sort keys are
// compared.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
