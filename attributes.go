package recordx

import (
	"reflect"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Attributes is an insertion-ordered attribute map. Overwriting a key keeps
// its position.
type Attributes struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewAttributes returns an empty attribute map.
func NewAttributes() *Attributes {
	return &Attributes{m: orderedmap.New[string, any]()}
}

// Get returns the value stored under key.
func (a *Attributes) Get(key string) (any, bool) {
	return a.m.Get(key)
}

// Set stores value under key, appending key if it is new.
func (a *Attributes) Set(key string, value any) {
	a.m.Set(key, value)
}

// Delete removes key.
func (a *Attributes) Delete(key string) {
	a.m.Delete(key)
}

// Keys returns the keys in insertion order.
func (a *Attributes) Keys() []string {
	out := make([]string, 0, a.m.Len())
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	return a.m.Len()
}

// Each calls fn for every attribute in insertion order.
func (a *Attributes) Each(fn func(key string, value any)) {
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Map returns a shallow copy as a plain map.
func (a *Attributes) Map() map[string]any {
	out := make(map[string]any, a.m.Len())
	a.Each(func(k string, v any) {
		out[k] = v
	})
	return out
}

// Equal reports whether both maps hold equal values under the same keys.
// Key order is not significant.
func (a *Attributes) Equal(b *Attributes) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.m.Len() != b.m.Len() {
		return false
	}
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		other, ok := b.m.Get(pair.Key)
		if !ok || !valuesEqual(pair.Value, other) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the attributes as an object in insertion order.
func (a *Attributes) MarshalJSON() ([]byte, error) {
	return a.m.MarshalJSON()
}

// valuesEqual compares by value. Times compare by instant.
func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
