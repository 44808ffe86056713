package recordx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
)

// Record is an instance of a Model. It owns its attributes, its store
// metadata and its change-tracking state. A Record is not safe for
// concurrent mutation.
type Record struct {
	model *Model

	attrs *Attributes
	meta  Meta

	newRecord bool
	destroyed bool

	changed      map[string]any
	changedOrder []string

	errors *Errors
}

func newRecord(m *Model) *Record {
	return &Record{
		model:     m,
		attrs:     NewAttributes(),
		meta:      make(Meta),
		newRecord: true,
		changed:   make(map[string]any),
		errors:    newErrors(),
	}
}

// Model returns the record's model.
func (r *Record) Model() *Model {
	return r.model
}

// Attributes returns the attribute map. Callers must not modify it.
func (r *Record) Attributes() *Attributes {
	return r.attrs
}

// Meta returns the store-managed fields. Callers must not modify it.
func (r *Record) Meta() Meta {
	return r.meta
}

// ReadAttribute returns the raw value stored under name.
func (r *Record) ReadAttribute(name string) (any, bool) {
	return r.attrs.Get(name)
}

// WriteAttribute stores value under name without typecasting. Names with a
// leading underscore go to the meta map and are never dirty-tracked.
// Otherwise name is marked changed unless value equals the current value.
func (r *Record) WriteAttribute(name string, value any) {
	if strings.HasPrefix(name, "_") {
		r.meta[name] = value
		return
	}

	current, _ := r.attrs.Get(name)
	if !valuesEqual(current, value) {
		r.attributeWillChange(name, current)
	}
	r.attrs.Set(name, value)
}

func (r *Record) attributeWillChange(name string, original any) {
	if _, ok := r.changed[name]; ok {
		return
	}
	r.changed[name] = original
	r.changedOrder = append(r.changedOrder, name)
}

// Get returns the value of name, or nil when it is unset.
func (r *Record) Get(name string) any {
	v, _ := r.attrs.Get(name)
	return v
}

// Set assigns value to name through the model's setter for it: a custom
// setter, the typecasting setter of a declared property, or WriteAttribute.
func (r *Record) Set(name string, value any) error {
	if setter, ok := r.model.setter(name); ok {
		return setter(r, value)
	}
	r.WriteAttribute(name, value)
	return nil
}

// Present reports whether name holds a value other than nil or false.
func (r *Record) Present(name string) bool {
	v, _ := r.attrs.Get(name)
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// SetAttributes mass-assigns attrs through Set. Declared properties are
// assigned in declaration order, other keys in sorted order.
func (r *Record) SetAttributes(attrs map[string]any) error {
	for _, name := range r.model.assignmentOrder(attrs) {
		if err := r.Set(name, attrs[name]); err != nil {
			return errors.Wrapf(err, "assign %s", name)
		}
	}
	return nil
}

// ID returns the store identifier, or "" when none is assigned.
func (r *Record) ID() string {
	v, ok := r.meta[MetaID]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// Version returns the store version, or 0.
func (r *Record) Version() int64 {
	return cast.ToInt64(r.meta[MetaVersion])
}

// Score returns the relevance score of a search hit, or 0.
func (r *Record) Score() float64 {
	return cast.ToFloat64(r.meta[MetaScore])
}

// Timestamp returns the store timestamp, or the zero time.
func (r *Record) Timestamp() time.Time {
	switch v := r.meta[MetaTimestamp].(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v
	case int64, int, float64:
		return time.UnixMilli(cast.ToInt64(v)).UTC()
	default:
		t, err := castDate(v)
		if err != nil {
			return time.Time{}
		}
		if tt, ok := t.(time.Time); ok {
			return tt
		}
		return time.Time{}
	}
}

// CreatedAt is an alias for Timestamp.
func (r *Record) CreatedAt() time.Time {
	return r.Timestamp()
}

// IsNew reports whether the record has never been persisted.
func (r *Record) IsNew() bool {
	return r.newRecord
}

// IsDestroyed reports whether the record was removed from the store.
func (r *Record) IsDestroyed() bool {
	return r.destroyed
}

// IsPersisted reports whether the record is stored and not destroyed.
func (r *Record) IsPersisted() bool {
	return !r.newRecord && !r.destroyed
}

// Changed returns the names of attributes changed since the last persist.
func (r *Record) Changed() []string {
	out := make([]string, len(r.changedOrder))
	copy(out, r.changedOrder)
	return out
}

// ChangedAttributes maps each changed attribute to its value before the
// first change.
func (r *Record) ChangedAttributes() map[string]any {
	out := make(map[string]any, len(r.changed))
	for k, v := range r.changed {
		out[k] = v
	}
	return out
}

// HasChanged reports whether name changed since the last persist.
func (r *Record) HasChanged(name string) bool {
	_, ok := r.changed[name]
	return ok
}

func (r *Record) clearChanges() {
	r.changed = make(map[string]any)
	r.changedOrder = nil
}

// Errors returns the messages from the last validation.
func (r *Record) Errors() *Errors {
	return r.errors
}

// Valid runs validation hooks and validators and reports whether no errors
// were recorded.
func (r *Record) Valid(ctx context.Context) (bool, error) {
	r.errors = newErrors()
	err := r.model.callbacks.run(ctx, CallbackValidation, r, func() error {
		for _, v := range r.model.validators {
			v.Validate(ctx, r, r.errors)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return r.errors.Empty(), nil
}

// Equal reports whether other belongs to the same model and has equal
// attributes.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.model == other.model && r.attrs.Equal(other.attrs)
}

// String renders the record as Model{key: value, ...}.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteString(r.model.name)
	b.WriteByte('{')
	first := true
	r.attrs.Each(func(k string, v any) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		if s, ok := v.(string); ok {
			fmt.Fprintf(&b, "%s: %q", k, s)
		} else {
			fmt.Fprintf(&b, "%s: %v", k, v)
		}
	})
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the attributes only.
func (r *Record) MarshalJSON() ([]byte, error) {
	return r.attrs.MarshalJSON()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
