package recordx

// Attr is a typed accessor for a declared property. Reads and writes go
// through the record's attribute map, so typed and untyped access agree.
type Attr[T any] struct {
	name string
}

// Define declares a property on m and returns its typed accessor.
// T should match what the property's typecast produces, for example
// time.Time for StorageType(TypeDate) or int64 for TypeInteger.
func Define[T any](m *Model, name string, opts ...PropertyOption) Attr[T] {
	m.Property(name, opts...)
	return Attr[T]{name: name}
}

// Name returns the property name.
func (a Attr[T]) Name() string {
	return a.name
}

// Get returns the value and whether it is set and of type T.
func (a Attr[T]) Get(r *Record) (T, bool) {
	var zero T
	v, ok := r.ReadAttribute(a.name)
	if !ok || v == nil {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Set assigns v through the property setter, applying the typecast.
func (a Attr[T]) Set(r *Record, v T) error {
	return r.Set(a.name, v)
}

// Present reports whether the attribute holds a value other than nil or false.
func (a Attr[T]) Present(r *Record) bool {
	return r.Present(a.name)
}
