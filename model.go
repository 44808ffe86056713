package recordx

import (
	"context"
	"time"

	"github.com/letmevibethatforyou/recordx/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetterFunc assigns value to a record attribute.
type SetterFunc func(r *Record, value any) error

// Model is the explicit per-type configuration of a mapped record type:
// its mapping, callbacks, validators and connection pool. Configure a Model
// once at startup, then share it.
type Model struct {
	name       string
	pool       *ConnectionPool
	mapping    *Mapping
	callbacks  *callbacks
	validators []Validator
	setters    map[string]SetterFunc
	tracer     trace.Tracer
}

// ModelOption configures a Model.
type ModelOption interface {
	apply(*Model)
}

// modelOptionFunc is a function that implements ModelOption.
type modelOptionFunc func(*Model)

func (f modelOptionFunc) apply(m *Model) {
	f(m)
}

// WithTracer sets the tracer used for persistence and query spans.
func WithTracer(t trace.Tracer) ModelOption {
	return modelOptionFunc(func(m *Model) {
		m.tracer = t
	})
}

// WithIndexName overrides the default index name.
func WithIndexName(name string, opts ...IndexOption) ModelOption {
	return modelOptionFunc(func(m *Model) {
		m.mapping.SetIndexName(name, opts...)
	})
}

// WithTypeName overrides the default type name.
func WithTypeName(name string) ModelOption {
	return modelOptionFunc(func(m *Model) {
		m.mapping.SetTypeName(name)
	})
}

// NewModel creates a model named name (for example "TestRecord") whose
// records are stored through pool.
func NewModel(name string, pool *ConnectionPool, opts ...ModelOption) *Model {
	m := &Model{
		name:      name,
		pool:      pool,
		mapping:   newMapping(name),
		callbacks: newCallbacks(),
		setters:   make(map[string]SetterFunc),
		tracer:    otel.Tracer("recordx"),
	}
	for _, opt := range opts {
		opt.apply(m)
	}
	return m
}

// Extend derives a model from m. Properties, typecasts, directives, hooks,
// validators and setters are copied; the pool is shared. Index and type
// names default from the new name.
func (m *Model) Extend(name string, opts ...ModelOption) *Model {
	setters := make(map[string]SetterFunc, len(m.setters))
	for k, v := range m.setters {
		setters[k] = v
	}
	child := &Model{
		name:       name,
		pool:       m.pool,
		mapping:    m.mapping.clone(name),
		callbacks:  m.callbacks.clone(),
		validators: append([]Validator(nil), m.validators...),
		setters:    setters,
		tracer:     m.tracer,
	}
	for _, opt := range opts {
		opt.apply(child)
	}
	return child
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.name
}

// Pool returns the connection pool.
func (m *Model) Pool() *ConnectionPool {
	return m.pool
}

// Mapping returns the model's mapping registry.
func (m *Model) Mapping() *Mapping {
	return m.mapping
}

// Property declares a property on the model's mapping.
func (m *Model) Property(name string, opts ...PropertyOption) Property {
	return m.mapping.Property(name, opts...)
}

// DefineSetter installs a custom setter for name. Mass assignment routes the
// key through it instead of the property setter.
func (m *Model) DefineSetter(name string, fn SetterFunc) {
	m.setters[name] = fn
}

// Validates appends validators.
func (m *Model) Validates(v ...Validator) {
	m.validators = append(m.validators, v...)
}

// Before registers a hook run before the given transition.
func (m *Model) Before(kind Callback, h Hook) {
	m.callbacks.before[kind] = append(m.callbacks.before[kind], h)
}

// After registers a hook run after the given transition succeeded.
func (m *Model) After(kind Callback, h Hook) {
	m.callbacks.after[kind] = append(m.callbacks.after[kind], h)
}

// AfterInitialize registers fn to run whenever a record is constructed.
func (m *Model) AfterInitialize(fn func(r *Record)) {
	m.callbacks.afterInit = append(m.callbacks.afterInit, fn)
}

func (m *Model) setter(name string) (SetterFunc, bool) {
	if fn, ok := m.setters[name]; ok {
		return fn, true
	}
	if _, ok := m.mapping.Lookup(name); ok {
		return m.propertySetter(name), true
	}
	return nil, false
}

// propertySetter typecasts non-nil values; nil is written as is.
func (m *Model) propertySetter(name string) SetterFunc {
	return func(r *Record, value any) error {
		if value != nil {
			cast, err := m.mapping.Typecast(name, value)
			if err != nil {
				return err
			}
			value = cast
		}
		r.WriteAttribute(name, value)
		return nil
	}
}

// assignmentOrder lists declared properties first, in declaration order,
// then the remaining keys sorted.
func (m *Model) assignmentOrder(attrs map[string]any) []string {
	out := make([]string, 0, len(attrs))
	seen := make(map[string]bool, len(attrs))
	for _, p := range m.mapping.Properties() {
		if _, ok := attrs[p.Name]; ok {
			out = append(out, p.Name)
			seen[p.Name] = true
		}
	}
	for _, k := range sortedKeys(attrs) {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// New builds a new, unsaved record from attrs.
func (m *Model) New(attrs map[string]any) (*Record, error) {
	r := newRecord(m)
	if err := r.SetAttributes(attrs); err != nil {
		return nil, err
	}
	m.callbacks.initialized(r)
	return r, nil
}

// InitWith hydrates a persisted record from store data. Keys with a leading
// underscore populate meta. No create hooks run and no attribute is marked
// changed.
func (m *Model) InitWith(attrs map[string]any) (*Record, error) {
	r := newRecord(m)
	if err := r.SetAttributes(attrs); err != nil {
		return nil, err
	}
	r.newRecord = false
	r.clearChanges()
	m.callbacks.initialized(r)
	return r, nil
}

// DefineMapping runs fn to declare the mapping and then updates the remote mapping.
func (m *Model) DefineMapping(ctx context.Context, fn func(*Mapping)) error {
	fn(m.mapping)
	return m.UpdateMapping(ctx)
}

// UpdateMapping creates the index with the current mapping when it does not
// exist, or puts the mapping for the model's type when it does. Calling it
// repeatedly is safe.
func (m *Model) UpdateMapping(ctx context.Context) (err error) {
	index := m.mapping.CurrentIndexName(nil)
	typeName := m.mapping.TypeName()

	ctx, span := m.startSpan(ctx, "recordx.update_mapping", index)
	defer func() { endSpan(span, err) }()

	return m.pool.WithIndex(ctx, index, func(ctx context.Context, idx Index) error {
		start := time.Now()
		def := m.mapping.Definition()

		exists, err := idx.Exists(ctx)
		if err != nil {
			metrics.ObserveStoreOp("index_exists", start, err)
			return err
		}
		if exists {
			err = idx.Type(typeName).PutMapping(ctx, def)
			metrics.ObserveStoreOp("put_mapping", start, err)
			return err
		}
		err = idx.Create(ctx, map[string]map[string]any{typeName: def})
		metrics.ObserveStoreOp("create_index", start, err)
		return err
	})
}

// DeleteIndex removes the model's current index.
func (m *Model) DeleteIndex(ctx context.Context) error {
	return m.pool.WithIndex(ctx, m.mapping.CurrentIndexName(nil), func(ctx context.Context, idx Index) error {
		start := time.Now()
		err := idx.Delete(ctx)
		metrics.ObserveStoreOp("delete_index", start, err)
		return err
	})
}

func (m *Model) startSpan(ctx context.Context, name, index string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("recordx.model", m.name),
			attribute.String("recordx.index", index),
			attribute.String("recordx.type", m.mapping.TypeName()),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
