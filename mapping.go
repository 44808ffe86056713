package recordx

import (
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

// Property describes a declared attribute and how the store indexes it.
type Property struct {
	// Name is the attribute name.
	Name string

	// Type is the storage type tag, also used to pick the typecast.
	Type string

	// Options holds additional mapping options such as "index" or "analyzer".
	Options map[string]any
}

// Descriptor returns the property's entry in the store mapping.
func (p Property) Descriptor() map[string]any {
	d := make(map[string]any, len(p.Options)+1)
	for k, v := range p.Options {
		d[k] = v
	}
	d["type"] = p.Type
	return d
}

// PropertyOption configures a property declaration.
type PropertyOption func(*Property)

// StorageType sets the property's storage type tag.
func StorageType(tag string) PropertyOption {
	return func(p *Property) {
		p.Type = tag
	}
}

// IndexMode sets the "index" mapping option ("analyzed", "not_analyzed", "no").
func IndexMode(mode string) PropertyOption {
	return PropertyOpt("index", mode)
}

// Analyzer sets the analyzer used for the property.
func Analyzer(name string) PropertyOption {
	return PropertyOpt("analyzer", name)
}

// PropertyOpt sets an arbitrary mapping option on the property.
func PropertyOpt(key string, value any) PropertyOption {
	return func(p *Property) {
		if value == nil {
			delete(p.Options, key)
			return
		}
		p.Options[key] = value
	}
}

// IndexOption configures an explicit index name.
type IndexOption func(*Mapping)

// Wildcard sets the function substituted for "*" in the index name. It is
// called with the record being written, or nil for model-level operations.
func Wildcard(fn func(r *Record) string) IndexOption {
	return func(m *Mapping) {
		m.wildcard = fn
	}
}

// Mapping-level directive keys.
const (
	DirectiveDynamic   = "dynamic"
	DirectiveID        = "_id"
	DirectiveSize      = "_size"
	DirectiveTimestamp = "_timestamp"
	DirectiveTTL       = "_ttl"
)

// Mapping holds the per-model property declarations, typecasts and
// index/type naming. It is built once at startup and is safe for concurrent
// reads.
type Mapping struct {
	mu sync.RWMutex

	modelName  string
	order      []string
	properties map[string]*Property
	types      map[string]TypecastFunc
	directives map[string]any

	indexName string
	wildcard  func(*Record) string
	typeName  string
}

func newMapping(modelName string) *Mapping {
	return &Mapping{
		modelName:  modelName,
		properties: make(map[string]*Property),
		types:      builtinTypes(),
		directives: make(map[string]any),
	}
}

// Property declares or redeclares a property. The default descriptor is an
// unanalyzed string.
func (m *Mapping) Property(name string, opts ...PropertyOption) Property {
	p := &Property{
		Name:    name,
		Type:    TypeString,
		Options: map[string]any{"index": "not_analyzed"},
	}
	for _, opt := range opts {
		opt(p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.properties[name]; !exists {
		m.order = append(m.order, name)
	}
	m.properties[name] = p
	return *p
}

// Lookup returns the declared property with the given name.
func (m *Mapping) Lookup(name string) (Property, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[name]
	if !ok {
		return Property{}, false
	}
	return *p, true
}

// Properties returns the declared properties in declaration order.
func (m *Mapping) Properties() []Property {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Property, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.properties[name])
	}
	return out
}

// RegisterType registers the typecast for a storage type tag, replacing any
// previous registration.
func (m *Mapping) RegisterType(tag string, fn TypecastFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[tag] = fn
}

// Typecast converts value according to the named property's storage type.
// Undeclared properties and unregistered tags use the identity cast.
func (m *Mapping) Typecast(name string, value any) (any, error) {
	m.mu.RLock()
	fn := TypecastFunc(identity)
	if p, ok := m.properties[name]; ok {
		if registered, ok := m.types[p.Type]; ok {
			fn = registered
		}
	}
	m.mu.RUnlock()
	return fn(value)
}

// SetDynamic sets the "dynamic" mapping directive.
func (m *Mapping) SetDynamic(value any) { m.setDirective(DirectiveDynamic, value) }

// SetIDField sets the "_id" mapping directive.
func (m *Mapping) SetIDField(value any) { m.setDirective(DirectiveID, value) }

// SetSizeField sets the "_size" mapping directive.
func (m *Mapping) SetSizeField(value any) { m.setDirective(DirectiveSize, value) }

// SetTimestampField sets the "_timestamp" mapping directive.
func (m *Mapping) SetTimestampField(value any) { m.setDirective(DirectiveTimestamp, value) }

// SetTTLField sets the "_ttl" mapping directive.
func (m *Mapping) SetTTLField(value any) { m.setDirective(DirectiveTTL, value) }

func (m *Mapping) setDirective(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directives[key] = value
}

// Definition returns the store mapping document:
// {"properties": {...}} plus any directives.
func (m *Mapping) Definition() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	props := make(map[string]any, len(m.properties))
	for name, p := range m.properties {
		props[name] = p.Descriptor()
	}
	def := map[string]any{"properties": props}
	for k, v := range m.directives {
		def[k] = v
	}
	return def
}

// IndexName returns the index name, defaulting to the snake-cased plural of
// the model name. The name may contain a "*" wildcard.
func (m *Mapping) IndexName() string {
	m.mu.RLock()
	name := m.indexName
	m.mu.RUnlock()
	if name != "" {
		return name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexName == "" {
		m.indexName = inflection.Plural(strcase.ToSnake(m.modelName))
	}
	return m.indexName
}

// SetIndexName overrides the index name. Without a Wildcard option any
// previously configured wildcard is kept.
func (m *Mapping) SetIndexName(name string, opts ...IndexOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexName = name
	for _, opt := range opts {
		opt(m)
	}
}

// CurrentIndexName returns the concrete index for r, substituting the
// wildcard function's result for "*". r may be nil.
func (m *Mapping) CurrentIndexName(r *Record) string {
	name := m.IndexName()
	m.mu.RLock()
	wildcard := m.wildcard
	m.mu.RUnlock()
	if wildcard == nil {
		return name
	}
	return strings.Replace(name, "*", wildcard(r), 1)
}

// TypeName returns the type name, defaulting to the snake-cased singular of
// the model name.
func (m *Mapping) TypeName() string {
	m.mu.RLock()
	name := m.typeName
	m.mu.RUnlock()
	if name != "" {
		return name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.typeName == "" {
		m.typeName = inflection.Singular(strcase.ToSnake(m.modelName))
	}
	return m.typeName
}

// SetTypeName overrides the type name.
func (m *Mapping) SetTypeName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typeName = name
}

// clone copies declarations and typecasts for a derived model. Index and
// type names are not inherited; they default from the new model name.
func (m *Mapping) clone(modelName string) *Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := newMapping(modelName)
	c.order = append(c.order, m.order...)
	for name, p := range m.properties {
		opts := make(map[string]any, len(p.Options))
		for k, v := range p.Options {
			opts[k] = v
		}
		c.properties[name] = &Property{Name: p.Name, Type: p.Type, Options: opts}
	}
	for tag, fn := range m.types {
		c.types[tag] = fn
	}
	for k, v := range m.directives {
		c.directives[k] = v
	}
	return c
}
