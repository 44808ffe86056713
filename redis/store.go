package redis

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/redis/rueidis"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	idKey   = "_id"
	typeKey = "_type"
)

// Index is a RediSearch index over the "{name}:" key prefix.
type Index struct {
	client *Client
	name   string
}

// Name implements recordx.Index.
func (i *Index) Name() string {
	return i.name
}

// Exists implements recordx.Index by probing FT.INFO.
func (i *Index) Exists(ctx context.Context) (ok bool, err error) {
	ctx, span := i.client.startSpan(ctx, "index_exists", i.name)
	defer func() { endSpan(span, err, "failed to check index") }()

	if err := checkName(i.name); err != nil {
		return false, err
	}
	cmd := i.client.b().Arbitrary("FT.INFO").Args(i.name).Build()
	if err := i.client.do(ctx, cmd).Error(); err != nil {
		if isUnknownIndex(err) {
			return false, nil
		}
		return false, wrapErr(err, "check index %s", i.name)
	}
	return true, nil
}

// Create implements recordx.Index with FT.CREATE. The schema is the union of
// the fields derived from every type mapping.
func (i *Index) Create(ctx context.Context, mappings map[string]map[string]any) (err error) {
	ctx, span := i.client.startSpan(ctx, "create_index", i.name)
	defer func() { endSpan(span, err, "failed to create index") }()

	if err := checkName(i.name); err != nil {
		return err
	}

	fields := []schemaField{{name: typeKey, kind: "TAG"}}
	seen := map[string]bool{typeKey: true}
	for _, typ := range sortedKeys(mappings) {
		for _, f := range schemaFields(mappings[typ]) {
			if !seen[f.name] {
				seen[f.name] = true
				fields = append(fields, f)
			}
		}
	}

	args := []string{i.name, "ON", "JSON", "PREFIX", "1", i.name + ":", "SCHEMA"}
	for _, f := range fields {
		args = append(args, f.args()...)
	}
	cmd := i.client.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := i.client.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return errors.Newf("index %s already exists", i.name)
		}
		return wrapErr(err, "create index %s", i.name)
	}
	return nil
}

// Delete implements recordx.Index. FT.DROPINDEX DD removes the documents
// together with the index.
func (i *Index) Delete(ctx context.Context) (err error) {
	ctx, span := i.client.startSpan(ctx, "delete_index", i.name)
	defer func() { endSpan(span, err, "failed to delete index") }()

	if err := checkName(i.name); err != nil {
		return err
	}
	cmd := i.client.b().Arbitrary("FT.DROPINDEX").Args(i.name, "DD").Build()
	if err := i.client.do(ctx, cmd).Error(); err != nil {
		if isUnknownIndex(err) {
			return errors.Wrapf(recordx.ErrNotFound, "index %s", i.name)
		}
		return wrapErr(err, "delete index %s", i.name)
	}
	return nil
}

// Type implements recordx.Index.
func (i *Index) Type(name string) recordx.Type {
	return &Type{index: i, name: name}
}

// Type is a document type within a RediSearch index.
type Type struct {
	index *Index
	name  string
}

func (t *Type) client() *Client {
	return t.index.client
}

func (t *Type) key(id string) string {
	return t.index.name + ":" + t.name + ":" + id
}

// Get implements recordx.Type with JSON.GET.
func (t *Type) Get(ctx context.Context, id string) (doc *recordx.Document, err error) {
	ctx, span := t.client().startSpan(ctx, "get", t.index.name, attribute.String("redis.id", id))
	defer func() { endSpan(span, err, "failed to get document") }()

	if err := checkName(t.index.name); err != nil {
		return nil, err
	}

	cmd := t.client().b().Arbitrary("JSON.GET").Keys(t.key(id)).Build()
	raw, err := t.client().do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", t.index.name, t.name, id)
		}
		return nil, wrapErr(err, "get %s", t.key(id))
	}
	if raw == "" {
		return nil, errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", t.index.name, t.name, id)
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(raw), &object); err != nil {
		return nil, errors.Wrapf(err, "decode %s", t.key(id))
	}
	source, meta := t.split(id, object)
	return &recordx.Document{Source: source, Meta: meta}, nil
}

// Put implements recordx.Type with JSON.SET on the document root.
func (t *Type) Put(ctx context.Context, id string, body map[string]any) (meta recordx.Meta, err error) {
	ctx, span := t.client().startSpan(ctx, "put", t.index.name, attribute.String("redis.id", id))
	defer func() { endSpan(span, err, "failed to put document") }()

	if id == "" {
		return nil, errors.New("put requires an id")
	}
	if err := checkName(t.index.name); err != nil {
		return nil, err
	}

	object := maps.Clone(body)
	if object == nil {
		object = map[string]any{}
	}
	object[idKey] = id
	object[typeKey] = t.name

	data, err := json.Marshal(object)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", t.key(id))
	}

	cmd := t.client().b().Arbitrary("JSON.SET").Keys(t.key(id)).Args("$", string(data)).Build()
	if err := t.client().do(ctx, cmd).Error(); err != nil {
		return nil, wrapErr(err, "put %s", t.key(id))
	}
	return recordx.Meta{
		recordx.MetaID:    id,
		recordx.MetaIndex: t.index.name,
		recordx.MetaType:  t.name,
	}, nil
}

// Post implements recordx.Type with a KSUID identifier.
func (t *Type) Post(ctx context.Context, body map[string]any) (recordx.Meta, error) {
	return t.Put(ctx, ksuid.New().String(), body)
}

// Delete implements recordx.Type with DEL.
func (t *Type) Delete(ctx context.Context, id string) (err error) {
	ctx, span := t.client().startSpan(ctx, "delete", t.index.name, attribute.String("redis.id", id))
	defer func() { endSpan(span, err, "failed to delete document") }()

	if err := checkName(t.index.name); err != nil {
		return err
	}

	cmd := t.client().b().Del().Key(t.key(id)).Build()
	n, err := t.client().do(ctx, cmd).AsInt64()
	if err != nil {
		return wrapErr(err, "delete %s", t.key(id))
	}
	if n == 0 {
		return errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", t.index.name, t.name, id)
	}
	return nil
}

// PutMapping implements recordx.Type by adding the mapping's fields to the
// index schema with FT.ALTER. Fields already in the schema are left alone.
func (t *Type) PutMapping(ctx context.Context, mapping map[string]any) (err error) {
	ctx, span := t.client().startSpan(ctx, "put_mapping", t.index.name)
	defer func() { endSpan(span, err, "failed to put mapping") }()

	if err := checkName(t.index.name); err != nil {
		return err
	}

	for _, f := range schemaFields(mapping) {
		args := append([]string{t.index.name, "SCHEMA", "ADD"}, f.args()...)
		cmd := t.client().b().Arbitrary("FT.ALTER").Args(args...).Build()
		if err := t.client().do(ctx, cmd).Error(); err != nil {
			switch {
			case isRedisErr(err, "duplicate"):
				continue
			case isUnknownIndex(err):
				return errors.Wrapf(recordx.ErrNotFound, "index %s", t.index.name)
			default:
				return wrapErr(err, "alter index %s", t.index.name)
			}
		}
	}
	return nil
}

// split separates a stored object into the document body and meta.
func (t *Type) split(id string, object map[string]any) (map[string]any, recordx.Meta) {
	source := make(map[string]any, len(object))
	for k, v := range object {
		if k == idKey || k == typeKey {
			continue
		}
		source[k] = v
	}
	if stored, ok := object[idKey].(string); ok && stored != "" {
		id = stored
	}
	return source, recordx.Meta{
		recordx.MetaID:    id,
		recordx.MetaIndex: t.index.name,
		recordx.MetaType:  t.name,
	}
}

// schemaField is one attribute of a RediSearch schema.
type schemaField struct {
	name     string
	kind     string
	sortable bool
}

func (f schemaField) args() []string {
	args := []string{"$." + f.name, "AS", f.name, f.kind}
	if f.sortable {
		args = append(args, "SORTABLE")
	}
	return args
}

// schemaFields derives RediSearch fields from a mapping's properties.
// Non-analyzed strings, booleans and dates are TAG fields; dates are stored
// as RFC 3339 strings and sort lexically. Properties with "index": "no"
// are not indexed.
func schemaFields(mapping map[string]any) []schemaField {
	props, _ := mapping["properties"].(map[string]any)
	var out []schemaField
	for _, name := range sortedKeys(props) {
		desc, _ := props[name].(map[string]any)
		if desc["index"] == "no" || strings.ContainsAny(name, ". ") {
			continue
		}
		switch desc["type"] {
		case recordx.TypeString:
			if desc["index"] == "not_analyzed" {
				out = append(out, schemaField{name: name, kind: "TAG", sortable: true})
			} else {
				out = append(out, schemaField{name: name, kind: "TEXT", sortable: true})
			}
		case recordx.TypeInteger, recordx.TypeLong, recordx.TypeFloat, recordx.TypeDouble:
			out = append(out, schemaField{name: name, kind: "NUMERIC", sortable: true})
		case recordx.TypeDate:
			out = append(out, schemaField{name: name, kind: "TAG", sortable: true})
		case recordx.TypeBoolean:
			out = append(out, schemaField{name: name, kind: "TAG"})
		}
	}
	return out
}

func isUnknownIndex(err error) bool {
	return isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
