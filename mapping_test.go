package recordx_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingNames(t *testing.T) {
	pool := recordx.NewConnectionPool(inmemory.New().Dial)

	tests := []struct {
		model     string
		opts      []recordx.ModelOption
		wantIndex string
		wantType  string
	}{
		{"TestRecord", nil, "test_records", "test_record"},
		{"Person", nil, "people", "person"},
		{"BlogPost", []recordx.ModelOption{recordx.WithIndexName("articles")}, "articles", "blog_post"},
		{"Post", []recordx.ModelOption{recordx.WithTypeName("entry")}, "posts", "entry"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			m := recordx.NewModel(tt.model, pool, tt.opts...)
			assert.Equal(t, tt.wantIndex, m.Mapping().IndexName())
			assert.Equal(t, tt.wantType, m.Mapping().TypeName())
		})
	}
}

func TestMappingWildcardIndex(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	pool := recordx.NewConnectionPool(store.Dial)

	events := recordx.NewModel("Event", pool, recordx.WithIndexName("events-*", recordx.Wildcard(func(r *recordx.Record) string {
		if r == nil {
			return "*"
		}
		day, _ := r.Get("day").(string)
		return day
	})))

	assert.Equal(t, "events-*", events.Mapping().IndexName())
	assert.Equal(t, "events-*", events.Mapping().CurrentIndexName(nil))

	_, err := events.Create(ctx, map[string]any{"day": "2024-01-01", "name": "a"})
	require.NoError(t, err)
	_, err = events.Create(ctx, map[string]any{"day": "2024-01-02", "name": "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Size("events-2024-01-01", "event"))
	assert.Equal(t, 1, store.Size("events-2024-01-02", "event"))

	n, err := events.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "searches span every concrete index")
}

func TestMappingProperties(t *testing.T) {
	m := recordx.NewModel("Post", nil)

	p := m.Property("subject")
	assert.Equal(t, recordx.TypeString, p.Type)
	assert.Equal(t, map[string]any{"type": "string", "index": "not_analyzed"}, p.Descriptor())

	m.Property("body", recordx.IndexMode("analyzed"), recordx.Analyzer("english"))
	m.Property("views", recordx.StorageType(recordx.TypeInteger), recordx.PropertyOpt("index", nil))
	m.Mapping().SetDynamic("strict")
	m.Mapping().SetTimestampField(map[string]any{"enabled": true})

	names := []string{}
	for _, p := range m.Mapping().Properties() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"subject", "body", "views"}, names)

	def := m.Mapping().Definition()
	assert.Equal(t, "strict", def["dynamic"])
	assert.Equal(t, map[string]any{"enabled": true}, def["_timestamp"])

	props := def["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string", "index": "analyzed", "analyzer": "english"}, props["body"])
	assert.Equal(t, map[string]any{"type": "integer"}, props["views"])

	// Redeclaring replaces the descriptor but keeps the declaration order.
	m.Property("subject", recordx.IndexMode("analyzed"))
	got, ok := m.Mapping().Lookup("subject")
	require.True(t, ok)
	assert.Equal(t, "analyzed", got.Options["index"])
	assert.Equal(t, "subject", m.Mapping().Properties()[0].Name)
}

func TestMappingCustomTypecast(t *testing.T) {
	m := recordx.NewModel("Post", nil)
	m.Mapping().RegisterType("upper", func(v any) (any, error) {
		s, _ := v.(string)
		return strings.ToUpper(s), nil
	})
	m.Property("code", recordx.StorageType("upper"))
	m.Property("label", recordx.StorageType("unregistered"))

	r, err := m.New(map[string]any{"code": "abc", "label": 42})
	require.NoError(t, err)
	assert.Equal(t, "ABC", r.Get("code"))
	assert.Equal(t, 42, r.Get("label"), "unregistered tags use the identity cast")
}

func TestModelExtend(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	pool := recordx.NewConnectionPool(store.Dial)

	base := recordx.NewModel("Post", pool)
	base.Property("published_at", recordx.StorageType(recordx.TypeDate))
	base.Validates(recordx.PresenceOf("subject"))

	var calls []string
	base.Before(recordx.CallbackSave, func(ctx context.Context, r *recordx.Record) error {
		calls = append(calls, "base-before-save")
		return nil
	})

	draft := base.Extend("DraftPost")
	draft.Property("editor")

	assert.Equal(t, "draft_posts", draft.Mapping().IndexName())
	_, ok := base.Mapping().Lookup("editor")
	assert.False(t, ok, "child declarations do not leak into the parent")

	r, err := draft.Create(ctx, map[string]any{"subject": "x", "published_at": "2024-03-01"})
	require.NoError(t, err)
	assert.True(t, r.IsPersisted())
	assert.IsType(t, time.Time{}, r.Get("published_at"))
	assert.Equal(t, []string{"base-before-save"}, calls)
	assert.Equal(t, 1, store.Size("draft_posts", "draft_post"))

	invalid, err := draft.Create(ctx, map[string]any{"editor": "ann"})
	require.NoError(t, err)
	assert.False(t, invalid.IsPersisted(), "validators are inherited")
}

func TestDefineMapping(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	pool := recordx.NewConnectionPool(store.Dial)
	posts := recordx.NewModel("Post", pool)

	define := func(m *recordx.Mapping) {
		m.Property("views", recordx.StorageType(recordx.TypeInteger))
	}
	require.NoError(t, posts.DefineMapping(ctx, define))

	mapping, ok := store.Mapping("posts", "post")
	require.True(t, ok)
	props := mapping["properties"].(map[string]any)
	assert.Contains(t, props, "views")

	// A second call puts the mapping on the existing index.
	require.NoError(t, posts.DefineMapping(ctx, func(m *recordx.Mapping) {
		m.Property("subject")
	}))
	mapping, _ = store.Mapping("posts", "post")
	assert.Contains(t, mapping["properties"].(map[string]any), "subject")

	require.NoError(t, posts.DeleteIndex(ctx))
	assert.Empty(t, store.Indices())
	assert.Error(t, posts.DeleteIndex(ctx))
}
