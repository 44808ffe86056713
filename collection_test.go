package recordx_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/inmemory"
	"github.com/letmevibethatforyou/recordx/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyClient counts searches and records the criteria sent to the store.
type spyClient struct {
	recordx.Client
	spy *searchSpy
}

type searchSpy struct {
	calls atomic.Int32

	mu   sync.Mutex
	last recordx.Criteria
}

func (c spyClient) Index(name string) recordx.Index {
	return spyIndex{Index: c.Client.Index(name), spy: c.spy}
}

type spyIndex struct {
	recordx.Index
	spy *searchSpy
}

func (i spyIndex) Type(name string) recordx.Type {
	return spyType{Type: i.Index.Type(name), spy: i.spy}
}

type spyType struct {
	recordx.Type
	spy *searchSpy
}

func (t spyType) Search(ctx context.Context, criteria recordx.Criteria) (*recordx.SearchResponse, error) {
	t.spy.calls.Add(1)
	t.spy.mu.Lock()
	t.spy.last = criteria
	t.spy.mu.Unlock()
	return t.Type.Search(ctx, criteria)
}

func newSpyModel(t *testing.T, n int) (*recordx.Model, *searchSpy) {
	t.Helper()
	ctx := context.Background()
	store := inmemory.New()
	spy := &searchSpy{}

	pool := recordx.NewConnectionPool(func(ctx context.Context, url string) (recordx.Client, error) {
		c, err := store.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return spyClient{Client: c, spy: spy}, nil
	})
	t.Cleanup(func() { pool.Close(context.Background()) })

	m := recordx.NewModel("Article", pool)
	m.Property("title")
	m.Property("rank", recordx.StorageType(recordx.TypeInteger))
	m.Property("category")

	for i := 1; i <= n; i++ {
		category := "odd"
		if i%2 == 0 {
			category = "even"
		}
		_, err := m.Create(ctx, map[string]any{
			"_id":      fmt.Sprintf("a%02d", i),
			"title":    fmt.Sprintf("Article %d", i),
			"rank":     i,
			"category": category,
		})
		require.NoError(t, err)
	}
	return m, spy
}

func TestCollectionIsLazyAndRunsOnce(t *testing.T) {
	ctx := context.Background()
	m, spy := newSpyModel(t, 3)

	coll := m.Search(recordx.Criteria(query.Build(query.WithQuery(query.MatchAll()))))
	assert.Equal(t, int32(0), spy.calls.Load(), "building a collection does not search")

	records, err := coll.Results(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	total, err := coll.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	n, err := coll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = coll.Took(ctx)
	require.NoError(t, err)
	timedOut, err := coll.TimedOut(ctx)
	require.NoError(t, err)
	assert.False(t, timedOut)

	assert.Equal(t, int32(1), spy.calls.Load())
}

func TestCollectionConcurrentAccessorsRunOnce(t *testing.T) {
	ctx := context.Background()
	m, spy := newSpyModel(t, 2)
	coll := m.All(0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coll.Total(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), spy.calls.Load())
}

func TestCollectionMemoizesErrors(t *testing.T) {
	ctx := context.Background()
	m, spy := newSpyModel(t, 1)

	coll := m.Search(recordx.Criteria{"query": map[string]any{"bogus": map[string]any{}}})
	_, err := coll.Results(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, recordx.ErrInvalidCriteria), "got %v", err)

	_, err2 := coll.Total(ctx)
	assert.Equal(t, err, err2)
	assert.Equal(t, int32(1), spy.calls.Load())
}

func TestCollectionRetriesAfterCanceledContext(t *testing.T) {
	m, spy := newSpyModel(t, 2)
	coll := m.All(0)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := coll.Results(canceled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	records, err := coll.Results(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = coll.Total(canceled)
	require.NoError(t, err, "a loaded collection does not search again")
	assert.Equal(t, int32(2), spy.calls.Load())
}

func TestCollectionPagination(t *testing.T) {
	ctx := context.Background()
	m, spy := newSpyModel(t, 25)

	sorted := recordx.Criteria(query.Build(query.WithSort("rank", false), query.WithSize(100), query.WithFrom(50)))

	coll := m.Search(sorted)
	assert.Equal(t, 1, coll.Page())
	assert.Equal(t, recordx.DefaultPerPage, coll.PerPage())
	assert.Equal(t, 0, coll.From())

	coll.Paginate(map[string]any{"page": "2", "per_page": 10.0})
	assert.Equal(t, 2, coll.Page())
	assert.Equal(t, 10, coll.PerPage())
	assert.Equal(t, 10, coll.From())
	assert.Equal(t, 10, coll.Body()["size"], "pagination wins over caller size")
	assert.Equal(t, 10, coll.Body()["from"])
	assert.Equal(t, 100, coll.Criteria()["size"], "caller criteria are not modified")

	first, err := coll.At(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a11", first.ID())
	assert.Equal(t, int64(11), first.Get("rank"))

	n, err := coll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	total, err := coll.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)

	missing, err := coll.At(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, missing)

	spy.mu.Lock()
	assert.Equal(t, 10, spy.last["from"])
	spy.mu.Unlock()

	last := m.Search(sorted).Paginate(map[string]any{"page": 3, "perPage": "10"})
	records, err := last.Results(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestCollectionPageCoercion(t *testing.T) {
	m := recordx.NewModel("Article", nil)

	tests := []struct {
		name        string
		page        any
		perPage     any
		wantPage    int
		wantPerPage int
	}{
		{"strings", "3", "15", 3, 15},
		{"floats", 2.0, 5.0, 2, 5},
		{"garbage", "x", "y", 1, 0},
		{"below one", 0, -4, 1, 0},
		{"nil per page", nil, nil, 1, recordx.DefaultPerPage},
		{"leading zeros are decimal", "08", "010", 8, 10},
		{"surrounding spaces", "3 ", " 15", 3, 15},
		{"trailing junk", "4th", "12abc", 4, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := m.All(0).SetPage(tt.page).SetPerPage(tt.perPage)
			assert.Equal(t, tt.wantPage, coll.Page())
			assert.Equal(t, tt.wantPerPage, coll.PerPage())
		})
	}
}

func TestCountFirstAll(t *testing.T) {
	ctx := context.Background()
	m, spy := newSpyModel(t, 4)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	spy.mu.Lock()
	assert.Equal(t, 0, spy.last["size"], "count fetches no hits")
	spy.mu.Unlock()

	first, err := m.First(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.IsPersisted())

	all := m.All(3)
	assert.Equal(t, 3, all.PerPage())
	records, err := all.Results(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	empty := recordx.NewModel("Nothing", m.Pool())
	none, err := empty.First(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	n, err = empty.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCollectionHydratesHits(t *testing.T) {
	ctx := context.Background()
	m, _ := newSpyModel(t, 3)

	coll := m.Search(recordx.Criteria(query.Build(
		query.WithQuery(query.Match("title", "Article 2")),
		query.WithFilter(query.Eq("category", "even")),
	)))
	records, err := coll.Results(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "a02", r.ID())
	assert.Equal(t, int64(2), r.Get("rank"))
	assert.Greater(t, r.Score(), 0.0)
	assert.Empty(t, r.Changed())
	assert.False(t, r.IsNew())
}

func TestCollectionFacets(t *testing.T) {
	ctx := context.Background()
	m, _ := newSpyModel(t, 5)

	coll := m.Search(recordx.Criteria(query.Build(
		query.WithTermsFacet("categories", "category", 10),
	)))
	facets, err := coll.Facets(ctx)
	require.NoError(t, err)

	categories, ok := facets["categories"].(map[string]any)
	require.True(t, ok, "facets: %#v", facets)
	assert.Equal(t, "terms", categories["_type"])
	assert.Equal(t, 5, categories["total"])
	assert.Equal(t, []any{
		map[string]any{"term": "odd", "count": 3},
		map[string]any{"term": "even", "count": 2},
	}, categories["terms"])
}
