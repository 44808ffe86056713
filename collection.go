package recordx

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx/internal/metrics"
	"github.com/spf13/cast"
)

// DefaultPerPage is the page size of a collection without an explicit one.
const DefaultPerPage = 20

// Response is the materialized result of a collection's search.
type Response struct {
	// Records contains the hydrated hits in result order.
	Records []*Record

	// Total is the total number of matching documents.
	Total int64

	// Facets contains facet results keyed by facet name.
	Facets map[string]any

	// Took is the time taken to execute the search in milliseconds.
	Took int64

	// TimedOut reports whether the store gave up before completing the search.
	TimedOut bool
}

// Collection is a lazy, paginated search over a model's index. The search
// runs on the first result accessor and at most once; later accessors reuse
// the memoized response or error, except errors from a canceled or expired
// caller context. Pagination must be set before the first result accessor.
type Collection struct {
	model    *Model
	criteria Criteria
	page     int
	perPage  int

	mu       sync.Mutex
	loaded   bool
	response *Response
	err      error
}

func newCollection(m *Model, criteria Criteria) *Collection {
	return &Collection{
		model:    m,
		criteria: criteria,
		page:     1,
		perPage:  DefaultPerPage,
	}
}

// Criteria returns the caller's search criteria, without pagination.
func (c *Collection) Criteria() Criteria {
	return c.criteria
}

// Page returns the current page, starting at 1.
func (c *Collection) Page() int {
	return c.page
}

// PerPage returns the page size.
func (c *Collection) PerPage() int {
	return c.perPage
}

// SetPage sets the page from any integer-like value ("3", 3.0, 3).
// Values that do not coerce, and values below 1, become 1.
func (c *Collection) SetPage(v any) *Collection {
	page := toInt(v)
	if page < 1 {
		page = 1
	}
	c.page = page
	return c
}

// SetPerPage sets the page size from any integer-like value. Negative values
// become 0. A nil value restores the default.
func (c *Collection) SetPerPage(v any) *Collection {
	if v == nil {
		c.perPage = DefaultPerPage
		return c
	}
	perPage := toInt(v)
	if perPage < 0 {
		perPage = 0
	}
	c.perPage = perPage
	return c
}

// toInt coerces v to an int. Strings are read as decimal from their leading
// digits after trimming spaces, so "08" is 8 and "3 " is 3; anything else
// goes through cast. Values that do not coerce are 0.
func toInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return cast.ToInt(v)
	}
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Paginate applies "page" and "per_page" (or "perPage") from params.
func (c *Collection) Paginate(params map[string]any) *Collection {
	if v, ok := params["page"]; ok {
		c.SetPage(v)
	}
	if v, ok := params["per_page"]; ok {
		c.SetPerPage(v)
	} else if v, ok := params["perPage"]; ok {
		c.SetPerPage(v)
	}
	return c
}

// From returns the offset of the first hit of the current page.
func (c *Collection) From() int {
	if c.page > 1 {
		return (c.page - 1) * c.perPage
	}
	return 0
}

// Body returns the criteria sent to the store: the caller's criteria with
// size and from taken from the pagination state.
func (c *Collection) Body() Criteria {
	return c.criteria.Merge(Criteria{
		"size": c.perPage,
		"from": c.From(),
	})
}

// Load executes the search if it has not run yet and returns the response.
// A failure caused by ctx ending is returned but not memoized, so a later
// call with a live context runs the search.
func (c *Collection) Load(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.response, c.err
	}

	resp, err := c.execute(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	c.response, c.err, c.loaded = resp, err, true
	return resp, err
}

func (c *Collection) execute(ctx context.Context) (resp *Response, err error) {
	m := c.model
	index := m.mapping.IndexName()

	ctx, span := m.startSpan(ctx, "recordx.search", index)
	defer func() { endSpan(span, err) }()

	var raw *SearchResponse
	err = m.pool.WithType(ctx, index, m.mapping.TypeName(), func(ctx context.Context, t Type) error {
		start := time.Now()
		var err error
		raw, err = t.Search(ctx, c.Body())
		metrics.ObserveStoreOp("search", start, err)
		return err
	})
	if err != nil {
		return nil, err
	}

	resp = &Response{
		Records:  make([]*Record, 0, len(raw.Hits)),
		Total:    raw.Total,
		Facets:   raw.Facets,
		Took:     raw.Took,
		TimedOut: raw.TimedOut,
	}
	for _, hit := range raw.Hits {
		r, err := m.hydrate(hit.Source, hit.Meta)
		if err != nil {
			return nil, errors.Wrapf(err, "hydrate hit %v", hit.Meta[MetaID])
		}
		resp.Records = append(resp.Records, r)
	}
	return resp, nil
}

// Results returns the records of the current page.
func (c *Collection) Results(ctx context.Context) ([]*Record, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Total returns the total number of matching documents.
func (c *Collection) Total(ctx context.Context) (int64, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// Facets returns the facet results.
func (c *Collection) Facets(ctx context.Context) (map[string]any, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Facets, nil
}

// Took returns the store-reported search duration in milliseconds.
func (c *Collection) Took(ctx context.Context) (int64, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return 0, err
	}
	return resp.Took, nil
}

// TimedOut reports whether the store timed out.
func (c *Collection) TimedOut(ctx context.Context) (bool, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return false, err
	}
	return resp.TimedOut, nil
}

// Len returns the number of records on the current page.
func (c *Collection) Len(ctx context.Context) (int, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(resp.Records), nil
}

// At returns the i-th record of the current page, or nil when i is out of range.
func (c *Collection) At(ctx context.Context, i int) (*Record, error) {
	resp, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(resp.Records) {
		return nil, nil
	}
	return resp.Records[i], nil
}
