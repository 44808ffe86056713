package recordx

import "context"

// Client is a handle to a document store server. Handles are owned by a
// ConnectionPool and are used by one goroutine at a time.
type Client interface {
	// Index returns a handle scoped to the named index. The name may contain
	// a "*" wildcard when the handle is only used for searching.
	Index(name string) Index
}

// Index is a handle scoped to a single index of the document store.
type Index interface {
	// Name returns the index name.
	Name() string

	// Exists reports whether the index exists.
	Exists(ctx context.Context) (bool, error)

	// Create creates the index with the given per-type mappings.
	Create(ctx context.Context, mappings map[string]map[string]any) error

	// Delete removes the index and every document in it.
	Delete(ctx context.Context) error

	// Type returns a handle scoped to a type within the index.
	Type(name string) Type
}

// Type is a handle scoped to an index/type path. Documents live at
// index/type/id.
type Type interface {
	// Get fetches a document by identifier. It returns an error matching
	// ErrNotFound when the document is absent.
	Get(ctx context.Context, id string) (*Document, error)

	// Put stores body under an explicit identifier.
	Put(ctx context.Context, id string, body map[string]any) (Meta, error)

	// Post stores body under a store-assigned identifier, returned as "_id".
	Post(ctx context.Context, body map[string]any) (Meta, error)

	// Delete removes a document. It returns an error matching ErrNotFound
	// when the document is absent.
	Delete(ctx context.Context, id string) error

	// Search executes criteria against the type.
	Search(ctx context.Context, criteria Criteria) (*SearchResponse, error)

	// PutMapping updates the type's mapping.
	PutMapping(ctx context.Context, mapping map[string]any) error
}

// ClientFunc adapts a function to the Client interface.
// This allows using a function as a Client, similar to http.HandlerFunc.
type ClientFunc func(name string) Index

// Index implements the Client interface for ClientFunc.
func (f ClientFunc) Index(name string) Index {
	return f(name)
}

// Dialer opens a new Client for a store URL. A ConnectionPool calls it each
// time it grows.
type Dialer func(ctx context.Context, url string) (Client, error)

// Criteria is a raw search request body.
type Criteria map[string]any

// Merge returns a copy of c with every key of other set on top.
func (c Criteria) Merge(other Criteria) Criteria {
	out := make(Criteria, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Meta holds store-managed document fields. Keys carry a leading underscore.
type Meta map[string]any

// Store-managed meta keys.
const (
	MetaID        = "_id"
	MetaIndex     = "_index"
	MetaType      = "_type"
	MetaVersion   = "_version"
	MetaTimestamp = "_timestamp"
	MetaScore     = "_score"
)

// Document is a stored document together with its meta fields.
type Document struct {
	// Source is the document body.
	Source map[string]any

	// Meta contains the store-managed fields (_id, _version, ...).
	Meta Meta
}

// Hit is a single search hit.
type Hit struct {
	// Source is the document body.
	Source map[string]any

	// Meta contains the store-managed fields, including _score.
	Meta Meta
}

// SearchResponse is the raw result of executing a search.
type SearchResponse struct {
	// Hits contains the matching documents in result order.
	Hits []Hit

	// Total is the total number of matching documents.
	Total int64

	// Facets contains facet results keyed by facet name.
	Facets map[string]any

	// Took is the time taken to execute the search in milliseconds.
	Took int64

	// TimedOut reports whether the store gave up before completing the search.
	TimedOut bool
}
