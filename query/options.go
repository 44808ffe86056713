package query

// DefaultSize is the number of hits returned when a request has no size.
const DefaultSize = 10

// Option configures a Request built with Build.
type Option interface {
	Apply(*Request)
}

// Request is a parsed search request body.
type Request struct {
	// Query scores and selects documents. Nil matches every document.
	Query Expression

	// Filter selects documents without affecting scores. Nil filters nothing.
	Filter Expression

	// Size is the maximum number of hits to return.
	Size int

	// From is the number of hits to skip for pagination.
	From int

	// Sort specifies sorting configuration.
	Sort []SortField

	// Facets lists the terms facets to compute over all matches.
	Facets []Facet
}

// SortField represents a field to sort by.
type SortField struct {
	// Field is the name of the field to sort by. "_score" sorts by relevance.
	Field string
	// Desc indicates whether to sort in descending order (true) or ascending order (false).
	Desc bool
}

// Facet is a terms facet: the most frequent values of Field.
type Facet struct {
	Name  string
	Field string
	// Size caps the number of terms returned. Zero means DefaultSize.
	Size int
}

// optionFunc is a function that implements Option.
type optionFunc func(*Request)

// Apply implements the Option interface for optionFunc.
func (f optionFunc) Apply(r *Request) {
	f(r)
}

// WithQuery sets the scoring query.
func WithQuery(e Expression) Option {
	return optionFunc(func(r *Request) {
		r.Query = e
	})
}

// WithFilter sets the top-level filter.
func WithFilter(e Expression) Option {
	return optionFunc(func(r *Request) {
		r.Filter = e
	})
}

// WithSize sets the maximum number of hits to return.
func WithSize(n int) Option {
	return optionFunc(func(r *Request) {
		r.Size = n
	})
}

// WithFrom sets the number of hits to skip for pagination.
func WithFrom(n int) Option {
	return optionFunc(func(r *Request) {
		r.From = n
	})
}

// WithSort adds a sort field to the request.
func WithSort(field string, desc bool) Option {
	return optionFunc(func(r *Request) {
		r.Sort = append(r.Sort, SortField{Field: field, Desc: desc})
	})
}

// WithTermsFacet adds a terms facet named name over field.
func WithTermsFacet(name, field string, size int) Option {
	return optionFunc(func(r *Request) {
		r.Facets = append(r.Facets, Facet{Name: name, Field: field, Size: size})
	})
}

// Build renders options into a request body accepted by Parse.
func Build(opts ...Option) map[string]any {
	r := &Request{Size: DefaultSize}
	for _, opt := range opts {
		opt.Apply(r)
	}
	return r.Body()
}

// Body renders the request back into its body form.
func (r *Request) Body() map[string]any {
	body := map[string]any{
		"size": r.Size,
		"from": r.From,
	}
	if r.Query != nil {
		body["query"] = r.Query.Source()
	}
	if r.Filter != nil {
		body["filter"] = r.Filter.Source()
	}
	if len(r.Sort) > 0 {
		sorts := make([]any, len(r.Sort))
		for i, s := range r.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			sorts[i] = map[string]any{s.Field: order}
		}
		body["sort"] = sorts
	}
	if len(r.Facets) > 0 {
		facets := make(map[string]any, len(r.Facets))
		for _, f := range r.Facets {
			terms := map[string]any{"field": f.Field}
			if f.Size > 0 {
				terms["size"] = f.Size
			}
			facets[f.Name] = map[string]any{"terms": terms}
		}
		body["facets"] = facets
	}
	return body
}

// FacetSize returns the effective number of terms for f.
func (f Facet) FacetSize() int {
	if f.Size <= 0 {
		return DefaultSize
	}
	return f.Size
}
