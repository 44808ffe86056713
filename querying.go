package recordx

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx/internal/metrics"
)

// Search returns a lazy collection over criteria. Nothing is sent to the
// store until a result accessor is called.
func (m *Model) Search(criteria Criteria) *Collection {
	if criteria == nil {
		criteria = Criteria{}
	}
	return newCollection(m, criteria)
}

// All returns a collection of every record, limit per page. A limit of zero
// or less uses DefaultPerPage.
func (m *Model) All(limit int) *Collection {
	if limit <= 0 {
		limit = DefaultPerPage
	}
	return m.Search(Criteria{"query": map[string]any{"match_all": map[string]any{}}}).SetPerPage(limit)
}

// Count returns the total number of records without fetching any.
func (m *Model) Count(ctx context.Context) (n int64, err error) {
	index := m.mapping.IndexName()

	ctx, span := m.startSpan(ctx, "recordx.count", index)
	defer func() { endSpan(span, err) }()

	err = m.pool.WithType(ctx, index, m.mapping.TypeName(), func(ctx context.Context, t Type) error {
		start := time.Now()
		resp, err := t.Search(ctx, Criteria{
			"query": map[string]any{"match_all": map[string]any{}},
			"size":  0,
		})
		metrics.ObserveStoreOp("count", start, err)
		if err != nil {
			return err
		}
		n = resp.Total
		return nil
	})
	return n, err
}

// First returns the first record, or nil when there are none.
func (m *Model) First(ctx context.Context) (*Record, error) {
	return m.All(1).At(ctx, 0)
}

// Find fetches a record by identifier from the model's current index.
// It returns an error matching ErrNotFound when the record is absent.
func (m *Model) Find(ctx context.Context, id string) (r *Record, err error) {
	index := m.mapping.CurrentIndexName(nil)

	ctx, span := m.startSpan(ctx, "recordx.find", index)
	defer func() { endSpan(span, err) }()

	var doc *Document
	err = m.pool.WithType(ctx, index, m.mapping.TypeName(), func(ctx context.Context, t Type) error {
		start := time.Now()
		var err error
		doc, err = t.Get(ctx, id)
		metrics.ObserveStoreOp("get", start, err)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s %s", m.name, id)
	}

	meta := doc.Meta
	if meta == nil {
		meta = Meta{}
	}
	if _, ok := meta[MetaID]; !ok {
		meta[MetaID] = id
	}
	return m.hydrate(doc.Source, meta)
}

// hydrate builds a persisted record from a stored body and its meta fields.
func (m *Model) hydrate(source map[string]any, meta Meta) (*Record, error) {
	attrs := make(map[string]any, len(source)+len(meta))
	for k, v := range source {
		attrs[k] = v
	}
	for k, v := range meta {
		attrs[k] = v
	}
	return m.InitWith(attrs)
}
