package algolia

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/errs"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/query"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	objectIDKey = "objectID"
	typeKey     = "_type"
)

// Index is an Algolia index.
type Index struct {
	client *Client
	name   string
}

// Name implements recordx.Index.
func (i *Index) Name() string {
	return i.name
}

// Exists implements recordx.Index.
func (i *Index) Exists(ctx context.Context) (ok bool, err error) {
	_, span := i.client.startSpan(ctx, "index_exists", i.name)
	defer func() { endSpan(span, err, "failed to check index") }()

	idx, err := i.client.index(i.name)
	if err != nil {
		return false, err
	}
	ok, err = idx.Exists()
	if err != nil {
		return false, wrapErr(err, "check index %s", i.name)
	}
	return ok, nil
}

// Create implements recordx.Index by applying facet settings derived from
// mappings. Algolia creates the index on first write or settings change.
func (i *Index) Create(ctx context.Context, mappings map[string]map[string]any) (err error) {
	_, span := i.client.startSpan(ctx, "create_index", i.name)
	defer func() { endSpan(span, err, "failed to create index") }()

	idx, err := i.client.index(i.name)
	if err != nil {
		return err
	}
	facets := []string{"filterOnly(" + typeKey + ")"}
	for _, typ := range sortedKeys(mappings) {
		facets = append(facets, facetAttributes(mappings[typ])...)
	}
	return i.applySettings(idx, facets)
}

func (i *Index) applySettings(idx indexAPI, facets []string) error {
	_, err := idx.SetSettings(search.Settings{
		AttributesForFaceting: opt.AttributesForFaceting(dedupe(facets)...),
	})
	if err != nil {
		return wrapErr(err, "set settings on %s", i.name)
	}
	return nil
}

// Delete implements recordx.Index.
func (i *Index) Delete(ctx context.Context) (err error) {
	_, span := i.client.startSpan(ctx, "delete_index", i.name)
	defer func() { endSpan(span, err, "failed to delete index") }()

	idx, err := i.client.index(i.name)
	if err != nil {
		return err
	}
	if _, err := idx.Delete(); err != nil {
		return wrapErr(err, "delete index %s", i.name)
	}
	return nil
}

// Type implements recordx.Index.
func (i *Index) Type(name string) recordx.Type {
	return &Type{index: i, name: name}
}

// Type is a document type within an Algolia index.
type Type struct {
	index *Index
	name  string
}

func (t *Type) client() *Client {
	return t.index.client
}

// Get implements recordx.Type. Objects of another type are reported as
// not found.
func (t *Type) Get(ctx context.Context, id string) (doc *recordx.Document, err error) {
	_, span := t.client().startSpan(ctx, "get_object", t.index.name, attribute.String("algolia.object_id", id))
	defer func() { endSpan(span, err, "failed to get object") }()

	idx, err := t.client().index(t.index.name)
	if err != nil {
		return nil, err
	}

	var object map[string]any
	if err := idx.GetObject(id, &object); err != nil {
		if _, ok := errs.IsAlgoliaErrWithCode(err, 404); ok {
			return nil, errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", t.index.name, t.name, id)
		}
		return nil, wrapErr(err, "get object %s from %s", id, t.index.name)
	}
	if object[typeKey] != t.name {
		return nil, errors.Wrapf(recordx.ErrNotFound, "%s/%s/%s", t.index.name, t.name, id)
	}

	source, meta := t.split(object)
	return &recordx.Document{Source: source, Meta: meta}, nil
}

// Put implements recordx.Type.
func (t *Type) Put(ctx context.Context, id string, body map[string]any) (meta recordx.Meta, err error) {
	_, span := t.client().startSpan(ctx, "save_object", t.index.name, attribute.String("algolia.object_id", id))
	defer func() { endSpan(span, err, "failed to save object") }()

	if id == "" {
		return nil, errors.New("put requires an id")
	}
	idx, err := t.client().index(t.index.name)
	if err != nil {
		return nil, err
	}

	object := maps.Clone(body)
	if object == nil {
		object = map[string]any{}
	}
	object[objectIDKey] = id
	object[typeKey] = t.name

	res, err := idx.SaveObject(object)
	if err != nil {
		return nil, wrapErr(err, "save object %s to %s", id, t.index.name)
	}
	if res.ObjectID != "" {
		id = res.ObjectID
	}
	return recordx.Meta{
		recordx.MetaID:    id,
		recordx.MetaIndex: t.index.name,
		recordx.MetaType:  t.name,
	}, nil
}

// Post implements recordx.Type with a KSUID object ID.
func (t *Type) Post(ctx context.Context, body map[string]any) (recordx.Meta, error) {
	return t.Put(ctx, ksuid.New().String(), body)
}

// Delete implements recordx.Type. The object is looked up first so that a
// missing object yields ErrNotFound.
func (t *Type) Delete(ctx context.Context, id string) (err error) {
	if _, err := t.Get(ctx, id); err != nil {
		return err
	}

	_, span := t.client().startSpan(ctx, "delete_object", t.index.name, attribute.String("algolia.object_id", id))
	defer func() { endSpan(span, err, "failed to delete object") }()

	idx, err := t.client().index(t.index.name)
	if err != nil {
		return err
	}
	if _, err := idx.DeleteObject(id); err != nil {
		return wrapErr(err, "delete object %s from %s", id, t.index.name)
	}
	return nil
}

// PutMapping implements recordx.Type by refreshing the facet settings.
func (t *Type) PutMapping(ctx context.Context, mapping map[string]any) (err error) {
	_, span := t.client().startSpan(ctx, "put_mapping", t.index.name)
	defer func() { endSpan(span, err, "failed to put mapping") }()

	idx, err := t.client().index(t.index.name)
	if err != nil {
		return err
	}
	facets := append([]string{"filterOnly(" + typeKey + ")"}, facetAttributes(mapping)...)
	return t.index.applySettings(idx, facets)
}

// Search implements recordx.Type. Full-text clauses become the Algolia
// query string and everything else becomes a filter. Sorting by fields
// needs replica indices and is ignored.
func (t *Type) Search(ctx context.Context, criteria recordx.Criteria) (resp *recordx.SearchResponse, err error) {
	_, span := t.client().startSpan(ctx, "search", t.index.name)
	defer func() { endSpan(span, err, "search failed") }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := query.Parse(criteria)
	if err != nil {
		return nil, err
	}
	text, params, err := buildSearchParams(t.name, req)
	if err != nil {
		return nil, err
	}

	idx, err := t.client().index(t.index.name)
	if err != nil {
		return nil, err
	}
	res, err := idx.Search(text, params...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errors.WithSecondaryError(
			recordx.ErrBackendUnavailable,
			errors.Wrapf(err, "Algolia search failed"),
		)
	}

	resp = &recordx.SearchResponse{
		Hits:  make([]recordx.Hit, 0, len(res.Hits)),
		Total: int64(res.NbHits),
		Took:  int64(res.ProcessingTimeMS),
	}
	for pos, hit := range res.Hits {
		source, meta := t.split(hit)
		meta[recordx.MetaScore] = calculateScore(len(res.Hits), pos)
		resp.Hits = append(resp.Hits, recordx.Hit{Source: source, Meta: meta})
	}
	if len(req.Facets) > 0 {
		resp.Facets = convertFacets(req.Facets, res.Facets)
	}
	return resp, nil
}

// split separates an Algolia object into the document body and meta.
func (t *Type) split(object map[string]any) (map[string]any, recordx.Meta) {
	source := make(map[string]any, len(object))
	for k, v := range object {
		switch k {
		case objectIDKey, typeKey, "_highlightResult", "_snippetResult", "_rankingInfo":
			continue
		}
		source[k] = v
	}
	return source, recordx.Meta{
		recordx.MetaID:    fmt.Sprint(object[objectIDKey]),
		recordx.MetaIndex: t.index.name,
		recordx.MetaType:  t.name,
	}
}

// calculateScore creates a rank-based score for Algolia results.
// Algolia does not expose relevance scores, so earlier hits score higher.
func calculateScore(totalResults, position int) float64 {
	if totalResults == 0 {
		return 1.0
	}
	return float64(totalResults-position) / float64(totalResults)
}

// facetAttributes returns the non-analyzed string properties of a mapping.
func facetAttributes(mapping map[string]any) []string {
	props, _ := mapping["properties"].(map[string]any)
	var out []string
	for _, name := range sortedKeys(props) {
		desc, _ := props[name].(map[string]any)
		if desc["index"] == "not_analyzed" {
			out = append(out, name)
		}
	}
	return out
}

func convertFacets(facets []query.Facet, counts map[string]map[string]int) map[string]any {
	out := make(map[string]any, len(facets))
	for _, f := range facets {
		values := counts[f.Field]
		terms := make([]any, 0, len(values))
		total := 0
		for _, term := range sortedByCount(values) {
			if len(terms) < f.FacetSize() {
				terms = append(terms, map[string]any{"term": term, "count": values[term]})
			}
			total += values[term]
		}
		out[f.Name] = map[string]any{
			"_type": "terms",
			"terms": terms,
			"total": total,
		}
	}
	return out
}

func isPattern(name string) bool {
	return strings.ContainsAny(name, "*?[{")
}

func wrapErr(err error, format string, args ...any) error {
	if _, ok := errs.IsAlgoliaErrWithCode(err, 404); ok {
		return errors.WithSecondaryError(recordx.ErrNotFound, errors.Wrapf(err, format, args...))
	}
	return errors.Wrapf(err, format, args...)
}
