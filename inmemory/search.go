package inmemory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/query"
)

type scoredDocument struct {
	index    string
	document Document
	score    float64
}

// search executes criteria against typ in every index matched by
// indexName. Missing indices yield an empty response.
func (s *Store) search(ctx context.Context, indexName, typ string, criteria recordx.Criteria) (*recordx.SearchResponse, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "search")
	}

	req, err := query.Parse(criteria)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.matchIndices(indexName)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var matches []scoredDocument
	for _, name := range names {
		t, ok := s.indices[name].types[typ]
		if !ok {
			continue
		}
		for _, doc := range t.documents {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "search")
			}
			if req.Filter != nil {
				if ok, _ := evaluateExpression(doc, req.Filter); !ok {
					continue
				}
			}
			ok, score := evaluateExpression(doc, req.Query)
			if !ok {
				continue
			}
			matches = append(matches, scoredDocument{index: name, document: doc, score: score})
		}
	}

	sortMatches(matches, req.Sort)

	start := min(req.From, len(matches))
	end := min(start+req.Size, len(matches))

	resp := &recordx.SearchResponse{
		Hits:  make([]recordx.Hit, 0, end-start),
		Total: int64(len(matches)),
	}
	for _, match := range matches[start:end] {
		m := meta(match.index, typ, match.document)
		m[recordx.MetaScore] = match.score
		resp.Hits = append(resp.Hits, recordx.Hit{
			Source: maps.Clone(match.document.Fields),
			Meta:   m,
		})
	}
	if len(req.Facets) > 0 {
		resp.Facets = computeFacets(matches, req.Facets)
	}
	resp.Took = time.Since(startTime).Milliseconds()
	return resp, nil
}

// sortMatches sorts the matched documents according to the sort configuration.
// Without sort fields, documents are ordered by score descending. Ties keep
// insertion order.
func sortMatches(matches []scoredDocument, sortFields []query.SortField) {
	if len(sortFields) == 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].score > matches[j].score
		})
		return
	}

	sort.SliceStable(matches, func(i, j int) bool {
		for _, sf := range sortFields {
			if sf.Field == recordx.MetaScore {
				if matches[i].score != matches[j].score {
					if sf.Desc {
						return matches[i].score > matches[j].score
					}
					return matches[i].score < matches[j].score
				}
				continue
			}

			val1, _ := lookup(matches[i].document.Fields, sf.Field)
			val2, _ := lookup(matches[j].document.Fields, sf.Field)

			cmp := compareValues(val1, val2)
			if cmp != 0 {
				if sf.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	})
}

type termCount struct {
	term  any
	count int
}

// computeFacets counts field values over all matches. Array fields count
// each element.
func computeFacets(matches []scoredDocument, facets []query.Facet) map[string]any {
	out := make(map[string]any, len(facets))
	for _, f := range facets {
		counts := make(map[string]*termCount)
		var order []string
		total := 0

		add := func(v any) {
			if v == nil {
				return
			}
			key := fmt.Sprintf("%T:%v", v, v)
			tc, ok := counts[key]
			if !ok {
				tc = &termCount{term: v}
				counts[key] = tc
				order = append(order, key)
			}
			tc.count++
			total++
		}

		for _, m := range matches {
			v, ok := lookup(m.document.Fields, f.Field)
			if !ok {
				continue
			}
			if items, isList := v.([]any); isList {
				for _, item := range items {
					add(item)
				}
				continue
			}
			add(v)
		}

		sorted := make([]*termCount, 0, len(order))
		for _, key := range order {
			sorted = append(sorted, counts[key])
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].count != sorted[j].count {
				return sorted[i].count > sorted[j].count
			}
			return compareValues(sorted[i].term, sorted[j].term) < 0
		})
		if len(sorted) > f.FacetSize() {
			sorted = sorted[:f.FacetSize()]
		}

		terms := make([]any, len(sorted))
		for i, tc := range sorted {
			terms[i] = map[string]any{"term": tc.term, "count": tc.count}
		}
		out[f.Name] = map[string]any{
			"_type": "terms",
			"terms": terms,
			"total": total,
		}
	}
	return out
}
