package query

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
)

func TestParseDefaults(t *testing.T) {
	r, err := Parse(map[string]any{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if r.Size != DefaultSize {
		t.Errorf("Expected size %d, got %d", DefaultSize, r.Size)
	}
	if r.From != 0 {
		t.Errorf("Expected from 0, got %d", r.From)
	}
	if r.Query != nil || r.Filter != nil {
		t.Errorf("Expected no query or filter, got %v / %v", r.Query, r.Filter)
	}
}

func TestParseClauses(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Expression
	}{
		{"match_all", `{"match_all": {}}`, MatchAll()},
		{"term", `{"term": {"subject": "foo"}}`, Eq("subject", "foo")},
		{"term with value", `{"term": {"subject": {"value": "foo"}}}`, Eq("subject", "foo")},
		{"match", `{"match": {"subject": "hello"}}`, Match("subject", "hello")},
		{"match with query", `{"match": {"subject": {"query": "hello"}}}`, Match("subject", "hello")},
		{"query_string", `{"query_string": {"query": "hello"}}`, QueryString("hello")},
		{"exists", `{"exists": {"field": "subject"}}`, Exists("subject")},
		{"range", `{"range": {"price": {"gte": 10, "lt": 20}}}`, RangeExpr{Field: "price", Gte: float64(10), Lt: float64(20)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var clause map[string]any
			if err := json.Unmarshal([]byte(tt.body), &clause); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			got, err := ParseExpression(clause)
			if err != nil {
				t.Fatalf("ParseExpression failed: %v", err)
			}
			gotJSON, _ := json.Marshal(got.Source())
			wantJSON, _ := json.Marshal(tt.want.Source())
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("Expected %s, got %s", wantJSON, gotJSON)
			}
		})
	}
}

func TestParseTerms(t *testing.T) {
	e, err := ParseExpression(map[string]any{"terms": map[string]any{"tag": []any{"a", "b"}}})
	if err != nil {
		t.Fatalf("ParseExpression failed: %v", err)
	}
	terms, ok := e.(TermsExpr)
	if !ok {
		t.Fatalf("Expected TermsExpr, got %T", e)
	}
	if terms.Field != "tag" || len(terms.Values) != 2 {
		t.Errorf("Unexpected terms expression: %+v", terms)
	}
}

func TestParseBool(t *testing.T) {
	e, err := ParseExpression(map[string]any{
		"bool": map[string]any{
			"must":     map[string]any{"term": map[string]any{"a": 1}},
			"should":   []any{map[string]any{"term": map[string]any{"b": 2}}, map[string]any{"term": map[string]any{"c": 3}}},
			"must_not": []any{map[string]any{"exists": map[string]any{"field": "d"}}},
		},
	})
	if err != nil {
		t.Fatalf("ParseExpression failed: %v", err)
	}
	b, ok := e.(BoolExpr)
	if !ok {
		t.Fatalf("Expected BoolExpr, got %T", e)
	}
	if len(b.Must) != 1 || len(b.Should) != 2 || len(b.MustNot) != 1 || len(b.Filter) != 0 {
		t.Errorf("Unexpected bool expression: %+v", b)
	}
}

func TestParseFiltered(t *testing.T) {
	e, err := ParseExpression(map[string]any{
		"filtered": map[string]any{
			"query":  map[string]any{"match_all": map[string]any{}},
			"filter": map[string]any{"term": map[string]any{"a": 1}},
		},
	})
	if err != nil {
		t.Fatalf("ParseExpression failed: %v", err)
	}
	b := e.(BoolExpr)
	if len(b.Must) != 1 || len(b.Filter) != 1 {
		t.Errorf("Unexpected filtered expression: %+v", b)
	}
}

func TestParseRequest(t *testing.T) {
	body := recordx.Criteria{
		"query":  recordx.Criteria{"term": map[string]any{"subject": "foo"}},
		"filter": map[string]any{"exists": map[string]any{"field": "publish_at"}},
		"size":   "5",
		"from":   10,
		"sort": []any{
			"_score",
			map[string]any{"publish_at": "desc"},
			map[string]any{"subject": map[string]any{"order": "asc"}},
		},
		"facets": map[string]any{
			"subjects": map[string]any{"terms": map[string]any{"field": "subject", "size": 3}},
		},
		"_source": true,
	}

	r, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if r.Size != 5 || r.From != 10 {
		t.Errorf("Expected size 5 from 10, got %d/%d", r.Size, r.From)
	}
	if _, ok := r.Query.(TermExpr); !ok {
		t.Errorf("Expected TermExpr query, got %T", r.Query)
	}
	if _, ok := r.Filter.(ExistsExpr); !ok {
		t.Errorf("Expected ExistsExpr filter, got %T", r.Filter)
	}

	wantSort := []SortField{{"_score", true}, {"publish_at", true}, {"subject", false}}
	if len(r.Sort) != len(wantSort) {
		t.Fatalf("Expected %d sort fields, got %d", len(wantSort), len(r.Sort))
	}
	for i, s := range wantSort {
		if r.Sort[i] != s {
			t.Errorf("sort[%d]: expected %+v, got %+v", i, s, r.Sort[i])
		}
	}

	if len(r.Facets) != 1 || r.Facets[0] != (Facet{Name: "subjects", Field: "subject", Size: 3}) {
		t.Errorf("Unexpected facets: %+v", r.Facets)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown clause", map[string]any{"query": map[string]any{"fuzzy": map[string]any{"a": "b"}}}},
		{"two clauses", map[string]any{"query": map[string]any{"term": map[string]any{"a": 1}, "match_all": map[string]any{}}}},
		{"bad size", map[string]any{"size": "lots"}},
		{"negative from", map[string]any{"from": -1}},
		{"bad sort order", map[string]any{"sort": map[string]any{"a": "sideways"}}},
		{"non terms facet", map[string]any{"facets": map[string]any{"x": map[string]any{"histogram": map[string]any{}}}}},
		{"bad range bound", map[string]any{"query": map[string]any{"range": map[string]any{"a": map[string]any{"near": 1}}}}},
		{"unknown bool occurrence", map[string]any{"query": map[string]any{"bool": map[string]any{"maybe": []any{}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.body)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !errors.Is(err, recordx.ErrInvalidCriteria) {
				t.Errorf("Expected ErrInvalidCriteria, got %v", err)
			}
		})
	}
}

func TestBuildRoundTrip(t *testing.T) {
	body := Build(
		WithQuery(And(Eq("subject", "foo"), Gte("price", 10))),
		WithFilter(Not(Exists("deleted_at"))),
		WithSize(3),
		WithFrom(6),
		WithSort("publish_at", true),
		WithTermsFacet("subjects", "subject", 0),
	)

	r, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if r.Size != 3 || r.From != 6 {
		t.Errorf("Expected size 3 from 6, got %d/%d", r.Size, r.From)
	}
	q, ok := r.Query.(BoolExpr)
	if !ok || len(q.Must) != 2 {
		t.Errorf("Expected bool query with two musts, got %+v", r.Query)
	}
	if len(r.Sort) != 1 || !r.Sort[0].Desc {
		t.Errorf("Unexpected sort: %+v", r.Sort)
	}
	if len(r.Facets) != 1 || r.Facets[0].FacetSize() != DefaultSize {
		t.Errorf("Unexpected facets: %+v", r.Facets)
	}
}
