package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/query"
)

func TestScoreMatch(t *testing.T) {
	doc := Document{
		ID: "1",
		Fields: map[string]any{
			"title":       "Go Programming Language",
			"description": "Learn Go programming with examples",
			"tags":        []any{"golang", "programming", "tutorial"},
			"nested": map[string]any{
				"author": "John Doe",
				"year":   2023,
			},
			"rating": 4.5,
		},
	}

	tests := map[string]struct {
		expr     query.MatchExpr
		expected float64
	}{
		"empty_query": {
			expr:     query.MatchExpr{Text: ""},
			expected: 1.0,
		},
		"whitespace_query": {
			expr:     query.MatchExpr{Text: "   "},
			expected: 1.0,
		},
		"single_term_match": {
			expr:     query.MatchExpr{Text: "go"},
			expected: 4.5, // Found in three fields, boosted
		},
		"single_term_case_insensitive": {
			expr:     query.MatchExpr{Text: "GO"},
			expected: 4.5,
		},
		"multiple_terms_all_match": {
			expr:     query.MatchExpr{Text: "go programming"},
			expected: 9.0,
		},
		"multiple_terms_partial_match": {
			expr:     query.MatchExpr{Text: "go python"},
			expected: 3.0, // Only "go" matches
		},
		"no_match": {
			expr:     query.MatchExpr{Text: "javascript react"},
			expected: 0,
		},
		"single_field": {
			expr:     query.MatchExpr{Field: "title", Text: "go"},
			expected: 1.5,
		},
		"nested_field": {
			expr:     query.MatchExpr{Field: "nested.author", Text: "doe"},
			expected: 1.5,
		},
		"numeric_value": {
			expr:     query.MatchExpr{Field: "rating", Text: "4.5"},
			expected: 1.5,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := scoreMatch(doc, tt.expr)
			if got != tt.expected {
				t.Errorf("scoreMatch() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSortMatches(t *testing.T) {
	matches := func() []scoredDocument {
		return []scoredDocument{
			{document: Document{ID: "a", Fields: map[string]any{"n": 3, "s": "b"}}, score: 1},
			{document: Document{ID: "b", Fields: map[string]any{"n": 1, "s": "a"}}, score: 3},
			{document: Document{ID: "c", Fields: map[string]any{"n": 2, "s": "a"}}, score: 2},
		}
	}
	ids := func(ms []scoredDocument) string {
		out := ""
		for _, m := range ms {
			out += m.document.ID
		}
		return out
	}

	tests := map[string]struct {
		sort []query.SortField
		want string
	}{
		"default_score_desc": {nil, "bca"},
		"field_asc":          {[]query.SortField{{Field: "n"}}, "bca"},
		"field_desc":         {[]query.SortField{{Field: "n", Desc: true}}, "acb"},
		"score_asc":          {[]query.SortField{{Field: "_score"}}, "acb"},
		"tie_break":          {[]query.SortField{{Field: "s"}, {Field: "n", Desc: true}}, "cba"},
		"missing_field":      {[]query.SortField{{Field: "nope"}}, "abc"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ms := matches()
			sortMatches(ms, tt.sort)
			if got := ids(ms); got != tt.want {
				t.Errorf("sortMatches() order = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFacets(t *testing.T) {
	store := New()
	ctx := context.Background()
	docs := map[string]string{
		"1": `{"category": "programming", "tags": ["go", "web"]}`,
		"2": `{"category": "programming", "tags": ["python"]}`,
		"3": `{"category": "data", "tags": ["python", "ml"]}`,
		"4": `{"tags": []}`,
	}
	for id, data := range docs {
		if err := store.AddJSON("books", "book", id, []byte(data)); err != nil {
			t.Fatalf("AddJSON failed: %v", err)
		}
	}

	resp, err := store.Index("books").Type("book").Search(ctx, query.Build(
		query.WithSize(0),
		query.WithTermsFacet("categories", "category", 0),
		query.WithTermsFacet("tags", "tags", 2),
	))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	categories := resp.Facets["categories"].(map[string]any)
	if categories["_type"] != "terms" || categories["total"] != 3 {
		t.Errorf("Unexpected categories facet: %v", categories)
	}
	terms := categories["terms"].([]any)
	first := terms[0].(map[string]any)
	if first["term"] != "programming" || first["count"] != 2 {
		t.Errorf("Expected programming x2 first, got %v", first)
	}

	tags := resp.Facets["tags"].(map[string]any)
	tagTerms := tags["terms"].([]any)
	if len(tagTerms) != 2 {
		t.Fatalf("Expected facet size cap of 2, got %d", len(tagTerms))
	}
	if tagTerms[0].(map[string]any)["term"] != "python" {
		t.Errorf("Expected python as top tag, got %v", tagTerms[0])
	}
	if tags["total"] != 5 {
		t.Errorf("Expected 5 tag values counted, got %v", tags["total"])
	}
}

func TestSearchContextCancellation(t *testing.T) {
	store := seedBooks(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Index("books").Type("book").Search(ctx, query.Build())
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestDateRange(t *testing.T) {
	store := New()
	ctx := context.Background()
	typ := store.Index("posts").Type("post")

	for i, day := range []int{1, 15, 28} {
		_, err := typ.Put(ctx, fmt.Sprint(i), map[string]any{
			"publish_at": time.Date(2024, 2, day, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	resp, err := typ.Search(ctx, query.Build(query.WithFilter(query.Range("publish_at", "2024-02-10", "2024-02-20"))))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("Expected 1 post in range, got %d", resp.Total)
	}
}

func TestConcurrentOperations(t *testing.T) {
	store := New()
	ctx := context.Background()
	typ := store.Index("things").Type("thing")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := typ.Put(ctx, fmt.Sprint(i), map[string]any{"n": i}); err != nil {
				t.Errorf("Put failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := typ.Search(ctx, recordx.Criteria{}); err != nil {
				t.Errorf("Search failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if store.Size("things", "thing") != 20 {
		t.Errorf("Expected 20 documents, got %d", store.Size("things", "thing"))
	}
}
