package query

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/spf13/cast"
)

// Parse reads a request body. Top-level keys other than query, filter,
// sort, facets, size and from are ignored. Unknown query clauses fail with
// an error matching recordx.ErrInvalidCriteria.
func Parse(body map[string]any) (*Request, error) {
	r := &Request{Size: DefaultSize}

	if v, ok := body["size"]; ok && v != nil {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return nil, invalidf("size %v", v)
		}
		r.Size = n
	}
	if v, ok := body["from"]; ok && v != nil {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return nil, invalidf("from %v", v)
		}
		r.From = n
	}

	if v, ok := body["query"]; ok && v != nil {
		e, err := ParseExpression(v)
		if err != nil {
			return nil, errors.Wrap(err, "query")
		}
		r.Query = e
	}
	if v, ok := body["filter"]; ok && v != nil {
		e, err := ParseExpression(v)
		if err != nil {
			return nil, errors.Wrap(err, "filter")
		}
		r.Filter = e
	}

	if v, ok := body["sort"]; ok && v != nil {
		sorts, err := parseSort(v)
		if err != nil {
			return nil, err
		}
		r.Sort = sorts
	}

	if v, ok := body["facets"]; ok && v != nil {
		facets, err := parseFacets(v)
		if err != nil {
			return nil, err
		}
		r.Facets = facets
	}

	return r, nil
}

// ParseExpression reads a single query clause such as {"term": {...}}.
func ParseExpression(v any) (Expression, error) {
	clause, ok := asMap(v)
	if !ok || len(clause) != 1 {
		return nil, invalidf("clause must be an object with one key, got %v", v)
	}

	for name, arg := range clause {
		switch name {
		case "match_all":
			return MatchAll(), nil
		case "term":
			return parseTerm(arg)
		case "terms":
			return parseTerms(arg)
		case "match":
			return parseMatch(arg)
		case "query_string":
			return parseQueryString(arg)
		case "range":
			return parseRange(arg)
		case "exists":
			return parseExists(arg)
		case "bool":
			return parseBool(arg)
		case "filtered":
			return parseFiltered(arg)
		default:
			return nil, invalidf("unknown clause %q", name)
		}
	}
	return nil, invalidf("empty clause")
}

func parseTerm(arg any) (Expression, error) {
	field, v, err := singleField("term", arg)
	if err != nil {
		return nil, err
	}
	if m, ok := asMap(v); ok {
		value, ok := m["value"]
		if !ok {
			return nil, invalidf("term %s: missing value", field)
		}
		v = value
	}
	return Eq(field, v), nil
}

func parseTerms(arg any) (Expression, error) {
	field, v, err := singleField("terms", arg)
	if err != nil {
		return nil, err
	}
	values, ok := asSlice(v)
	if !ok {
		return nil, invalidf("terms %s: values must be a list", field)
	}
	return In(field, values...), nil
}

func parseMatch(arg any) (Expression, error) {
	field, v, err := singleField("match", arg)
	if err != nil {
		return nil, err
	}
	if m, ok := asMap(v); ok {
		v = m["query"]
	}
	text, err := cast.ToStringE(v)
	if err != nil {
		return nil, invalidf("match %s: %v", field, err)
	}
	return Match(field, text), nil
}

func parseQueryString(arg any) (Expression, error) {
	m, ok := asMap(arg)
	if !ok {
		return nil, invalidf("query_string must be an object")
	}
	text, err := cast.ToStringE(m["query"])
	if err != nil {
		return nil, invalidf("query_string: %v", err)
	}
	return MatchExpr{Field: cast.ToString(m["default_field"]), Text: text}, nil
}

func parseRange(arg any) (Expression, error) {
	field, v, err := singleField("range", arg)
	if err != nil {
		return nil, err
	}
	bounds, ok := asMap(v)
	if !ok {
		return nil, invalidf("range %s: bounds must be an object", field)
	}
	r := RangeExpr{Field: field}
	for key, bound := range bounds {
		switch key {
		case "gt":
			r.Gt = bound
		case "gte", "from":
			r.Gte = bound
		case "lt":
			r.Lt = bound
		case "lte", "to":
			r.Lte = bound
		default:
			return nil, invalidf("range %s: unknown bound %q", field, key)
		}
	}
	return r, nil
}

func parseExists(arg any) (Expression, error) {
	m, ok := asMap(arg)
	if !ok {
		return nil, invalidf("exists must be an object")
	}
	field := cast.ToString(m["field"])
	if field == "" {
		return nil, invalidf("exists: missing field")
	}
	return Exists(field), nil
}

func parseBool(arg any) (Expression, error) {
	m, ok := asMap(arg)
	if !ok {
		return nil, invalidf("bool must be an object")
	}
	var b BoolExpr
	for key, v := range m {
		exprs, err := parseClauses(v)
		if err != nil {
			return nil, errors.Wrapf(err, "bool %s", key)
		}
		switch key {
		case "must":
			b.Must = exprs
		case "filter":
			b.Filter = exprs
		case "should":
			b.Should = exprs
		case "must_not":
			b.MustNot = exprs
		default:
			return nil, invalidf("bool: unknown occurrence %q", key)
		}
	}
	return b, nil
}

// parseFiltered accepts the legacy {"filtered": {"query": ..., "filter": ...}} form.
func parseFiltered(arg any) (Expression, error) {
	m, ok := asMap(arg)
	if !ok {
		return nil, invalidf("filtered must be an object")
	}
	var b BoolExpr
	if v, ok := m["query"]; ok {
		e, err := ParseExpression(v)
		if err != nil {
			return nil, err
		}
		b.Must = []Expression{e}
	}
	if v, ok := m["filter"]; ok {
		e, err := ParseExpression(v)
		if err != nil {
			return nil, err
		}
		b.Filter = []Expression{e}
	}
	return b, nil
}

func parseClauses(v any) ([]Expression, error) {
	items, ok := asSlice(v)
	if !ok {
		items = []any{v}
	}
	out := make([]Expression, 0, len(items))
	for _, item := range items {
		e, err := ParseExpression(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseSort(v any) ([]SortField, error) {
	items, ok := asSlice(v)
	if !ok {
		items = []any{v}
	}
	var out []SortField
	for _, item := range items {
		switch s := item.(type) {
		case string:
			out = append(out, SortField{Field: s, Desc: s == "_score"})
			continue
		}
		m, ok := asMap(item)
		if !ok {
			return nil, invalidf("sort: unsupported entry %v", item)
		}
		for _, field := range sortedKeys(m) {
			order := m[field]
			if om, ok := asMap(order); ok {
				order = om["order"]
			}
			switch cast.ToString(order) {
			case "asc":
				out = append(out, SortField{Field: field})
			case "desc":
				out = append(out, SortField{Field: field, Desc: true})
			default:
				return nil, invalidf("sort %s: unknown order %v", field, order)
			}
		}
	}
	return out, nil
}

func parseFacets(v any) ([]Facet, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, invalidf("facets must be an object")
	}
	out := make([]Facet, 0, len(m))
	for _, name := range sortedKeys(m) {
		def, ok := asMap(m[name])
		if !ok {
			return nil, invalidf("facet %s must be an object", name)
		}
		terms, ok := asMap(def["terms"])
		if !ok {
			return nil, invalidf("facet %s: only terms facets are supported", name)
		}
		field := cast.ToString(terms["field"])
		if field == "" {
			return nil, invalidf("facet %s: missing field", name)
		}
		out = append(out, Facet{Name: name, Field: field, Size: cast.ToInt(terms["size"])})
	}
	return out, nil
}

func singleField(clause string, arg any) (string, any, error) {
	m, ok := asMap(arg)
	if !ok || len(m) != 1 {
		return "", nil, invalidf("%s must name exactly one field", clause)
	}
	for field, v := range m {
		return field, v, nil
	}
	return "", nil, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case recordx.Criteria:
		return m, true
	case recordx.Meta:
		return m, true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(recordx.ErrInvalidCriteria, format, args...)
}
