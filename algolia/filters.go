package algolia

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/query"
)

// buildSearchParams converts a parsed request into an Algolia query string
// and search parameters. Every search is restricted to objects of typeName.
func buildSearchParams(typeName string, req *query.Request) (string, []interface{}, error) {
	text, fields, rest := splitQuery(req.Query)

	filters := []string{fmt.Sprintf("%s:%s", typeKey, escapeValue(typeName))}
	for _, e := range append(rest, req.Filter) {
		if e == nil {
			continue
		}
		f, err := convertExpressionToFilter(e)
		if err != nil {
			return "", nil, err
		}
		if f != "" {
			filters = append(filters, "("+f+")")
		}
	}

	params := []interface{}{
		opt.Offset(req.From),
		opt.Length(req.Size),
		opt.Filters(strings.Join(filters, " AND ")),
	}
	if len(fields) == 1 {
		params = append(params, opt.RestrictSearchableAttributes(fields[0]))
	}
	if len(req.Facets) > 0 {
		names := make([]string, 0, len(req.Facets))
		maxValues := 0
		for _, f := range req.Facets {
			names = append(names, f.Field)
			maxValues = max(maxValues, f.FacetSize())
		}
		params = append(params, opt.Facets(dedupe(names)...), opt.MaxValuesPerFacet(maxValues))
	}
	return strings.Join(text, " "), params, nil
}

// splitQuery pulls full-text clauses out of a query. It returns the texts,
// the distinct fields they target, and the remaining clauses to filter on.
func splitQuery(e query.Expression) (text, fields []string, rest []query.Expression) {
	addField := func(f string) {
		if f == "" || f == "_all" {
			return
		}
		for _, existing := range fields {
			if existing == f {
				return
			}
		}
		fields = append(fields, f)
	}

	switch e := e.(type) {
	case nil, query.MatchAllExpr:
		return nil, nil, nil
	case query.MatchExpr:
		addField(e.Field)
		return []string{e.Text}, fields, nil
	case query.BoolExpr:
		residual := query.BoolExpr{Filter: e.Filter, MustNot: e.MustNot}
		for _, m := range e.Must {
			if mx, ok := m.(query.MatchExpr); ok {
				text = append(text, mx.Text)
				addField(mx.Field)
				continue
			}
			residual.Must = append(residual.Must, m)
		}
		// Should clauses are optional once anything else is required.
		if len(e.Must) == 0 && len(e.Filter) == 0 {
			residual.Should = e.Should
		}
		if len(residual.Must)+len(residual.Filter)+len(residual.Should)+len(residual.MustNot) > 0 {
			rest = append(rest, residual)
		}
		return text, fields, rest
	default:
		return nil, nil, []query.Expression{e}
	}
}

// convertExpressionToFilter converts an expression to an Algolia filter string.
func convertExpressionToFilter(expr query.Expression) (string, error) {
	switch e := expr.(type) {
	case nil, query.MatchAllExpr:
		return "", nil
	case query.BoolExpr:
		return convertBoolExpression(e)
	case query.TermExpr:
		return convertTermExpression(e.Field, e.Value), nil
	case query.TermsExpr:
		parts := make([]string, 0, len(e.Values))
		for _, v := range e.Values {
			parts = append(parts, convertTermExpression(e.Field, v))
		}
		return joinFilters(parts, " OR "), nil
	case query.RangeExpr:
		return convertRangeExpression(e), nil
	case query.ExistsExpr:
		return "", errors.Wrapf(recordx.ErrNotImplemented, "exists filter on %s", e.Field)
	case query.MatchExpr:
		return "", errors.Wrapf(recordx.ErrNotImplemented, "full-text match inside a filter on %s", e.Field)
	default:
		return "", errors.Wrapf(recordx.ErrNotImplemented, "expression %T", expr)
	}
}

// convertBoolExpression converts a bool expression to Algolia filter syntax
func convertBoolExpression(expr query.BoolExpr) (string, error) {
	var and []string
	for _, e := range append(append([]query.Expression{}, expr.Must...), expr.Filter...) {
		f, err := convertExpressionToFilter(e)
		if err != nil {
			return "", err
		}
		if f != "" {
			and = append(and, f)
		}
	}

	if len(expr.Should) > 0 && len(expr.Must) == 0 && len(expr.Filter) == 0 {
		var or []string
		for _, e := range expr.Should {
			f, err := convertExpressionToFilter(e)
			if err != nil {
				return "", err
			}
			if f != "" {
				or = append(or, f)
			}
		}
		if joined := joinFilters(or, " OR "); joined != "" {
			and = append(and, joined)
		}
	}

	for _, e := range expr.MustNot {
		f, err := convertExpressionToFilter(e)
		if err != nil {
			return "", err
		}
		if f != "" {
			and = append(and, "NOT ("+f+")")
		}
	}

	return joinFilters(and, " AND "), nil
}

func joinFilters(parts []string, sep string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	wrapped := make([]string, len(parts))
	for i, p := range parts {
		wrapped[i] = "(" + p + ")"
	}
	return strings.Join(wrapped, sep)
}

// convertTermExpression uses a numeric comparison for numbers and a facet
// filter otherwise.
func convertTermExpression(field string, value any) string {
	if isNumeric(value) {
		return fmt.Sprintf("%s = %s", escapeField(field), escapeNumericValue(value))
	}
	return fmt.Sprintf("%s:%s", escapeField(field), escapeValue(value))
}

// convertRangeExpression converts a range expression to Algolia filter syntax
func convertRangeExpression(expr query.RangeExpr) string {
	var filters []string
	add := func(op string, v any) {
		if v != nil {
			filters = append(filters, fmt.Sprintf("%s %s %s", escapeField(expr.Field), op, escapeNumericValue(v)))
		}
	}
	add(">", expr.Gt)
	add(">=", expr.Gte)
	add("<", expr.Lt)
	add("<=", expr.Lte)
	return strings.Join(filters, " AND ")
}

// escapeField escapes field names for Algolia filters
func escapeField(field string) string {
	if strings.ContainsAny(field, " :-()") {
		return fmt.Sprintf(`"%s"`, field)
	}
	return field
}

// escapeValue escapes string values for Algolia filters
func escapeValue(value any) string {
	if value == nil {
		return "null"
	}

	switch v := value.(type) {
	case string:
		escaped := strings.ReplaceAll(v, `"`, `\"`)
		return fmt.Sprintf(`"%s"`, escaped)
	case bool:
		return fmt.Sprintf(`"%s"`, strconv.FormatBool(v))
	default:
		return fmt.Sprintf(`"%v"`, value)
	}
}

// escapeNumericValue escapes numeric values for Algolia filters. Times are
// compared as Unix seconds.
func escapeNumericValue(value any) string {
	if value == nil {
		return "0"
	}

	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	case time.Time:
		return strconv.FormatInt(v.Unix(), 10)
	default:
		if str := fmt.Sprintf("%v", value); str != "" {
			if _, err := strconv.ParseFloat(str, 64); err == nil {
				return str
			}
		}
		return escapeValue(value)
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedByCount orders facet values by count descending, then by value.
func sortedByCount(counts map[string]int) []string {
	keys := sortedKeys(counts)
	sort.SliceStable(keys, func(i, j int) bool {
		return counts[keys[i]] > counts[keys[j]]
	})
	return keys
}
