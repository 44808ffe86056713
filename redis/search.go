package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx"
	"github.com/letmevibethatforyou/recordx/query"
	"github.com/redis/rueidis"
	"github.com/spf13/cast"
)

// Search implements recordx.Type with FT.SEARCH. Facets run as one
// FT.AGGREGATE per facet over the same query.
func (t *Type) Search(ctx context.Context, criteria recordx.Criteria) (resp *recordx.SearchResponse, err error) {
	ctx, span := t.client().startSpan(ctx, "search", t.index.name)
	defer func() { endSpan(span, err, "search failed") }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(t.index.name); err != nil {
		return nil, err
	}

	req, err := query.Parse(criteria)
	if err != nil {
		return nil, err
	}
	q, err := buildQuery(t.name, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cmd := t.client().b().Arbitrary("FT.SEARCH").Args(searchArgs(t.index.name, q, req)...).Build()
	raw, err := t.client().do(ctx, cmd).ToArray()
	if err != nil {
		return nil, wrapErr(err, "search %s", t.index.name)
	}

	resp, err = t.parseSearchResult(raw)
	if err != nil {
		return nil, err
	}

	if len(req.Facets) > 0 {
		resp.Facets = make(map[string]any, len(req.Facets))
		for _, f := range req.Facets {
			facet, err := t.aggregate(ctx, q, f)
			if err != nil {
				return nil, err
			}
			resp.Facets[f.Name] = facet
		}
	}
	resp.Took = time.Since(start).Milliseconds()
	return resp, nil
}

func searchArgs(index, q string, req *query.Request) []string {
	args := []string{index, q, "WITHSCORES"}
	if len(req.Sort) > 0 && req.Sort[0].Field != recordx.MetaScore {
		order := "ASC"
		if req.Sort[0].Desc {
			order = "DESC"
		}
		args = append(args, "SORTBY", req.Sort[0].Field, order)
	}
	return append(args,
		"LIMIT", strconv.Itoa(req.From), strconv.Itoa(req.Size),
		"DIALECT", "2",
	)
}

// parseSearchResult reads the 3-stride WITHSCORES reply:
// [total, key1, score1, fields1, key2, score2, fields2, ...].
func (t *Type) parseSearchResult(raw []rueidis.RedisMessage) (*recordx.SearchResponse, error) {
	resp := &recordx.SearchResponse{Hits: []recordx.Hit{}}
	if len(raw) == 0 {
		return resp, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, errors.Wrap(err, "parse total")
	}
	resp.Total = total

	prefix := t.index.name + ":" + t.name + ":"
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}

		var object map[string]any
		if doc, ok := parseFieldPairs(fields)["$"]; ok {
			if err := json.Unmarshal([]byte(doc), &object); err != nil {
				return nil, errors.Wrapf(err, "decode %s", key)
			}
		}
		source, meta := t.split(strings.TrimPrefix(key, prefix), object)
		meta[recordx.MetaScore] = score
		resp.Hits = append(resp.Hits, recordx.Hit{Source: source, Meta: meta})
	}
	return resp, nil
}

// aggregate counts the values of one facet field with FT.AGGREGATE.
func (t *Type) aggregate(ctx context.Context, q string, f query.Facet) (map[string]any, error) {
	cmd := t.client().b().Arbitrary("FT.AGGREGATE").Args(
		t.index.name, q,
		"GROUPBY", "1", "@"+f.Field,
		"REDUCE", "COUNT", "0", "AS", "count",
		"SORTBY", "4", "@count", "DESC", "@"+f.Field, "ASC",
		"DIALECT", "2",
	).Build()
	raw, err := t.client().do(ctx, cmd).ToArray()
	if err != nil {
		return nil, wrapErr(err, "aggregate %s on %s", f.Field, t.index.name)
	}

	terms := make([]any, 0, f.FacetSize())
	total := 0
	// [total_groups, row1, row2, ...] where each row is a field/value list.
	for i := 1; i < len(raw); i++ {
		row, err := raw[i].ToArray()
		if err != nil {
			continue
		}
		pairs := parseFieldPairs(row)
		count, err := strconv.Atoi(pairs["count"])
		if err != nil {
			continue
		}
		total += count
		if len(terms) < f.FacetSize() {
			terms = append(terms, map[string]any{"term": pairs[f.Field], "count": count})
		}
	}
	return map[string]any{
		"_type": "terms",
		"terms": terms,
		"total": total,
	}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// buildQuery renders a request as a RediSearch query restricted to
// documents of typeName.
func buildQuery(typeName string, req *query.Request) (string, error) {
	parts := []string{buildTag(typeKey, typeName)}
	for _, e := range []query.Expression{req.Query, req.Filter} {
		s, err := convertExpression(e)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

// convertExpression converts an expression to RediSearch query syntax.
func convertExpression(expr query.Expression) (string, error) {
	switch e := expr.(type) {
	case nil, query.MatchAllExpr:
		return "", nil
	case query.BoolExpr:
		return convertBool(e)
	case query.TermExpr:
		return convertTerm(e.Field, e.Value)
	case query.TermsExpr:
		parts := make([]string, 0, len(e.Values))
		for _, v := range e.Values {
			s, err := convertTerm(e.Field, v)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return group(parts, " | "), nil
	case query.MatchExpr:
		text := escapeText(e.Text)
		if e.Field == "" || e.Field == "_all" {
			return text, nil
		}
		return fmt.Sprintf("@%s:(%s)", e.Field, text), nil
	case query.RangeExpr:
		return convertRange(e)
	case query.ExistsExpr:
		return "", errors.Wrapf(recordx.ErrNotImplemented, "exists query on %s", e.Field)
	default:
		return "", errors.Wrapf(recordx.ErrNotImplemented, "expression %T", expr)
	}
}

func convertBool(e query.BoolExpr) (string, error) {
	var and []string
	for _, sub := range append(append([]query.Expression{}, e.Must...), e.Filter...) {
		s, err := convertExpression(sub)
		if err != nil {
			return "", err
		}
		if s != "" {
			and = append(and, s)
		}
	}

	// Should clauses only constrain the result when nothing else is required.
	if len(e.Should) > 0 && len(e.Must) == 0 && len(e.Filter) == 0 {
		var or []string
		for _, sub := range e.Should {
			s, err := convertExpression(sub)
			if err != nil {
				return "", err
			}
			if s == "" {
				// A match-all alternative satisfies the group.
				or = nil
				break
			}
			or = append(or, s)
		}
		if len(or) > 0 {
			and = append(and, group(or, " | "))
		}
	}

	for _, sub := range e.MustNot {
		s, err := convertExpression(sub)
		if err != nil {
			return "", err
		}
		if s == "" {
			return "", errors.Wrap(recordx.ErrInvalidCriteria, "must_not match_all")
		}
		and = append(and, "-("+s+")")
	}

	if len(and) == 0 {
		return "", nil
	}
	return "(" + strings.Join(and, " ") + ")", nil
}

// convertTerm uses a single-point numeric range for numbers and a tag match
// otherwise.
func convertTerm(field string, value any) (string, error) {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		n := formatNumber(cast.ToFloat64(v))
		return fmt.Sprintf("@%s:[%s %s]", field, n, n), nil
	case time.Time:
		return buildTag(field, v.UTC().Format(time.RFC3339Nano)), nil
	case nil:
		return "", errors.Wrapf(recordx.ErrInvalidCriteria, "term on %s has no value", field)
	default:
		return buildTag(field, cast.ToString(v)), nil
	}
}

func convertRange(e query.RangeExpr) (string, error) {
	lower, upper := "-inf", "+inf"
	bound := func(v any, exclusive bool) (string, error) {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return "", errors.WithSecondaryError(
				errors.Wrapf(recordx.ErrNotImplemented, "non-numeric range on %s", e.Field),
				err,
			)
		}
		if exclusive {
			return "(" + formatNumber(f), nil
		}
		return formatNumber(f), nil
	}

	var err error
	switch {
	case e.Gt != nil:
		lower, err = bound(e.Gt, true)
	case e.Gte != nil:
		lower, err = bound(e.Gte, false)
	}
	if err != nil {
		return "", err
	}
	switch {
	case e.Lt != nil:
		upper, err = bound(e.Lt, true)
	case e.Lte != nil:
		upper, err = bound(e.Lte, false)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("@%s:[%s %s]", e.Field, lower, upper), nil
}

func group(parts []string, sep string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func buildTag(field, value string) string {
	return fmt.Sprintf("@%s:{%s}", field, tagEscaper.Replace(value))
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// escapeText escapes each word of a full-text query.
func escapeText(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = queryEscaper.Replace(w)
	}
	return strings.Join(words, " ")
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	" ", "\\ ",
)

var queryEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	`@`, `\@`,
	`{`, `\{`,
	`}`, `\}`,
	`(`, `\(`,
	`)`, `\)`,
	`|`, `\|`,
	`-`, `\-`,
	`~`, `\~`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`!`, `\!`,
	`%`, `\%`,
	`^`, `\^`,
	`$`, `\$`,
	`<`, `\<`,
	`>`, `\>`,
	`=`, `\=`,
	`;`, `\;`,
	`+`, `\+`,
	`:`, `\:`,
)
