package query

// Expression is a node of a parsed query or filter.
type Expression interface {
	// Source renders the expression back into its request-body form.
	Source() map[string]any
	// expr is a marker method to distinguish expressions from other values.
	expr()
}

// baseExpr provides the expr marker method for all expression types.
type baseExpr struct{}

func (baseExpr) expr() {}

// MatchAllExpr matches every document.
type MatchAllExpr struct {
	baseExpr
}

// Source implements Expression.
func (MatchAllExpr) Source() map[string]any {
	return map[string]any{"match_all": map[string]any{}}
}

// MatchAll creates an expression matching every document.
func MatchAll() Expression {
	return MatchAllExpr{}
}

// BoolExpr combines clauses. Must and Filter clauses are all required.
// Should clauses require at least one match when there is no Must or Filter
// clause, and otherwise only contribute to scoring. MustNot clauses exclude.
type BoolExpr struct {
	baseExpr
	Must    []Expression
	Filter  []Expression
	Should  []Expression
	MustNot []Expression
}

// Source implements Expression.
func (b BoolExpr) Source() map[string]any {
	body := map[string]any{}
	add := func(key string, exprs []Expression) {
		if len(exprs) == 0 {
			return
		}
		out := make([]any, len(exprs))
		for i, e := range exprs {
			out[i] = e.Source()
		}
		body[key] = out
	}
	add("must", b.Must)
	add("filter", b.Filter)
	add("should", b.Should)
	add("must_not", b.MustNot)
	return map[string]any{"bool": body}
}

// And creates a bool expression requiring every expression.
func And(exprs ...Expression) Expression {
	return BoolExpr{Must: exprs}
}

// Or creates a bool expression requiring at least one expression.
func Or(exprs ...Expression) Expression {
	return BoolExpr{Should: exprs}
}

// Not creates a bool expression excluding documents that match expr.
func Not(expr Expression) Expression {
	return BoolExpr{MustNot: []Expression{expr}}
}

// TermExpr matches documents whose field equals Value exactly.
type TermExpr struct {
	baseExpr
	// Field is the name of the field to compare.
	Field string
	// Value is the value to compare against.
	Value any
}

// Source implements Expression.
func (t TermExpr) Source() map[string]any {
	return map[string]any{"term": map[string]any{t.Field: t.Value}}
}

// Eq creates an exact equality expression.
func Eq(field string, value any) Expression {
	return TermExpr{Field: field, Value: value}
}

// TermsExpr matches documents whose field equals any of Values.
type TermsExpr struct {
	baseExpr
	Field  string
	Values []any
}

// Source implements Expression.
func (t TermsExpr) Source() map[string]any {
	return map[string]any{"terms": map[string]any{t.Field: t.Values}}
}

// In creates an expression matching any of values.
func In(field string, values ...any) Expression {
	return TermsExpr{Field: field, Values: values}
}

// MatchExpr is a full-text match of Text against Field. An empty Field, or
// "_all", searches every field.
type MatchExpr struct {
	baseExpr
	Field string
	Text  string
}

// Source implements Expression.
func (m MatchExpr) Source() map[string]any {
	if m.Field == "" || m.Field == "_all" {
		return map[string]any{"query_string": map[string]any{"query": m.Text}}
	}
	return map[string]any{"match": map[string]any{m.Field: m.Text}}
}

// Match creates a full-text match on field.
func Match(field, text string) Expression {
	return MatchExpr{Field: field, Text: text}
}

// QueryString creates a full-text match across all fields.
func QueryString(text string) Expression {
	return MatchExpr{Text: text}
}

// RangeExpr bounds a field. Nil bounds are open.
type RangeExpr struct {
	baseExpr
	// Field is the name of the field to compare.
	Field string
	Gt    any
	Gte   any
	Lt    any
	Lte   any
}

// Source implements Expression.
func (r RangeExpr) Source() map[string]any {
	bounds := map[string]any{}
	for key, v := range map[string]any{"gt": r.Gt, "gte": r.Gte, "lt": r.Lt, "lte": r.Lte} {
		if v != nil {
			bounds[key] = v
		}
	}
	return map[string]any{"range": map[string]any{r.Field: bounds}}
}

// Range creates an inclusive range expression. Either bound may be nil.
func Range(field string, min, max any) Expression {
	return RangeExpr{Field: field, Gte: min, Lte: max}
}

// Gt creates a greater-than expression.
func Gt(field string, value any) Expression {
	return RangeExpr{Field: field, Gt: value}
}

// Gte creates a greater-than-or-equal expression.
func Gte(field string, value any) Expression {
	return RangeExpr{Field: field, Gte: value}
}

// Lt creates a less-than expression.
func Lt(field string, value any) Expression {
	return RangeExpr{Field: field, Lt: value}
}

// Lte creates a less-than-or-equal expression.
func Lte(field string, value any) Expression {
	return RangeExpr{Field: field, Lte: value}
}

// ExistsExpr represents a field existence check expression.
type ExistsExpr struct {
	baseExpr
	// Field is the name of the field to check for existence.
	Field string
}

// Source implements Expression.
func (e ExistsExpr) Source() map[string]any {
	return map[string]any{"exists": map[string]any{"field": e.Field}}
}

// Exists creates a field existence check expression.
func Exists(field string) Expression {
	return ExistsExpr{Field: field}
}
