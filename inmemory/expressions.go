package inmemory

import (
	"fmt"
	"strings"
	"time"

	"github.com/letmevibethatforyou/recordx/query"
	"github.com/spf13/cast"
)

// evaluateExpression reports whether doc matches expr and with which score.
// A nil expression matches everything.
func evaluateExpression(doc Document, expr query.Expression) (bool, float64) {
	switch e := expr.(type) {
	case nil, query.MatchAllExpr:
		return true, 1
	case query.BoolExpr:
		return evaluateBool(doc, e)
	case query.TermExpr:
		return boolScore(evaluateTerm(doc, e.Field, e.Value))
	case query.TermsExpr:
		for _, v := range e.Values {
			if evaluateTerm(doc, e.Field, v) {
				return true, 1
			}
		}
		return false, 0
	case query.MatchExpr:
		score := scoreMatch(doc, e)
		return score > 0, score
	case query.RangeExpr:
		return boolScore(evaluateRange(doc, e))
	case query.ExistsExpr:
		v, ok := lookup(doc.Fields, e.Field)
		return boolScore(ok && v != nil)
	default:
		return false, 0
	}
}

func boolScore(ok bool) (bool, float64) {
	if ok {
		return true, 1
	}
	return false, 0
}

// evaluateBool evaluates a bool expression. Should clauses are required only
// when there is no must or filter clause.
func evaluateBool(doc Document, expr query.BoolExpr) (bool, float64) {
	score := 0.0
	for _, e := range expr.Must {
		ok, s := evaluateExpression(doc, e)
		if !ok {
			return false, 0
		}
		score += s
	}
	for _, e := range expr.Filter {
		if ok, _ := evaluateExpression(doc, e); !ok {
			return false, 0
		}
	}
	for _, e := range expr.MustNot {
		if ok, _ := evaluateExpression(doc, e); ok {
			return false, 0
		}
	}

	matchedShould := 0
	for _, e := range expr.Should {
		if ok, s := evaluateExpression(doc, e); ok {
			matchedShould++
			score += s
		}
	}
	if len(expr.Should) > 0 && len(expr.Must) == 0 && len(expr.Filter) == 0 && matchedShould == 0 {
		return false, 0
	}

	if score == 0 {
		score = 1
	}
	return true, score
}

// evaluateTerm checks field equality. Array fields match when any element does.
func evaluateTerm(doc Document, field string, value any) bool {
	docValue, exists := lookup(doc.Fields, field)
	if !exists {
		return value == nil
	}
	if items, ok := docValue.([]any); ok {
		for _, item := range items {
			if compareEqual(item, value) {
				return true
			}
		}
		return false
	}
	return compareEqual(docValue, value)
}

// evaluateRange evaluates a range expression.
func evaluateRange(doc Document, expr query.RangeExpr) bool {
	docValue, exists := lookup(doc.Fields, expr.Field)
	if !exists || docValue == nil {
		return false
	}

	if expr.Gt != nil && compareValues(docValue, expr.Gt) <= 0 {
		return false
	}
	if expr.Gte != nil && compareValues(docValue, expr.Gte) < 0 {
		return false
	}
	if expr.Lt != nil && compareValues(docValue, expr.Lt) >= 0 {
		return false
	}
	if expr.Lte != nil && compareValues(docValue, expr.Lte) > 0 {
		return false
	}
	return true
}

// scoreMatch calculates the relevance score of doc for a full-text match.
// Every query term found adds one point per matching field; matching all
// terms boosts the score by half.
func scoreMatch(doc Document, expr query.MatchExpr) float64 {
	terms := strings.Fields(strings.ToLower(expr.Text))
	if len(terms) == 0 {
		return 1.0
	}

	var values []any
	if expr.Field == "" || expr.Field == "_all" {
		for _, v := range doc.Fields {
			values = append(values, v)
		}
	} else if v, ok := lookup(doc.Fields, expr.Field); ok {
		values = append(values, v)
	}

	score := 0.0
	matchedTerms := 0
	for _, term := range terms {
		termMatched := false
		for _, value := range values {
			if valueContainsTerm(value, term) {
				termMatched = true
				score += 1.0
			}
		}
		if termMatched {
			matchedTerms++
		}
	}

	if matchedTerms == 0 {
		return 0
	}
	if matchedTerms == len(terms) {
		score *= 1.5
	}
	return score
}

// valueContainsTerm checks if a value contains the search term.
func valueContainsTerm(value any, term string) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(strings.ToLower(v), term)
	case []any:
		for _, item := range v {
			if valueContainsTerm(item, term) {
				return true
			}
		}
	case map[string]any:
		for _, item := range v {
			if valueContainsTerm(item, term) {
				return true
			}
		}
	default:
		str := fmt.Sprintf("%v", v)
		return strings.Contains(strings.ToLower(str), term)
	}
	return false
}

// lookup resolves a field, following dots into nested objects.
func lookup(fields map[string]any, field string) (any, bool) {
	if v, ok := fields[field]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}
	nested, ok := fields[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(nested, rest)
}

// compareEqual checks if two values are equal.
func compareEqual(v1, v2 any) bool {
	if v1 == nil || v2 == nil {
		return v1 == v2
	}
	return compareValues(v1, v2) == 0
}

// compareValues orders two values: nil first, then times, numbers, and
// finally the string forms.
func compareValues(v1, v2 any) int {
	if v1 == nil && v2 == nil {
		return 0
	}
	if v1 == nil {
		return -1
	}
	if v2 == nil {
		return 1
	}

	t1, isTime1 := v1.(time.Time)
	t2, isTime2 := v2.(time.Time)
	if isTime1 || isTime2 {
		var err1, err2 error
		if !isTime1 {
			t1, err1 = cast.ToTimeE(v1)
		}
		if !isTime2 {
			t2, err2 = cast.ToTimeE(v2)
		}
		if err1 == nil && err2 == nil {
			return t1.Compare(t2)
		}
	}

	if f1, ok1 := toFloat64(v1); ok1 {
		if f2, ok2 := toFloat64(v2); ok2 {
			if f1 < f2 {
				return -1
			} else if f1 > f2 {
				return 1
			}
			return 0
		}
	}

	return strings.Compare(fmt.Sprintf("%v", v1), fmt.Sprintf("%v", v2))
}

// toFloat64 attempts to convert a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
