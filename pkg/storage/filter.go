package storage

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Filter operators.
const (
	OpEq   = "$eq"
	OpNe   = "$ne"
	OpIn   = "$in"
	OpNin  = "$nin"
	OpGt   = "$gt"
	OpGte  = "$gte"
	OpLt   = "$lt"
	OpLte  = "$lte"
	OpLike = "$like"
)

// Filter maps a field name to either a literal (equality) or an operator
// map such as {"$gt": 5}. Conditions are combined with AND semantics.
type Filter map[string]any

// Condition is one compiled field predicate.
type Condition struct {
	Field    string
	Operator string
	Value    any
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z_][A-Za-z0-9_\-]*)*$`)

// Conditions validates the filter and expands it into a list of conditions,
// sorted by field then operator so every backend sees the same order.
func (f Filter) Conditions() ([]Condition, error) {
	var conds []Condition
	for field, raw := range f {
		if !fieldNamePattern.MatchString(field) {
			return nil, fmt.Errorf("invalid filter field %q", field)
		}

		ops, isOps := operatorMap(raw)
		if !isOps {
			v, err := normalizeValue(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			conds = append(conds, Condition{Field: field, Operator: OpEq, Value: v})
			continue
		}

		for op, operand := range ops {
			v, err := normalizeValue(operand)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			if err := validateOperand(op, v); err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			conds = append(conds, Condition{Field: field, Operator: op, Value: v})
		}
	}

	sort.Slice(conds, func(i, j int) bool {
		if conds[i].Field != conds[j].Field {
			return conds[i].Field < conds[j].Field
		}
		return conds[i].Operator < conds[j].Operator
	})
	return conds, nil
}

// Validate reports whether the filter is well formed.
func (f Filter) Validate() error {
	_, err := f.Conditions()
	return err
}

// operatorMap reports whether raw is an operator object, i.e. a map whose
// keys all start with "$". Maps without operator keys are equality literals.
func operatorMap(raw any) (map[string]any, bool) {
	var m map[string]any
	switch val := raw.(type) {
	case map[string]any:
		m = val
	case Record:
		m = val
	case Filter:
		m = val
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func validateOperand(op string, v any) error {
	switch op {
	case OpEq, OpNe:
		return nil
	case OpIn, OpNin:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("operator %s requires a list", op)
		}
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		switch v.(type) {
		case float64, string:
			return nil
		}
		return fmt.Errorf("operator %s requires a number or string", op)
	case OpLike:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("operator %s requires a string pattern", op)
		}
		return nil
	}
	return fmt.Errorf("unsupported operator %q", op)
}

// Match reports whether rec satisfies every condition of the filter.
func (f Filter) Match(rec Record) (bool, error) {
	conds, err := f.Conditions()
	if err != nil {
		return false, err
	}
	return MatchConditions(rec, conds), nil
}

// MatchConditions evaluates pre-compiled conditions against rec.
func MatchConditions(rec Record, conds []Condition) bool {
	for _, c := range conds {
		actual, present := lookupField(rec, c.Field)
		if !matchCondition(actual, present, c) {
			return false
		}
	}
	return true
}

// lookupField resolves a field; dotted paths descend into nested maps.
func lookupField(rec Record, field string) (any, bool) {
	if !strings.Contains(field, ".") {
		v, ok := rec[field]
		return v, ok
	}
	var cur any = map[string]any(rec)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchCondition(actual any, present bool, c Condition) bool {
	switch c.Operator {
	case OpEq:
		if c.Value == nil {
			return !present || actual == nil
		}
		return present && valuesEqual(actual, c.Value)
	case OpNe:
		if c.Value == nil {
			return present && actual != nil
		}
		return !present || !valuesEqual(actual, c.Value)
	case OpIn:
		if !present {
			return false
		}
		for _, candidate := range c.Value.([]any) {
			if valuesEqual(actual, candidate) {
				return true
			}
		}
		return false
	case OpNin:
		if !present {
			return true
		}
		for _, candidate := range c.Value.([]any) {
			if valuesEqual(actual, candidate) {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := compareValues(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpLike:
		s, ok := actual.(string)
		if !present || !ok {
			return false
		}
		return likeMatcher(c.Value.(string)).MatchString(s)
	}
	return false
}

func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders numbers against numbers and strings against strings.
// Mixed types are incomparable.
func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// maxLikePatterns bounds likeCache; a full cache is emptied before the next
// pattern is stored.
const maxLikePatterns = 256

var likeCache = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

// likeMatcher translates a SQL LIKE pattern into an anchored regular
// expression. Only ASCII letters fold case, as in SQLite's LIKE.
func likeMatcher(pattern string) *regexp.Regexp {
	likeCache.Lock()
	re, ok := likeCache.m[pattern]
	likeCache.Unlock()
	if ok {
		return re
	}
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch {
		case r == '%':
			sb.WriteString(".*")
		case r == '_':
			sb.WriteString(".")
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			lower := r | 0x20
			sb.WriteString("[" + string(lower) + string(lower-0x20) + "]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re = regexp.MustCompile(sb.String())

	likeCache.Lock()
	if len(likeCache.m) >= maxLikePatterns {
		clear(likeCache.m)
	}
	likeCache.m[pattern] = re
	likeCache.Unlock()
	return re
}

// SortRecords orders records by created_at then id, the listing order every
// backend uses.
func SortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		ci, cj := recs[i].String(FieldCreatedAt), recs[j].String(FieldCreatedAt)
		if ci != cj {
			return ci < cj
		}
		return recs[i].ID() < recs[j].ID()
	})
}
