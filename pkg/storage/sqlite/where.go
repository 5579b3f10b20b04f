package sqlite

import (
	"strings"

	"mercator-hq/unistore/pkg/storage"
)

// whereClause is a compiled filter. Conditions SQL cannot express exactly
// (equality against arrays and objects) are left in residual and evaluated
// in Go after the rows are decoded.
type whereClause struct {
	conds    []string
	args     []any
	residual []storage.Condition
}

// compileFilter translates filter into bound SQL predicates over the JSON
// document in the data column. The json_type guards make every predicate
// agree with storage.MatchConditions: numbers compare only with numbers,
// strings only with strings, and a missing field never yields NULL.
func compileFilter(op string, filter storage.Filter) (whereClause, error) {
	var w whereClause
	conds, err := filter.Conditions()
	if err != nil {
		return w, storage.NewValidationError(BackendType, op, err.Error())
	}

	for _, c := range conds {
		expr, args, ok := compileCondition(c)
		if !ok {
			w.residual = append(w.residual, c)
			continue
		}
		w.conds = append(w.conds, expr)
		w.args = append(w.args, args...)
	}
	return w, nil
}

// expr renders the predicates joined with AND; "1" when there are none.
func (w whereClause) expr() string {
	if len(w.conds) == 0 {
		return "1"
	}
	return strings.Join(w.conds, " AND ")
}

// exact reports whether SQL alone decides the result, so LIMIT and COUNT
// can be pushed down.
func (w whereClause) exact() bool {
	return len(w.residual) == 0
}

// match applies the residual conditions.
func (w whereClause) match(rec storage.Record) bool {
	return storage.MatchConditions(rec, w.residual)
}

func compileCondition(c storage.Condition) (string, []any, bool) {
	path := jsonPath(c.Field)

	switch c.Operator {
	case storage.OpEq:
		if c.Value == nil {
			return "COALESCE(json_type(data, ?), 'null') = 'null'", []any{path}, true
		}
		return equals(path, c.Value)

	case storage.OpNe:
		if c.Value == nil {
			return "COALESCE(json_type(data, ?), 'null') <> 'null'", []any{path}, true
		}
		expr, args, ok := equals(path, c.Value)
		if !ok {
			return "", nil, false
		}
		return "NOT " + expr, args, true

	case storage.OpIn, storage.OpNin:
		expr, args, ok := member(path, c.Value.([]any))
		if !ok {
			return "", nil, false
		}
		if c.Operator == storage.OpNin {
			return "NOT " + expr, args, true
		}
		return expr, args, true

	case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
		cmp := map[string]string{
			storage.OpGt: ">", storage.OpGte: ">=", storage.OpLt: "<", storage.OpLte: "<=",
		}[c.Operator]
		switch v := c.Value.(type) {
		case float64:
			return "(" + typeIn(numberTypes) + " AND json_extract(data, ?) " + cmp + " ?)", []any{path, path, v}, true
		case string:
			return "(" + typeIn(textTypes) + " AND json_extract(data, ?) " + cmp + " ?)", []any{path, path, v}, true
		}

	case storage.OpLike:
		return "(" + typeIn(textTypes) + " AND json_extract(data, ?) LIKE ?)", []any{path, path, c.Value}, true
	}
	return "", nil, false
}

// equals matches a present field equal to v. The expression is never NULL,
// so it can be negated safely.
func equals(path string, v any) (string, []any, bool) {
	switch val := v.(type) {
	case nil:
		return "COALESCE(json_type(data, ?), '') = 'null'", []any{path}, true
	case bool:
		lit := "'false'"
		if val {
			lit = "'true'"
		}
		return "COALESCE(json_type(data, ?), '') = " + lit, []any{path}, true
	case float64:
		return "(" + typeIn(numberTypes) + " AND json_extract(data, ?) = ?)", []any{path, path, val}, true
	case string:
		return "(" + typeIn(textTypes) + " AND json_extract(data, ?) = ?)", []any{path, path, val}, true
	}
	return "", nil, false
}

// member ORs equals over the candidates; an empty list matches nothing.
func member(path string, candidates []any) (string, []any, bool) {
	if len(candidates) == 0 {
		return "0", nil, true
	}
	parts := make([]string, 0, len(candidates))
	var args []any
	for _, cand := range candidates {
		expr, a, ok := equals(path, cand)
		if !ok {
			return "", nil, false
		}
		parts = append(parts, expr)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, true
}

var (
	numberTypes = []string{"integer", "real"}
	textTypes   = []string{"text"}
)

// typeIn tests json_type against literal type names; it binds the path once.
func typeIn(types []string) string {
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = "'" + t + "'"
	}
	return "COALESCE(json_type(data, ?), '') IN (" + strings.Join(quoted, ", ") + ")"
}

// jsonPath renders a dotted field as a quoted JSON path, e.g. $."a"."b".
// Field names are validated by storage.Filter and never contain quotes.
func jsonPath(field string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, part := range strings.Split(field, ".") {
		sb.WriteString(`."`)
		sb.WriteString(part)
		sb.WriteString(`"`)
	}
	return sb.String()
}
