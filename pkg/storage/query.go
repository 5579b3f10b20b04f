package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// QueryFiltersPrefix introduces a JSON filter in the raw query language.
const QueryFiltersPrefix = "filters:"

// MaxQueryLimit caps the "limit" parameter of a query.
const MaxQueryLimit = 100000

// ParseQuery turns the minimal query language into a filter and limit.
//
// The raw string is either empty (match everything) or "filters:" followed
// by a JSON object in Filter syntax. In params, "limit" sets the result
// limit, capped at MaxQueryLimit; every other key is ANDed into the filter
// as an equality.
func ParseQuery(raw string, params map[string]any) (Filter, int, error) {
	filter := Filter{}
	raw = strings.TrimSpace(raw)

	switch {
	case raw == "":
	case strings.HasPrefix(raw, QueryFiltersPrefix):
		body := strings.TrimSpace(strings.TrimPrefix(raw, QueryFiltersPrefix))
		if body != "" {
			if err := json.Unmarshal([]byte(body), &filter); err != nil {
				return nil, 0, fmt.Errorf("invalid filter JSON: %w", err)
			}
		}
	default:
		return nil, 0, fmt.Errorf("unsupported query %q: expected %q prefix", raw, QueryFiltersPrefix)
	}

	limit := 0
	for k, v := range params {
		if k == "limit" {
			n, ok := toFloat(v)
			if !ok {
				if i, isInt := v.(int); isInt {
					n, ok = float64(i), true
				}
			}
			if !ok || n < 0 || math.IsNaN(n) {
				return nil, 0, fmt.Errorf("limit must be a non-negative number")
			}
			limit = int(min(n, MaxQueryLimit))
			continue
		}
		if _, exists := filter[k]; exists {
			return nil, 0, fmt.Errorf("parameter %q conflicts with filter field", k)
		}
		filter[k] = v
	}

	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	return filter, limit, nil
}
