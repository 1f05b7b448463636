package chi

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
)

// filtersFromJSON turns the wire filter map into a conjunction. Keys are visited in
// sorted order so equal maps produce equal expressions.
func filtersFromJSON(m map[string]any, sch schema.Schema) (filter.Expression, error) {
	if len(m) == 0 {
		return filter.Expression{}, nil
	}

	must := make([]filter.Condition, 0, len(m))
	for _, key := range slices.Sorted(maps.Keys(m)) {
		cond, err := conditionFromJSON(key, m[key], sch)
		if err != nil {
			return filter.Expression{}, err
		}
		must = append(must, cond)
	}

	expr, err := filter.NewExpression(must, nil, nil)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionFromJSON(key string, v any, sch schema.Schema) (filter.Condition, error) {
	f, known := sch.Lookup(key)

	switch val := v.(type) {
	case string:
		cond, err := filter.NewMatch(key, val)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("match filter: %w", err)
		}
		return cond, nil
	case float64:
		if known && f.FieldType() == schema.Tag {
			cond, err := filter.NewMatch(key, strconv.FormatFloat(val, 'f', -1, 64))
			if err != nil {
				return filter.Condition{}, fmt.Errorf("match filter: %w", err)
			}
			return cond, nil
		}
		return rangeCondition(key, nil, &val, nil, &val)
	case map[string]any:
		return rangeFromJSON(key, val)
	default:
		return filter.Condition{}, fmt.Errorf("%w: filter %q must be a string, number or range object",
			domain.ErrInvalidQuery, key)
	}
}

func rangeFromJSON(key string, m map[string]any) (filter.Condition, error) {
	var bounds [4]*float64
	for op, raw := range m {
		n, ok := raw.(float64)
		if !ok {
			return filter.Condition{}, fmt.Errorf("%w: filter %q: %s must be a number",
				domain.ErrInvalidQuery, key, op)
		}
		switch op {
		case "gt":
			bounds[0] = &n
		case "gte":
			bounds[1] = &n
		case "lt":
			bounds[2] = &n
		case "lte":
			bounds[3] = &n
		default:
			return filter.Condition{}, fmt.Errorf("%w: filter %q: unknown range operator %q",
				domain.ErrInvalidQuery, key, op)
		}
	}
	return rangeCondition(key, bounds[0], bounds[1], bounds[2], bounds[3])
}

func rangeCondition(key string, gt, gte, lt, lte *float64) (filter.Condition, error) {
	rf, err := filter.NewRangeFilter(gt, gte, lt, lte)
	if err != nil {
		return filter.Condition{}, fmt.Errorf("range filter: %w", err)
	}
	cond, err := filter.NewRange(key, rf)
	if err != nil {
		return filter.Condition{}, fmt.Errorf("range condition: %w", err)
	}
	return cond, nil
}

// ParseFilters decodes a JSON filter map.
func ParseFilters(raw []byte, sch schema.Schema) (filter.Expression, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return filter.Expression{}, fmt.Errorf("%w: filters: %w", domain.ErrInvalidQuery, err)
	}
	return filtersFromJSON(m, sch)
}
