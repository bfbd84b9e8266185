package statestore

import (
	"fmt"
	"reflect"
)

// ClampRange bounds a numeric field's value after a $increment. Keyed by the
// final path segment name (e.g. "trust_level") in [ApplyDelta]'s clamps
// argument.
type ClampRange struct {
	Min, Max float64
}

// defaultClamps are the domain-bounded numeric fields the spec calls out by
// example: relationship trust is bounded to [0,100].
var defaultClamps = map[string]ClampRange{
	"trust_level": {Min: 0, Max: 100},
}

// ApplyDelta recursively merges updates into target in place. Leaves of
// updates are either plain replacement values or single-key operator maps
// (`$append`, `$remove`, `$update`, `$set`, `$increment`, `$limit`); every
// other branch is merged key by key. It reports whether the merge changed a
// plain value at any depth or applied any operator (an operator counts as a
// change even when it leaves the value as it was).
func ApplyDelta(target map[string]any, updates map[string]any) (bool, error) {
	changed := false
	for key, upd := range updates {
		result, sub, err := applyValue(key, target[key], upd)
		if err != nil {
			return changed, fmt.Errorf("%s: %w", key, err)
		}
		if sub || !reflect.DeepEqual(target[key], result) {
			changed = true
		}
		target[key] = result
	}
	return changed, nil
}

// applyValue applies a single update value against current, keyed by key
// (used to look up field-specific clamps for $increment). Nested maps are
// merged into current in place; the bool result reports whether an operator
// was applied or a plain value changed anywhere below this point.
func applyValue(key string, current any, update any) (any, bool, error) {
	updMap, ok := update.(map[string]any)
	if !ok {
		return update, false, nil
	}

	if op, value, isOp := extractOperator(updMap); isOp {
		result, err := applyOperator(key, current, op, value)
		return result, true, err
	}

	curMap, ok := current.(map[string]any)
	if !ok || curMap == nil {
		curMap = make(map[string]any, len(updMap))
	}
	changed := false
	for k, v := range updMap {
		result, sub, err := applyValue(k, curMap[k], v)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", k, err)
		}
		if sub || !reflect.DeepEqual(curMap[k], result) {
			changed = true
		}
		curMap[k] = result
	}
	return curMap, changed, nil
}

// extractOperator reports whether m is a single-key operator leaf and, if
// so, returns its operator name and operand.
func extractOperator(m map[string]any) (string, any, bool) {
	if len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		switch k {
		case "$append", "$remove", "$update", "$set", "$increment", "$limit":
			return k, v, true
		}
	}
	return "", nil, false
}

func applyOperator(key string, current any, op string, value any) (any, error) {
	switch op {
	case "$set":
		return value, nil

	case "$append":
		list := toSlice(current)
		return append(list, value), nil

	case "$remove":
		pred, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: $remove requires an object predicate", ErrInvalidDelta)
		}
		list := toSlice(current)
		out := make([]any, 0, len(list))
		for _, item := range list {
			if !matchesPredicate(item, pred) {
				out = append(out, item)
			}
		}
		return out, nil

	case "$update":
		patches, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: $update requires an array of patches", ErrInvalidDelta)
		}
		list := toSlice(current)
		for _, item := range list {
			itemMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, p := range patches {
				patch, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if !matchesPredicate(itemMap, patch) {
					continue
				}
				for k, v := range patch {
					itemMap[k] = v
				}
			}
		}
		return list, nil

	case "$increment":
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: $increment requires a number", ErrInvalidDelta)
		}
		cur, _ := toFloat(current)
		result := cur + n
		if clamp, ok := defaultClamps[key]; ok {
			if result < clamp.Min {
				result = clamp.Min
			}
			if result > clamp.Max {
				result = clamp.Max
			}
		}
		return result, nil

	case "$limit":
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: $limit requires a number", ErrInvalidDelta)
		}
		list := toSlice(current)
		limit := int(n)
		if limit < 0 {
			limit = 0
		}
		if len(list) > limit {
			list = list[len(list)-limit:]
		}
		return list, nil
	}

	return current, fmt.Errorf("%w: unknown operator %q", ErrInvalidDelta, op)
}

// matchesPredicate reports whether item (expected to be a map) satisfies
// every field=value condition in pred (an AND of field equalities, matching
// on instance_id or any other field per §4.2's $remove/$update contract).
func matchesPredicate(item any, pred map[string]any) bool {
	itemMap, ok := item.(map[string]any)
	if !ok {
		return false
	}
	for k, want := range pred {
		if !reflect.DeepEqual(itemMap[k], want) {
			return false
		}
	}
	return true
}

func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
