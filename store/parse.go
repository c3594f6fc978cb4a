package store

import (
	"fmt"
	"sort"
	"strings"
)

// ParseCriteria converts a query document into criteria.
//
// Top level keys are field paths or one of $and, $or, $nor and $where. A field
// value that is a map of operators supports $eq, $ne, $in, $type, $exists and
// $not; any other value is an equality match.
func ParseCriteria(query map[string]any) (Criteria, error) {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var criteria []Criteria
	for _, key := range keys {
		value := query[key]
		var (
			c   Criteria
			err error
		)
		switch key {
		case "$and", "$or", "$nor":
			var subs []Criteria
			subs, err = parseList(value)
			switch key {
			case "$and":
				c = And(subs...)
			case "$or":
				c = Or(subs...)
			default:
				c = Not(Or(subs...))
			}
		case "$where":
			expression, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("$where requires a string but got %T", value)
			}
			c, err = Where(expression)
		default:
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("unknown operator %s", key)
			}
			c, err = parseField(key, value)
		}
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}
	if len(criteria) == 1 {
		return criteria[0], nil
	}
	return And(criteria...), nil
}

func parseList(value any) ([]Criteria, error) {
	var queries []map[string]any
	switch t := value.(type) {
	case []map[string]any:
		queries = t
	case []any:
		for _, v := range t {
			q, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected query document but got %T", v)
			}
			queries = append(queries, q)
		}
	default:
		return nil, fmt.Errorf("expected list of query documents but got %T", value)
	}
	out := make([]Criteria, 0, len(queries))
	for _, q := range queries {
		c, err := ParseCriteria(q)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func isOperatorMap(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func parseField(path string, value any) (Criteria, error) {
	ops, ok := isOperatorMap(value)
	if !ok {
		return Eq(path, value), nil
	}
	names := make([]string, 0, len(ops))
	for k := range ops {
		names = append(names, k)
	}
	sort.Strings(names)

	var criteria []Criteria
	for _, name := range names {
		arg := ops[name]
		switch name {
		case "$eq":
			criteria = append(criteria, Eq(path, arg))
		case "$ne":
			criteria = append(criteria, Not(Eq(path, arg)))
		case "$in":
			values, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("$in requires a list but got %T", arg)
			}
			criteria = append(criteria, In(path, values...))
		case "$type":
			typ, err := ParseValueType(arg)
			if err != nil {
				return nil, err
			}
			criteria = append(criteria, Type(path, typ))
		case "$exists":
			want, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("$exists requires a bool but got %T", arg)
			}
			criteria = append(criteria, Exists(path, want))
		case "$not":
			sub, err := parseField(path, arg)
			if err != nil {
				return nil, err
			}
			criteria = append(criteria, Not(sub))
		default:
			return nil, fmt.Errorf("unknown operator %s", name)
		}
	}
	if len(criteria) == 1 {
		return criteria[0], nil
	}
	return And(criteria...), nil
}
