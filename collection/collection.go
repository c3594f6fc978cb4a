package collection

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Collection is an ordered keyed container.
//
// Keys are strings; integer keys are stored in their decimal form. Values appended
// with Add receive the next free integer key, so a collection built only from Add
// behaves like a list while removals leave gaps in its keys.
type Collection struct {
	keys  []string
	items map[string]any
	next  int
}

// New returns a collection containing the given values keyed 0..n-1.
func New(values ...any) *Collection {
	c := &Collection{
		keys:  make([]string, 0, len(values)),
		items: make(map[string]any, len(values)),
	}
	for _, v := range values {
		c.Add(v)
	}
	return c
}

// Of converts the given value into a collection.
//
// Slices keep their order. Maps with string or integer keys are ordered with
// integer keys first in ascending order followed by the remaining keys sorted.
func Of(value any) (*Collection, error) {
	switch t := value.(type) {
	case nil:
		return New(), nil
	case *Collection:
		if t == nil {
			return New(), nil
		}
		return t, nil
	case []any:
		return New(t...), nil
	case map[string]any:
		c := New()
		for _, k := range SortKeys(keysOf(t)) {
			c.Set(k, t[k])
		}
		return c, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		c := New()
		for i := 0; i < rv.Len(); i++ {
			c.Add(rv.Index(i).Interface())
		}
		return c, nil
	case reflect.Map:
		vals := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key()
			switch k.Kind() {
			case reflect.String:
				vals[k.String()] = iter.Value().Interface()
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				vals[strconv.FormatInt(k.Int(), 10)] = iter.Value().Interface()
			default:
				return nil, fmt.Errorf("unsupported map key type %s", k.Type())
			}
		}
		return Of(vals)
	}
	return nil, fmt.Errorf("value of type %T is not a collection", value)
}

// Add appends the value using the next integer key and returns that key.
func (c *Collection) Add(value any) string {
	key := strconv.Itoa(c.next)
	c.Set(key, value)
	return key
}

// Set assigns the value to the given key. New keys are appended to the end.
func (c *Collection) Set(key string, value any) {
	if c.items == nil {
		c.items = make(map[string]any)
	}
	if _, ok := c.items[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.items[key] = value
	if n, err := strconv.Atoi(key); err == nil && n >= c.next {
		c.next = n + 1
	}
}

// Get returns the value stored at key.
func (c *Collection) Get(key string) (any, bool) {
	v, ok := c.items[key]
	return v, ok
}

// Remove deletes the key and returns the value that was stored.
func (c *Collection) Remove(key string) (any, bool) {
	v, ok := c.items[key]
	if !ok {
		return nil, false
	}
	delete(c.items, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// RemoveValue deletes the first element equal to the given value.
func (c *Collection) RemoveValue(value any) bool {
	for _, k := range c.keys {
		if same(c.items[k], value) {
			c.Remove(k)
			return true
		}
	}
	return false
}

// Len returns the number of elements.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Keys returns the keys in order.
func (c *Collection) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Values returns the values in key order.
func (c *Collection) Values() []any {
	if c == nil {
		return nil
	}
	out := make([]any, len(c.keys))
	for i, k := range c.keys {
		out[i] = c.items[k]
	}
	return out
}

// At returns the key and value at the given position.
func (c *Collection) At(i int) (string, any) {
	k := c.keys[i]
	return k, c.items[k]
}

// Each calls fn for every element in order until fn returns false.
func (c *Collection) Each(fn func(key string, value any) bool) {
	if c == nil {
		return
	}
	for _, k := range c.keys {
		if !fn(k, c.items[k]) {
			return
		}
	}
}

// Map returns the elements as a map keyed by their keys.
func (c *Collection) Map() map[string]any {
	out := make(map[string]any, c.Len())
	c.Each(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

// Clone returns a shallow copy.
func (c *Collection) Clone() *Collection {
	return c.CloneWith(func(v any) any { return v })
}

// CloneWith returns a copy with every value replaced by fn(value). Keys are kept.
func (c *Collection) CloneWith(fn func(any) any) *Collection {
	out := &Collection{
		keys:  make([]string, 0, c.Len()),
		items: make(map[string]any, c.Len()),
	}
	c.Each(func(k string, v any) bool {
		out.Set(k, fn(v))
		return true
	})
	if c != nil && c.next > out.next {
		out.next = c.next
	}
	return out
}

// Reindex returns a new collection holding the same values keyed 0..n-1.
func (c *Collection) Reindex() *Collection {
	return New(c.Values()...)
}

// SortKeys orders integer keys numerically before all other keys.
func SortKeys(keys []string) []string {
	sort.SliceStable(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

func same(a, b any) bool {
	t := reflect.TypeOf(a)
	if t == nil || !t.Comparable() {
		return a == nil && b == nil
	}
	return a == b
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
