package collection

import (
	"fmt"
	"math"

	"github.com/nasdf/tapir/codec"
)

// DefaultReplaceThreshold is the percentage of changed elements above which
// a diff is emitted as a single ReplaceAll.
const DefaultReplaceThreshold = 50

// OpKind is the kind of a collection operation.
type OpKind int

const (
	// OpInsert writes a value at a key or index.
	OpInsert OpKind = iota
	// OpRemove deletes the value at a key or index.
	OpRemove
	// OpReplaceAll overwrites the whole collection.
	OpReplaceAll
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpReplaceAll:
		return "replaceAll"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is a single change to a multi-valued field.
type Operation struct {
	Kind OpKind
	// Key is set for keyed operations.
	Key string
	// Index is the position for positional operations. Removals use the old
	// position and inserts the new one.
	Index int
	// Append is set on positional inserts placed after every surviving element.
	Append bool
	// Value is the inserted or removed value.
	Value any
	// Values holds the new ordered values of a ReplaceAll.
	Values []any
}

// Reconciliation selects how old and new collections are matched.
type Reconciliation int

const (
	// Positional matches elements by identity and keeps survivors in order.
	Positional Reconciliation = iota
	// Keyed matches elements by key.
	Keyed
	// Reindexed replaces the collection whenever anything changed.
	Reindexed
	// Union adds missing elements and replaces the collection on removal.
	Union
)

// Comparer identifies and compares collection elements.
type Comparer interface {
	// Identity returns a comparable value naming the element.
	Identity(v any) any
	// Equal reports whether the old element is unchanged in the new one.
	Equal(old, new any) bool
}

// Values compares plain values using codec.Equal.
var Values Comparer = valueComparer{}

type valueComparer struct{}

func (valueComparer) Identity(v any) any {
	switch t := v.(type) {
	case nil, string, bool:
		return v
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint32:
		return int64(t)
	case float32:
		return floatIdentity(float64(t))
	case float64:
		return floatIdentity(t)
	}
	n, err := codec.Encode(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	data, err := codec.Marshal(n)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

func floatIdentity(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func (valueComparer) Equal(old, new any) bool {
	return codec.Equal(old, new)
}

// Diff returns the operations that turn old into new.
//
// A nil result means the collections are equal. The threshold is a percentage; when more
// than one element is removed or modified and that count exceeds threshold percent of the
// collection, a single ReplaceAll is returned instead.
func Diff(old, new *Collection, mode Reconciliation, cmp Comparer, threshold int) []Operation {
	if cmp == nil {
		cmp = Values
	}
	switch mode {
	case Keyed:
		return diffKeyed(old, new, cmp, threshold)
	case Reindexed:
		return diffReindexed(old, new, cmp)
	case Union:
		return diffUnion(old, new, cmp)
	default:
		return diffPositional(old, new, cmp, threshold)
	}
}

func replaceAll(new *Collection) []Operation {
	return []Operation{{Kind: OpReplaceAll, Values: new.Values()}}
}

func exceeds(changes, size, threshold int) bool {
	return changes > 1 && changes*100 > threshold*size
}

func diffKeyed(old, new *Collection, cmp Comparer, threshold int) []Operation {
	var ops []Operation
	old.Each(func(k string, v any) bool {
		if _, ok := new.Get(k); !ok {
			ops = append(ops, Operation{Kind: OpRemove, Key: k, Value: v})
		}
		return true
	})
	new.Each(func(k string, v any) bool {
		ov, ok := old.Get(k)
		if !ok || cmp.Identity(ov) != cmp.Identity(v) || !cmp.Equal(ov, v) {
			ops = append(ops, Operation{Kind: OpInsert, Key: k, Value: v})
		}
		return true
	})
	if exceeds(len(ops), max(old.Len(), new.Len()), threshold) {
		return replaceAll(new)
	}
	return ops
}

func diffReindexed(old, new *Collection, cmp Comparer) []Operation {
	if old.Len() != new.Len() {
		return replaceAll(new)
	}
	ov, nv := old.Values(), new.Values()
	for i := range ov {
		if cmp.Identity(ov[i]) != cmp.Identity(nv[i]) || !cmp.Equal(ov[i], nv[i]) {
			return replaceAll(new)
		}
	}
	return nil
}

// maxMatchCells bounds the table used to pair the changed middle of two collections.
const maxMatchCells = 1 << 22

// match pairs new elements with old elements of the same identity so that paired
// elements keep their relative order and as many elements as possible are paired.
// It returns the old index for each new element or -1 and the list of unmatched old indexes.
func match(old, new *Collection, cmp Comparer) ([]int, []int) {
	ov, nv := identities(old, cmp), identities(new, cmp)
	pairs := make([]int, len(nv))
	for i := range pairs {
		pairs[i] = -1
	}

	start := 0
	for start < len(ov) && start < len(nv) && ov[start] == nv[start] {
		pairs[start] = start
		start++
	}
	a, b := ov[start:], nv[start:]
	if len(a)*len(b) <= maxMatchCells {
		matchCommon(a, b, pairs[start:], start)
	} else {
		matchFirst(a, b, pairs[start:], start)
	}

	paired := make([]bool, len(ov))
	for _, oi := range pairs {
		if oi >= 0 {
			paired[oi] = true
		}
	}
	var removed []int
	for oi, ok := range paired {
		if !ok {
			removed = append(removed, oi)
		}
	}
	return pairs, removed
}

func identities(c *Collection, cmp Comparer) []any {
	values := c.Values()
	ids := make([]any, len(values))
	for i, v := range values {
		ids[i] = cmp.Identity(v)
	}
	return ids
}

// matchCommon pairs the longest common subsequence of a and b. Among equally long
// pairings it prefers the earliest elements of b, so appended duplicates stay appends.
func matchCommon(a, b []any, pairs []int, offset int) {
	n, m := len(a), len(b)
	width := m + 1
	lcs := make([]int, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				lcs[i*width+j] = lcs[(i+1)*width+j+1] + 1
			default:
				lcs[i*width+j] = max(lcs[(i+1)*width+j], lcs[i*width+j+1])
			}
		}
	}
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] == b[j]:
			pairs[j] = offset + i
			i++
			j++
		case lcs[(i+1)*width+j] >= lcs[i*width+j+1]:
			i++
		default:
			j++
		}
	}
}

// matchFirst pairs every element of b with the first unpaired element of a with the
// same identity.
func matchFirst(a, b []any, pairs []int, offset int) {
	pending := make(map[any][]int, len(a))
	for i, id := range a {
		pending[id] = append(pending[id], i)
	}
	for j, id := range b {
		queue := pending[id]
		if len(queue) == 0 {
			continue
		}
		pairs[j] = offset + queue[0]
		pending[id] = queue[1:]
	}
}

// ordered reports whether survivors keep their relative order and precede every new element.
func ordered(pairs []int) bool {
	last := -1
	inserted := false
	for _, oi := range pairs {
		if oi < 0 {
			inserted = true
			continue
		}
		if inserted || oi < last {
			return false
		}
		last = oi
	}
	return true
}

func diffPositional(old, new *Collection, cmp Comparer, threshold int) []Operation {
	pairs, removed := match(old, new, cmp)
	if !ordered(pairs) {
		return replaceAll(new)
	}
	ov, nv := old.Values(), new.Values()

	var ops []Operation
	for _, oi := range removed {
		ops = append(ops, Operation{Kind: OpRemove, Index: oi, Value: ov[oi]})
	}
	for ni, oi := range pairs {
		if oi >= 0 && !cmp.Equal(ov[oi], nv[ni]) {
			ops = append(ops, Operation{Kind: OpInsert, Index: ni, Value: nv[ni]})
		}
	}
	if exceeds(len(ops), old.Len(), threshold) {
		return replaceAll(new)
	}
	for ni, oi := range pairs {
		if oi < 0 {
			ops = append(ops, Operation{Kind: OpInsert, Index: ni, Append: true, Value: nv[ni]})
		}
	}
	return ops
}

func diffUnion(old, new *Collection, cmp Comparer) []Operation {
	pairs, removed := match(old, new, cmp)
	if len(removed) > 0 || !ordered(pairs) {
		return replaceAll(new)
	}
	ov, nv := old.Values(), new.Values()

	var ops []Operation
	seen := make(map[any]bool, len(nv))
	for _, v := range ov {
		seen[cmp.Identity(v)] = true
	}
	for ni, oi := range pairs {
		if oi >= 0 {
			if !cmp.Equal(ov[oi], nv[ni]) {
				return replaceAll(new)
			}
			continue
		}
		id := cmp.Identity(nv[ni])
		if seen[id] {
			continue
		}
		seen[id] = true
		ops = append(ops, Operation{Kind: OpInsert, Index: ni, Append: true, Value: nv[ni]})
	}
	return ops
}
