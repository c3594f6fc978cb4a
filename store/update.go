package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nasdf/tapir/codec"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// UpdateKind is the kind of an update operation.
type UpdateKind int

const (
	// UpdateSet assigns a value at a path, creating missing parents.
	UpdateSet UpdateKind = iota
	// UpdateUnset removes a map entry. List elements are set to null instead
	// so the positions of the remaining elements do not change.
	UpdateUnset
	// UpdatePush appends values to a list.
	UpdatePush
	// UpdateAddToSet appends values that are not already present in a list.
	UpdateAddToSet
	// UpdatePullNull removes null elements from a list.
	UpdatePullNull
)

var updateKindNames = map[UpdateKind]string{
	UpdateSet:      "$set",
	UpdateUnset:    "$unset",
	UpdatePush:     "$push",
	UpdateAddToSet: "$addToSet",
	UpdatePullNull: "$pull",
}

func (k UpdateKind) String() string {
	if name, ok := updateKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

// UpdateOp is a single update operation on a dotted field path.
type UpdateOp struct {
	Kind   UpdateKind
	Path   string
	Value  any
	Values []any
}

func (op UpdateOp) String() string {
	switch op.Kind {
	case UpdateSet:
		return fmt.Sprintf("%s %s=%v", op.Kind, op.Path, op.Value)
	case UpdatePush, UpdateAddToSet:
		return fmt.Sprintf("%s %s+%d", op.Kind, op.Path, len(op.Values))
	default:
		return fmt.Sprintf("%s %s", op.Kind, op.Path)
	}
}

// Update is an ordered list of update operations.
type Update struct {
	Ops []UpdateOp
}

// NewUpdate returns an empty update.
func NewUpdate() *Update {
	return &Update{}
}

// Set assigns value at path. Values may be plain Go values or IPLD nodes.
func (u *Update) Set(path string, value any) *Update {
	u.Ops = append(u.Ops, UpdateOp{Kind: UpdateSet, Path: path, Value: value})
	return u
}

// Unset removes the value at path.
func (u *Update) Unset(path string) *Update {
	u.Ops = append(u.Ops, UpdateOp{Kind: UpdateUnset, Path: path})
	return u
}

// Push appends values to the list at path.
func (u *Update) Push(path string, values ...any) *Update {
	u.Ops = append(u.Ops, UpdateOp{Kind: UpdatePush, Path: path, Values: values})
	return u
}

// AddToSet appends the values missing from the list at path.
func (u *Update) AddToSet(path string, values ...any) *Update {
	u.Ops = append(u.Ops, UpdateOp{Kind: UpdateAddToSet, Path: path, Values: values})
	return u
}

// PullNull removes null elements from the list at path.
func (u *Update) PullNull(path string) *Update {
	u.Ops = append(u.Ops, UpdateOp{Kind: UpdatePullNull, Path: path})
	return u
}

// Len returns the number of operations.
func (u *Update) Len() int {
	if u == nil {
		return 0
	}
	return len(u.Ops)
}

// Apply runs every operation against the given document in order.
func (u *Update) Apply(doc map[string]any) error {
	for _, op := range u.Ops {
		if err := op.apply(doc); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (op UpdateOp) apply(doc map[string]any) error {
	if op.Path == "" {
		return fmt.Errorf("path is required")
	}
	segments := strings.Split(op.Path, ".")
	if segments[0] == IDField {
		return fmt.Errorf("%s cannot be modified", IDField)
	}
	switch op.Kind {
	case UpdateSet:
		value, err := plain(op.Value)
		if err != nil {
			return err
		}
		_, err = modify(doc, segments, true, func(any, bool) (any, bool, error) {
			return value, false, nil
		})
		return err

	case UpdateUnset:
		_, err := modify(doc, segments, false, func(any, bool) (any, bool, error) {
			return nil, true, nil
		})
		return err

	case UpdatePush, UpdateAddToSet:
		values := make([]any, 0, len(op.Values))
		for _, v := range op.Values {
			value, err := plain(v)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		_, err := modify(doc, segments, true, func(old any, ok bool) (any, bool, error) {
			list, err := asList(old)
			if err != nil {
				return nil, false, err
			}
			for _, v := range values {
				if op.Kind == UpdateAddToSet && contains(list, v) {
					continue
				}
				list = append(list, v)
			}
			return list, false, nil
		})
		return err

	case UpdatePullNull:
		_, err := modify(doc, segments, false, func(old any, ok bool) (any, bool, error) {
			if !ok {
				return nil, true, nil
			}
			list, err := asList(old)
			if err != nil {
				return nil, false, err
			}
			out := make([]any, 0, len(list))
			for _, v := range list {
				if v != nil {
					out = append(out, v)
				}
			}
			return out, false, nil
		})
		return err

	default:
		return fmt.Errorf("invalid update kind")
	}
}

// modify walks the path and replaces the value at its end with the result of fn.
// It returns the possibly reallocated container.
func modify(cur any, segments []string, create bool, fn func(old any, ok bool) (any, bool, error)) (any, error) {
	seg := segments[0]
	last := len(segments) == 1

	switch c := cur.(type) {
	case map[string]any:
		old, ok := c[seg]
		if last {
			value, remove, err := fn(old, ok)
			if err != nil {
				return nil, err
			}
			if remove {
				delete(c, seg)
			} else {
				c[seg] = value
			}
			return c, nil
		}
		if !ok || old == nil {
			if !create {
				return c, nil
			}
			old = make(map[string]any)
		}
		value, err := modify(old, segments[1:], create, fn)
		if err != nil {
			return nil, err
		}
		c[seg] = value
		return c, nil

	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid list index %q", seg)
		}
		ok := idx < len(c)
		if last {
			var old any
			if ok {
				old = c[idx]
			}
			value, remove, err := fn(old, ok)
			if err != nil {
				return nil, err
			}
			if remove {
				if ok {
					c[idx] = nil
				}
				return c, nil
			}
			for len(c) <= idx {
				c = append(c, nil)
			}
			c[idx] = value
			return c, nil
		}
		if !ok || c[idx] == nil {
			if !create {
				return c, nil
			}
			for len(c) <= idx {
				c = append(c, nil)
			}
			c[idx] = make(map[string]any)
		}
		value, err := modify(c[idx], segments[1:], create, fn)
		if err != nil {
			return nil, err
		}
		c[idx] = value
		return c, nil

	default:
		return nil, fmt.Errorf("cannot traverse %T at %q", cur, seg)
	}
}

func asList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	default:
		return nil, fmt.Errorf("expected list but got %T", v)
	}
}

func contains(list []any, v any) bool {
	for _, e := range list {
		if codec.Equal(e, v) {
			return true
		}
	}
	return false
}

// plain converts IPLD nodes into plain Go values. Other values are returned as is.
func plain(v any) (any, error) {
	if n, ok := v.(datamodel.Node); ok {
		return codec.Decode(n)
	}
	return v, nil
}
