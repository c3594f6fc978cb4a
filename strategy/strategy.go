package strategy

import (
	"fmt"

	"github.com/nasdf/tapir/collection"
)

const (
	// PushAll appends new elements and unsets removed positions.
	PushAll = "pushAll"
	// Set writes elements by key and stores the field as an object.
	Set = "set"
	// SetArray rewrites the whole field as a contiguous array.
	SetArray = "setArray"
	// AddToSet adds missing elements with a set union.
	AddToSet = "addToSet"
)

// Shape is the wire type a multi-valued field is stored as.
type Shape int

const (
	ShapeArray Shape = iota
	ShapeObject
)

func (s Shape) String() string {
	if s == ShapeObject {
		return "object"
	}
	return "array"
}

// UnknownStrategyError is returned when a strategy name cannot be resolved.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown collection strategy %q", e.Name)
}

// Policy reconciles and renders a multi-valued field.
type Policy interface {
	// Name returns the strategy name.
	Name() string
	// Shape returns the wire shape of the field.
	Shape() Shape
	// Render returns the collection laid out the way it is persisted.
	Render(c *collection.Collection, cmp collection.Comparer) *collection.Collection
	// Diff returns the operations needed to turn old into new.
	Diff(old, new *collection.Collection, cmp collection.Comparer) []collection.Operation
}

// Resolver maps strategy names to policies.
type Resolver struct {
	threshold int
}

// NewResolver returns a resolver whose policies replace a collection wholesale
// once more than threshold percent of its elements changed.
func NewResolver(threshold int) *Resolver {
	if threshold <= 0 {
		threshold = collection.DefaultReplaceThreshold
	}
	return &Resolver{threshold: threshold}
}

// Threshold returns the replace threshold in percent.
func (r *Resolver) Threshold() int {
	return r.threshold
}

// Resolve returns the policy for the given strategy name. An empty name resolves to PushAll.
func (r *Resolver) Resolve(name string) (Policy, error) {
	switch name {
	case PushAll, "":
		return &policy{name: PushAll, shape: ShapeArray, mode: collection.Positional, threshold: r.threshold}, nil
	case Set:
		return &policy{name: Set, shape: ShapeObject, mode: collection.Keyed, threshold: r.threshold}, nil
	case SetArray:
		return &policy{name: SetArray, shape: ShapeArray, mode: collection.Reindexed, threshold: r.threshold}, nil
	case AddToSet:
		return &policy{name: AddToSet, shape: ShapeArray, mode: collection.Union, threshold: r.threshold}, nil
	default:
		return nil, &UnknownStrategyError{Name: name}
	}
}

var defaultResolver = NewResolver(collection.DefaultReplaceThreshold)

// Resolve returns the policy for the given strategy name using the default threshold.
func Resolve(name string) (Policy, error) {
	return defaultResolver.Resolve(name)
}

type policy struct {
	name      string
	shape     Shape
	mode      collection.Reconciliation
	threshold int
}

func (p *policy) Name() string {
	return p.name
}

func (p *policy) Shape() Shape {
	return p.shape
}

func (p *policy) Render(c *collection.Collection, cmp collection.Comparer) *collection.Collection {
	switch p.mode {
	case collection.Keyed:
		return c.Clone()
	case collection.Union:
		if cmp == nil {
			cmp = collection.Values
		}
		out := collection.New()
		seen := make(map[any]bool, c.Len())
		c.Each(func(_ string, v any) bool {
			id := cmp.Identity(v)
			if !seen[id] {
				seen[id] = true
				out.Add(v)
			}
			return true
		})
		return out
	default:
		return c.Reindex()
	}
}

func (p *policy) Diff(old, new *collection.Collection, cmp collection.Comparer) []collection.Operation {
	return collection.Diff(old, new, p.mode, cmp, p.threshold)
}
