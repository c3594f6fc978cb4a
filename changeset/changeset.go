package changeset

import (
	"context"
	"fmt"
	"runtime"

	"github.com/nasdf/tapir/codec"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"

	"golang.org/x/sync/errgroup"
)

// minChunkSize is the smallest number of documents handed to a single worker.
const minChunkSize = 256

// Change is the difference of a single field.
type Change struct {
	Field *mapping.Field
	// Old is the snapshot value or nil when the field was not set.
	Old any
	// New is the current value or nil when the field was unset.
	New any
	// Ops contains the collection operations of a multi-valued field whose
	// old and new values are both set.
	Ops []collection.Operation
}

// ChangeSet contains the changed fields of a document.
type ChangeSet struct {
	Doc     *document.Document
	Class   *mapping.Class
	Changes []*Change
}

// Get returns the change of the named field or nil.
func (cs *ChangeSet) Get(name string) *Change {
	for _, c := range cs.Changes {
		if c.Field.Name == name {
			return c
		}
	}
	return nil
}

// Tracked is a document together with its class and last snapshot.
type Tracked struct {
	Doc      *document.Document
	Class    *mapping.Class
	Snapshot *Snapshot
}

// Computer computes change sets of tracked documents.
type Computer struct {
	registry *mapping.Registry
	workers  int
}

// Option configures a Computer.
type Option func(*Computer)

// WithWorkers sets the maximum number of goroutines used by Compute.
func WithWorkers(n int) Option {
	return func(c *Computer) {
		if n > 0 {
			c.workers = n
		}
	}
}

// NewComputer returns a computer using the class descriptors of the given registry.
func NewComputer(registry *mapping.Registry, opts ...Option) *Computer {
	c := &Computer{
		registry: registry,
		workers:  runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Take returns a snapshot of the current field values of the document.
func (c *Computer) Take(class *mapping.Class, doc *document.Document) (*Snapshot, error) {
	values, err := c.freezeFields(class, doc)
	if err != nil {
		return nil, err
	}
	return &Snapshot{values: values}, nil
}

// Compute returns the change sets of all tracked documents that changed.
//
// Documents are compared independently, so the work is split into chunks that
// are processed concurrently. Compute only reads the tracked documents.
func (c *Computer) Compute(ctx context.Context, tracked []Tracked) (map[*document.Document]*ChangeSet, error) {
	results := make([]*ChangeSet, len(tracked))

	size := (len(tracked) + c.workers - 1) / c.workers
	if size < minChunkSize {
		size = minChunkSize
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for start := 0; start < len(tracked); start += size {
		end := min(start+size, len(tracked))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				cs, err := c.ComputeOne(tracked[i])
				if err != nil {
					return err
				}
				results[i] = cs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[*document.Document]*ChangeSet)
	for i, cs := range results {
		if cs != nil {
			out[tracked[i].Doc] = cs
		}
	}
	return out, nil
}

// ComputeOne returns the change set of a single document or nil when nothing changed.
func (c *Computer) ComputeOne(t Tracked) (*ChangeSet, error) {
	var changes []*Change
	for _, f := range t.Class.Fields {
		old, _ := t.Snapshot.Get(f.Name)
		cur := t.Doc.Get(f.Name)
		change, err := c.compare(f, old, cur)
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", t.Doc, f.Name, err)
		}
		if change != nil {
			changes = append(changes, change)
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return &ChangeSet{Doc: t.Doc, Class: t.Class, Changes: changes}, nil
}

func (c *Computer) compare(f *mapping.Field, old, cur any) (*Change, error) {
	if old == nil && cur == nil {
		return nil, nil
	}
	if old == nil || cur == nil {
		return &Change{Field: f, Old: old, New: cur}, nil
	}
	if f.Type.IsMany() {
		oldCol := old.(*collection.Collection)
		curCol, err := Documents(cur)
		if err != nil {
			return nil, err
		}
		ops := f.Policy.Diff(oldCol, curCol, c.Comparer(f))
		if len(ops) == 0 {
			return nil, nil
		}
		return &Change{Field: f, Old: old, New: cur, Ops: ops}, nil
	}
	equal, err := c.equal(f, old, cur)
	if err != nil || equal {
		return nil, err
	}
	return &Change{Field: f, Old: old, New: cur}, nil
}

func (c *Computer) equal(f *mapping.Field, old, cur any) (bool, error) {
	switch f.Type {
	case mapping.TypeHash:
		col, err := collection.Of(cur)
		if err != nil {
			return false, err
		}
		return codec.Equal(old, col.Map()), nil
	case mapping.TypeCollection:
		col, err := collection.Of(cur)
		if err != nil {
			return false, err
		}
		return codec.Equal(old, col.Values()), nil
	case mapping.TypeEmbedOne:
		doc, ok := cur.(*document.Document)
		if !ok {
			return false, fmt.Errorf("expected document but got %T", cur)
		}
		return c.embeddedEqual(old.(*Embedded), doc)
	case mapping.TypeReferenceOne:
		doc, ok := cur.(*document.Document)
		if !ok {
			return false, fmt.Errorf("expected document but got %T", cur)
		}
		return identity(old.(*document.Document)) == identity(doc), nil
	default:
		return codec.Equal(old, cur), nil
	}
}

func (c *Computer) embeddedEqual(old *Embedded, cur *document.Document) (bool, error) {
	if old == nil || cur == nil {
		return old == nil && cur == nil, nil
	}
	if embeddedIdentity(old) != identity(cur) || old.Class != cur.Class() {
		return false, nil
	}
	class, err := c.registry.Class(cur.Class())
	if err != nil {
		return false, err
	}
	for _, f := range class.Fields {
		change, err := c.compare(f, old.Values[f.Name], cur.Get(f.Name))
		if err != nil || change != nil {
			return false, err
		}
	}
	return true, nil
}

// Comparer returns the element comparer used to diff the given multi-valued field.
//
// Elements are identified by their identifier or, for documents without one, by pointer.
// Referenced documents are equal when their identities are; embedded documents are
// compared field by field.
func (c *Computer) Comparer(f *mapping.Field) collection.Comparer {
	return &elementComparer{computer: c, embedded: f.Type.IsEmbedded()}
}

type elementComparer struct {
	computer *Computer
	embedded bool
}

func (e *elementComparer) Identity(v any) any {
	switch t := v.(type) {
	case *Embedded:
		return embeddedIdentity(t)
	case *document.Document:
		return identity(t)
	default:
		return collection.Values.Identity(v)
	}
}

func (e *elementComparer) Equal(old, new any) bool {
	if !e.embedded {
		return e.Identity(old) == e.Identity(new)
	}
	o, ok := old.(*Embedded)
	if !ok {
		return e.Identity(old) == e.Identity(new)
	}
	n, ok := new.(*document.Document)
	if !ok {
		return false
	}
	equal, err := e.computer.embeddedEqual(o, n)
	return err == nil && equal
}

func identity(doc *document.Document) any {
	if doc == nil {
		return nil
	}
	if id := doc.ID(); id != "" {
		return id
	}
	return doc
}

func embeddedIdentity(e *Embedded) any {
	if e.ID != "" {
		return e.ID
	}
	return e.Doc
}
