package uow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nasdf/tapir/changeset"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
)

// Merge copies the state of the given document onto its managed counterpart and
// returns the managed document.
//
// The counterpart is the managed document with the same identifier, the document
// loaded from the store or, when neither exists, a new managed copy scheduled for
// insertion. Embedded values are copied with their identifiers. References whose
// field cascades merge are merged recursively, other references are resolved to
// their managed or stored documents.
func (u *UnitOfWork) Merge(ctx context.Context, doc *document.Document) (*document.Document, error) {
	return u.merge(ctx, doc, make(map[*document.Document]*document.Document))
}

func (u *UnitOfWork) merge(ctx context.Context, doc *document.Document, visited map[*document.Document]*document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, nil
	}
	if managed, ok := visited[doc]; ok {
		return managed, nil
	}
	class, err := u.class(doc)
	if err != nil {
		return nil, err
	}

	var managed *document.Document
	created := false
	if e, ok := u.entries[doc]; ok {
		if e.state == document.StateRemoved {
			return nil, fmt.Errorf("cannot merge removed document %s", doc)
		}
		if doc.ID() != e.key.id {
			if other, ok := u.identity[key{collection: class.Collection, id: doc.ID()}]; ok && other != doc {
				return nil, &MergeIdentifierConflictError{Collection: class.Collection, ID: doc.ID()}
			}
		}
		managed = doc
	} else if doc.ID() == "" {
		managed = document.New(doc.Class())
		created = true
	} else if m, ok := u.TryGet(class, doc.ID()); ok {
		if u.entries[m].state == document.StateRemoved {
			return nil, fmt.Errorf("cannot merge into removed document %s", m)
		}
		managed = m
	} else {
		m, err := u.load(ctx, class, doc.ID())
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = document.New(doc.Class())
			m.SetID(doc.ID())
			created = true
		}
		managed = m
	}
	if managed.Class() != doc.Class() && !u.registry.IsA(managed.Class(), doc.Class()) {
		return nil, fmt.Errorf("cannot merge %s into %s", doc, managed)
	}
	visited[doc] = managed

	for _, f := range class.Fields {
		if managed == doc && !(f.Type.IsReference() && f.Cascade.Has(mapping.CascadeMerge)) {
			continue
		}
		if !doc.Has(f.Name) {
			managed.Unset(f.Name)
			continue
		}
		value, err := u.mergeValue(ctx, f, doc.Get(f.Name), visited)
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", doc, f.Name, err)
		}
		managed.Set(f.Name, value)
	}

	if created {
		if err := u.Persist(managed); err != nil {
			return nil, err
		}
	}
	u.log.Debugw("merged document", "document", managed.String(), "created", created)
	return managed, nil
}

func (u *UnitOfWork) mergeValue(ctx context.Context, f *mapping.Field, value any, visited map[*document.Document]*document.Document) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case mapping.TypeEmbedOne, mapping.TypeReferenceOne:
		doc, ok := value.(*document.Document)
		if !ok {
			return nil, fmt.Errorf("expected document but got %T", value)
		}
		if f.Type.IsEmbedded() {
			return u.mergeEmbedded(ctx, doc, visited)
		}
		return u.mergeReference(ctx, f, doc, visited)

	case mapping.TypeEmbedMany, mapping.TypeReferenceMany:
		col, err := changeset.Documents(value)
		if err != nil {
			return nil, err
		}
		var merr error
		out := col.CloneWith(func(v any) any {
			if merr != nil {
				return nil
			}
			var merged *document.Document
			if f.Type.IsEmbedded() {
				merged, merr = u.mergeEmbedded(ctx, v.(*document.Document), visited)
			} else {
				merged, merr = u.mergeReference(ctx, f, v.(*document.Document), visited)
			}
			return merged
		})
		if merr != nil {
			return nil, merr
		}
		return out, nil

	default:
		return copyValue(value)
	}
}

// copyValue returns a deep copy of a hash or collection value so the merged
// document shares no maps or slices with the given one.
func copyValue(value any) (any, error) {
	if col, ok := value.(*collection.Collection); ok {
		var err error
		out := col.CloneWith(func(v any) any {
			c, cerr := copyValue(v)
			if cerr != nil && err == nil {
				err = cerr
			}
			return c
		})
		return out, err
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		out := reflect.New(rv.Type())
		if err := deepcopy.Copy(out.Interface(), value); err != nil {
			return nil, err
		}
		return out.Elem().Interface(), nil
	default:
		return value, nil
	}
}

// mergeEmbedded returns a copy of the embedded document keeping its identifier.
func (u *UnitOfWork) mergeEmbedded(ctx context.Context, doc *document.Document, visited map[*document.Document]*document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, nil
	}
	class, err := u.registry.Class(doc.Class())
	if err != nil {
		return nil, err
	}
	out := document.New(doc.Class())
	if id := doc.ID(); id != "" {
		out.SetID(id)
	} else {
		out.SetID(uuid.NewString())
	}
	for _, f := range class.Fields {
		if !doc.Has(f.Name) {
			continue
		}
		value, err := u.mergeValue(ctx, f, doc.Get(f.Name), visited)
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", doc, f.Name, err)
		}
		out.Set(f.Name, value)
	}
	return out, nil
}

// mergeReference returns the managed document a reference points to.
func (u *UnitOfWork) mergeReference(ctx context.Context, f *mapping.Field, doc *document.Document, visited map[*document.Document]*document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, nil
	}
	if f.Cascade.Has(mapping.CascadeMerge) {
		return u.merge(ctx, doc, visited)
	}
	if u.Contains(doc) {
		return doc, nil
	}
	if doc.ID() == "" {
		return nil, fmt.Errorf("%w: %s", ErrNewReference, doc)
	}
	class, err := u.class(doc)
	if err != nil {
		return nil, err
	}
	if m, ok := u.TryGet(class, doc.ID()); ok {
		return m, nil
	}
	m, err := u.load(ctx, class, doc.ID())
	if err != nil {
		return nil, err
	}
	if m == nil {
		return doc, nil
	}
	return m, nil
}
