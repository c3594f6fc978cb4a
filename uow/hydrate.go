package uow

import (
	"context"
	"errors"
	"fmt"

	"github.com/nasdf/tapir/codec"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/store"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Find returns the managed document of the class with the given identifier,
// loading it from the store when it is not tracked yet.
func (u *UnitOfWork) Find(ctx context.Context, className, id string) (*document.Document, error) {
	class, err := u.registry.Class(className)
	if err != nil {
		return nil, err
	}
	doc, ok := u.TryGet(class, id)
	if !ok {
		if doc, err = u.load(ctx, class, id); err != nil {
			return nil, err
		}
	}
	if doc == nil || !u.registry.IsA(doc.Class(), class.Name) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, class.Collection, id)
	}
	return doc, nil
}

// FindOneBy returns the first document of the class matching the criteria or nil.
func (u *UnitOfWork) FindOneBy(ctx context.Context, className string, criteria store.Criteria) (*document.Document, error) {
	class, err := u.registry.Class(className)
	if err != nil {
		return nil, err
	}
	n, err := u.store.FindOne(ctx, class.Collection, u.restrict(class, criteria))
	if err != nil || n == nil {
		return nil, err
	}
	return u.hydrate(ctx, class, n)
}

// FindBy returns every document of the class matching the criteria.
func (u *UnitOfWork) FindBy(ctx context.Context, className string, criteria store.Criteria) ([]*document.Document, error) {
	class, err := u.registry.Class(className)
	if err != nil {
		return nil, err
	}
	nodes, err := u.store.FindAll(ctx, class.Collection, u.restrict(class, criteria))
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, len(nodes))
	for _, n := range nodes {
		doc, err := u.hydrate(ctx, class, n)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Refresh overwrites the fields of a managed document with its stored state.
func (u *UnitOfWork) Refresh(ctx context.Context, doc *document.Document) error {
	return u.refresh(ctx, doc, make(map[*document.Document]bool))
}

func (u *UnitOfWork) refresh(ctx context.Context, doc *document.Document, visited map[*document.Document]bool) error {
	if visited[doc] {
		return nil
	}
	visited[doc] = true

	e, ok := u.entries[doc]
	if !ok || e.state != document.StateManaged {
		return fmt.Errorf("%w: %s", ErrDocumentNotManaged, doc)
	}
	if !e.insert {
		n, err := u.store.Find(ctx, e.class.Collection, e.key.id)
		if err != nil {
			return err
		}
		data, err := codec.DecodeMap(n)
		if err != nil {
			return err
		}
		if err := u.fill(ctx, e.class, doc, data); err != nil {
			return err
		}
		if e.snapshot, err = u.computer.Take(e.class, doc); err != nil {
			return err
		}
	}
	return u.cascade(e.class, doc, mapping.CascadeRefresh, func(ref *document.Document) error {
		if !u.Contains(ref) {
			return nil
		}
		return u.refresh(ctx, ref, visited)
	})
}

// restrict limits criteria to the discriminator values of the class and its subclasses.
func (u *UnitOfWork) restrict(class *mapping.Class, criteria store.Criteria) store.Criteria {
	if class.DiscriminatorField == "" || u.registry.Root(class) == class {
		return criteria
	}
	var values []any
	for _, c := range u.registry.Classes() {
		if c.HasDiscriminator() && u.registry.IsA(c.Name, class.Name) {
			values = append(values, c.DiscriminatorValue)
		}
	}
	in := store.In(class.DiscriminatorField, values...)
	if criteria == nil {
		return in
	}
	return store.And(criteria, in)
}

// load reads and hydrates the document with the given identifier.
// A nil document is returned when the store does not contain it.
func (u *UnitOfWork) load(ctx context.Context, class *mapping.Class, id string) (*document.Document, error) {
	n, err := u.store.Find(ctx, class.Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u.hydrate(ctx, class, n)
}

// hydrate returns the managed document for a stored node. Documents already in
// the identity map are returned as they are.
func (u *UnitOfWork) hydrate(ctx context.Context, class *mapping.Class, n datamodel.Node) (*document.Document, error) {
	data, err := codec.DecodeMap(n)
	if err != nil {
		return nil, err
	}
	id, _ := data[mapping.IDField].(string)
	if id == "" {
		return nil, fmt.Errorf("stored %s document has no identifier", class.Name)
	}
	if doc, ok := u.TryGet(class, id); ok {
		return doc, nil
	}
	if class.DiscriminatorField != "" {
		value, _ := data[class.DiscriminatorField].(string)
		if class, err = u.registry.Discriminate(class, value); err != nil {
			return nil, err
		}
	}

	doc := document.New(class.Name)
	doc.SetID(id)
	e, err := u.track(class, doc, document.StateManaged)
	if err != nil {
		return nil, err
	}
	if err := u.fill(ctx, class, doc, data); err != nil {
		u.untrack(doc)
		return nil, err
	}
	if e.snapshot, err = u.computer.Take(class, doc); err != nil {
		u.untrack(doc)
		return nil, err
	}
	return doc, nil
}

// fill assigns the fields of doc from stored data.
func (u *UnitOfWork) fill(ctx context.Context, class *mapping.Class, doc *document.Document, data map[string]any) error {
	for _, f := range class.Fields {
		raw, ok := data[f.Name]
		if !ok || raw == nil {
			doc.Unset(f.Name)
			continue
		}
		value, err := u.fieldValue(ctx, f, raw)
		if err != nil {
			return fmt.Errorf("%s field %s: %w", doc, f.Name, err)
		}
		doc.Set(f.Name, value)
	}
	return nil
}

func (u *UnitOfWork) fieldValue(ctx context.Context, f *mapping.Field, raw any) (any, error) {
	switch f.Type {
	case mapping.TypeHash:
		col, err := collection.Of(raw)
		if err != nil {
			return nil, err
		}
		return col.Map(), nil

	case mapping.TypeCollection:
		col, err := collection.Of(raw)
		if err != nil {
			return nil, err
		}
		return col.Values(), nil

	case mapping.TypeEmbedOne, mapping.TypeReferenceOne:
		return u.element(ctx, f, raw)

	case mapping.TypeEmbedMany, mapping.TypeReferenceMany:
		col, err := collection.Of(raw)
		if err != nil {
			return nil, err
		}
		out := collection.New()
		for _, k := range col.Keys() {
			v, _ := col.Get(k)
			doc, err := u.element(ctx, f, v)
			if err != nil {
				return nil, fmt.Errorf("element %s: %w", k, err)
			}
			if doc != nil {
				out.Set(k, doc)
			}
		}
		return out, nil

	default:
		return raw, nil
	}
}

// element converts a stored embedded map or reference identifier into a document.
func (u *UnitOfWork) element(ctx context.Context, f *mapping.Field, raw any) (*document.Document, error) {
	target, err := u.registry.Class(f.Target)
	if err != nil {
		return nil, err
	}
	if f.Type.IsReference() {
		id, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected reference identifier but got %T", raw)
		}
		if doc, ok := u.TryGet(target, id); ok {
			return doc, nil
		}
		doc, err := u.load(ctx, target, id)
		if err != nil || doc != nil {
			return doc, err
		}
		// dangling reference
		doc = document.New(target.Name)
		doc.SetID(id)
		return doc, nil
	}

	data, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected embedded document but got %T", raw)
	}
	if target.DiscriminatorField != "" {
		value, _ := data[target.DiscriminatorField].(string)
		if target, err = u.registry.Discriminate(target, value); err != nil {
			return nil, err
		}
	}
	doc := document.New(target.Name)
	if id, ok := data[mapping.IDField].(string); ok {
		doc.SetID(id)
	}
	if err := u.fill(ctx, target, doc, data); err != nil {
		return nil, err
	}
	return doc, nil
}
