package changeset

import (
	"fmt"

	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"

	"github.com/tiendc/go-deepcopy"
)

// Snapshot is the state of a document's fields at load or at its last successful flush.
//
// Snapshots are never modified; a new snapshot replaces the old one after each flush.
type Snapshot struct {
	values map[string]any
}

// Get returns the snapshot value of the named field.
func (s *Snapshot) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of fields held by the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Embedded is the frozen state of an embedded document.
type Embedded struct {
	Doc    *document.Document
	ID     string
	Class  string
	Values map[string]any
}

func (c *Computer) freezeFields(class *mapping.Class, doc *document.Document) (map[string]any, error) {
	values := make(map[string]any, len(class.Fields))
	for _, f := range class.Fields {
		if !doc.Has(f.Name) {
			continue
		}
		v, err := c.freeze(f, doc.Get(f.Name))
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", class.Name, f.Name, err)
		}
		values[f.Name] = v
	}
	return values, nil
}

func (c *Computer) freeze(f *mapping.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case mapping.TypeHash:
		col, err := collection.Of(value)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		if err := deepcopy.Copy(&out, col.Map()); err != nil {
			return nil, err
		}
		return out, nil
	case mapping.TypeCollection:
		col, err := collection.Of(value)
		if err != nil {
			return nil, err
		}
		var out []any
		if err := deepcopy.Copy(&out, col.Values()); err != nil {
			return nil, err
		}
		return out, nil
	case mapping.TypeEmbedOne:
		doc, ok := value.(*document.Document)
		if !ok {
			return nil, fmt.Errorf("expected document but got %T", value)
		}
		return c.freezeEmbedded(doc)
	case mapping.TypeReferenceOne:
		doc, ok := value.(*document.Document)
		if !ok {
			return nil, fmt.Errorf("expected document but got %T", value)
		}
		return doc, nil
	case mapping.TypeEmbedMany:
		col, err := Documents(value)
		if err != nil {
			return nil, err
		}
		var ferr error
		out := col.CloneWith(func(v any) any {
			e, err := c.freezeEmbedded(v.(*document.Document))
			if err != nil && ferr == nil {
				ferr = err
			}
			return e
		})
		return out, ferr
	case mapping.TypeReferenceMany:
		col, err := Documents(value)
		if err != nil {
			return nil, err
		}
		return col.Clone(), nil
	default:
		switch value.(type) {
		case map[string]any, []any:
			var out any
			if err := deepcopy.Copy(&out, value); err != nil {
				return nil, err
			}
			return out, nil
		}
		return value, nil
	}
}

func (c *Computer) freezeEmbedded(doc *document.Document) (*Embedded, error) {
	if doc == nil {
		return nil, nil
	}
	class, err := c.registry.Class(doc.Class())
	if err != nil {
		return nil, err
	}
	values, err := c.freezeFields(class, doc)
	if err != nil {
		return nil, err
	}
	return &Embedded{Doc: doc, ID: doc.ID(), Class: doc.Class(), Values: values}, nil
}

// Documents converts a multi-valued document field into a collection of documents.
func Documents(value any) (*collection.Collection, error) {
	col, err := collection.Of(value)
	if err != nil {
		return nil, err
	}
	col.Each(func(k string, v any) bool {
		if d, ok := v.(*document.Document); !ok || d == nil {
			err = fmt.Errorf("element %s: expected document but got %T", k, v)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}
