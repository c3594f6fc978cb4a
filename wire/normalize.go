package wire

import (
	"fmt"

	"github.com/nasdf/tapir/changeset"
	"github.com/nasdf/tapir/codec"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/strategy"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Normalizer renders document field values into the shape they are persisted as.
type Normalizer struct {
	registry *mapping.Registry
}

// NewNormalizer returns a normalizer using the classes of the given registry.
func NewNormalizer(registry *mapping.Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Normalize returns the persisted form of the value of the given field.
//
// Hash fields are always maps and collection fields are always lists re-indexed
// from zero. Multi-valued association fields take the shape of their strategy.
func (n *Normalizer) Normalize(value any, f *mapping.Field) (datamodel.Node, error) {
	v, err := n.Value(value, f)
	if err != nil {
		return nil, err
	}
	return codec.Encode(v)
}

// NormalizeDocument returns the full persisted form of a document including its
// identifier and discriminator.
func (n *Normalizer) NormalizeDocument(class *mapping.Class, doc *document.Document) (datamodel.Node, error) {
	v, err := n.document(class, doc)
	if err != nil {
		return nil, err
	}
	return codec.Encode(v)
}

// Value returns the persisted form of a field value as plain Go values.
func (n *Normalizer) Value(value any, f *mapping.Field) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case mapping.TypeHash:
		col, err := collection.Of(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return col.Map(), nil

	case mapping.TypeCollection:
		col, err := collection.Of(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return col.Values(), nil

	case mapping.TypeEmbedOne, mapping.TypeReferenceOne:
		doc, ok := value.(*document.Document)
		if !ok {
			return nil, fmt.Errorf("field %s: expected document but got %T", f.Name, value)
		}
		return n.Element(doc, f)

	case mapping.TypeEmbedMany, mapping.TypeReferenceMany:
		if f.Policy == nil {
			return nil, &strategy.UnknownStrategyError{Name: f.Strategy}
		}
		docs, err := changeset.Documents(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		var nerr error
		plain := docs.CloneWith(func(v any) any {
			e, err := n.Element(v.(*document.Document), f)
			if err != nil && nerr == nil {
				nerr = err
			}
			return e
		})
		if nerr != nil {
			return nil, nerr
		}
		rendered := f.Policy.Render(plain, collection.Values)
		if f.Policy.Shape() == strategy.ShapeObject {
			return rendered.Map(), nil
		}
		return rendered.Values(), nil

	default:
		return value, nil
	}
}

// Element returns the persisted form of a single document held by an association field.
// Embedded documents become maps and referenced documents their identifier.
func (n *Normalizer) Element(doc *document.Document, f *mapping.Field) (any, error) {
	if doc == nil {
		return nil, nil
	}
	if f.Type.IsReference() {
		if doc.ID() == "" {
			return nil, fmt.Errorf("field %s: referenced %s has no identifier", f.Name, doc)
		}
		return doc.ID(), nil
	}
	class, err := n.registry.Class(doc.Class())
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return n.document(class, doc)
}

func (n *Normalizer) document(class *mapping.Class, doc *document.Document) (map[string]any, error) {
	out := make(map[string]any, len(class.Fields)+2)
	if id := doc.ID(); id != "" {
		out[mapping.IDField] = id
	}
	if class.HasDiscriminator() {
		out[class.DiscriminatorField] = class.DiscriminatorValue
	}
	for _, f := range class.Fields {
		value := doc.Get(f.Name)
		if value == nil {
			continue
		}
		v, err := n.Value(value, f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", class.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}
