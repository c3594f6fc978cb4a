package mapping

import (
	"fmt"
	"strings"

	"github.com/nasdf/tapir/strategy"
)

// DefaultDiscriminatorField is the field the discriminator value is written to.
const DefaultDiscriminatorField = "type"

// IDField is the name of the identifier field in persisted documents.
const IDField = "_id"

// FieldType is the mapping type of a field.
type FieldType int

const (
	TypeScalar FieldType = iota
	TypeHash
	TypeCollection
	TypeEmbedOne
	TypeEmbedMany
	TypeReferenceOne
	TypeReferenceMany
)

var fieldTypeNames = map[FieldType]string{
	TypeScalar:        "scalar",
	TypeHash:          "hash",
	TypeCollection:    "collection",
	TypeEmbedOne:      "embedOne",
	TypeEmbedMany:     "embedMany",
	TypeReferenceOne:  "referenceOne",
	TypeReferenceMany: "referenceMany",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType returns the field type with the given name.
func ParseFieldType(name string) (FieldType, error) {
	for t, n := range fieldTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// IsMany reports whether the field holds a collection of documents.
func (t FieldType) IsMany() bool {
	return t == TypeEmbedMany || t == TypeReferenceMany
}

// IsEmbedded reports whether the field holds embedded documents.
func (t FieldType) IsEmbedded() bool {
	return t == TypeEmbedOne || t == TypeEmbedMany
}

// IsReference reports whether the field references other documents.
func (t FieldType) IsReference() bool {
	return t == TypeReferenceOne || t == TypeReferenceMany
}

// IsAssociation reports whether the field holds documents.
func (t FieldType) IsAssociation() bool {
	return t.IsEmbedded() || t.IsReference()
}

// Cascade is a set of operations propagated from a document to its references.
type Cascade uint8

const (
	CascadePersist Cascade = 1 << iota
	CascadeMerge
	CascadeRemove
	CascadeDetach
	CascadeRefresh

	CascadeAll = CascadePersist | CascadeMerge | CascadeRemove | CascadeDetach | CascadeRefresh
)

var cascadeNames = []struct {
	name    string
	cascade Cascade
}{
	{"persist", CascadePersist},
	{"merge", CascadeMerge},
	{"remove", CascadeRemove},
	{"detach", CascadeDetach},
	{"refresh", CascadeRefresh},
}

// ParseCascade parses cascade names. "all" selects every operation.
func ParseCascade(names ...string) (Cascade, error) {
	var c Cascade
	for _, name := range names {
		if name == "all" {
			c |= CascadeAll
			continue
		}
		found := false
		for _, n := range cascadeNames {
			if n.name == name {
				c |= n.cascade
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown cascade %q", name)
		}
	}
	return c, nil
}

// Has reports whether all operations in o are cascaded.
func (c Cascade) Has(o Cascade) bool {
	return c&o == o
}

func (c Cascade) String() string {
	if c == CascadeAll {
		return "all"
	}
	var names []string
	for _, n := range cascadeNames {
		if c.Has(n.cascade) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (c Cascade) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Field describes how a document field is stored.
type Field struct {
	Name string
	Type FieldType
	// Strategy names the collection strategy of embed-many and reference-many fields.
	Strategy string
	// Target is the class of embedded or referenced documents.
	Target  string
	Cascade Cascade
	// Policy is resolved from Strategy when the field is registered.
	Policy strategy.Policy `yaml:"-"`
}

// Class describes a document class.
type Class struct {
	Name string
	// Collection is the store collection documents of this class are written to.
	Collection string `yaml:",omitempty"`
	Embedded   bool   `yaml:",omitempty"`
	// Parent is the class this class inherits fields and collection from.
	Parent string   `yaml:",omitempty"`
	Fields []*Field `yaml:",omitempty"`

	DiscriminatorField string            `yaml:"discriminatorField,omitempty"`
	DiscriminatorValue string            `yaml:"discriminatorValue,omitempty"`
	DiscriminatorMap   map[string]string `yaml:"discriminatorMap,omitempty"`

	fields map[string]*Field
}

// Field returns the field with the given name or nil.
func (c *Class) Field(name string) *Field {
	if c.fields != nil {
		return c.fields[name]
	}
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// HasDiscriminator reports whether documents of this class carry a discriminator value.
func (c *Class) HasDiscriminator() bool {
	return c.DiscriminatorValue != ""
}
