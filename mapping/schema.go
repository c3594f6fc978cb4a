package mapping

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed prelude.graphql
var preludeSource string

// LoadSchema parses GraphQL SDL into class descriptors.
//
// Types marked @document or @embedded become classes. Fields referring to
// @embedded types are embedded and fields referring to @document types are
// references; list types make them many-valued. Interfaces implemented by a
// class become its parent.
func LoadSchema(input string) ([]*Class, error) {
	s, err := gqlparser.LoadSchema(
		&ast.Source{Name: "prelude.graphql", Input: preludeSource, BuiltIn: true},
		&ast.Source{Name: "schema.graphql", Input: input},
	)
	if err != nil {
		return nil, err
	}
	var classes []*Class
	for _, def := range s.Types {
		if def.BuiltIn || (def.Kind != ast.Object && def.Kind != ast.Interface) {
			continue
		}
		document := def.Directives.ForName("document")
		embedded := def.Directives.ForName("embedded")
		if document == nil && embedded == nil {
			continue
		}
		class, err := loadClass(s, def)
		if err != nil {
			return nil, err
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// LoadRegistry parses GraphQL SDL and registers every class in a new registry.
func LoadRegistry(input string, opts ...Option) (*Registry, error) {
	classes, err := LoadSchema(input)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(opts...)
	if err := registry.Register(classes...); err != nil {
		return nil, err
	}
	return registry, nil
}

func loadClass(s *ast.Schema, def *ast.Definition) (*Class, error) {
	class := &Class{Name: def.Name}
	if d := def.Directives.ForName("document"); d != nil {
		class.Collection = argument(d, "collection")
	}
	if d := def.Directives.ForName("embedded"); d != nil {
		class.Embedded = true
	}
	if d := def.Directives.ForName("discriminator"); d != nil {
		class.DiscriminatorField = argument(d, "field")
		class.DiscriminatorValue = argument(d, "value")
	}
	for _, name := range def.Interfaces {
		parent := s.Types[name]
		if parent != nil && (parent.Directives.ForName("document") != nil || parent.Directives.ForName("embedded") != nil) {
			class.Parent = name
			break
		}
	}
	for _, fd := range def.Fields {
		if fd.Name == "id" || fd.Name == IDField || strings.HasPrefix(fd.Name, "__") {
			continue
		}
		field, err := loadField(s, fd)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", def.Name, err)
		}
		class.Fields = append(class.Fields, field)
	}
	return class, nil
}

func loadField(s *ast.Schema, fd *ast.FieldDefinition) (*Field, error) {
	field := &Field{Name: fd.Name}

	typ := fd.Type
	many := typ.Elem != nil
	if many {
		typ = typ.Elem
	}
	target := s.Types[typ.NamedType]
	switch {
	case typ.NamedType == "Hash":
		field.Type = TypeHash
	case typ.NamedType == "Collection":
		field.Type = TypeCollection
	case target != nil && target.Directives.ForName("embedded") != nil:
		field.Type = TypeEmbedOne
		if many {
			field.Type = TypeEmbedMany
		}
		field.Target = target.Name
	case target != nil && target.Directives.ForName("document") != nil:
		field.Type = TypeReferenceOne
		if many {
			field.Type = TypeReferenceMany
		}
		field.Target = target.Name
	case many:
		field.Type = TypeCollection
	case target != nil && (target.Kind == ast.Scalar || target.Kind == ast.Enum):
		field.Type = TypeScalar
	default:
		return nil, fmt.Errorf("field %s: unsupported type %s", fd.Name, typ.NamedType)
	}
	if d := fd.Directives.ForName("field"); d != nil {
		field.Strategy = argument(d, "strategy")
		if arg := d.Arguments.ForName("cascade"); arg != nil && arg.Value != nil {
			var names []string
			if arg.Value.Kind == ast.ListValue {
				for _, child := range arg.Value.Children {
					names = append(names, child.Value.Raw)
				}
			} else {
				names = append(names, arg.Value.Raw)
			}
			cascade, err := ParseCascade(names...)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fd.Name, err)
			}
			field.Cascade = cascade
		}
	}
	return field, nil
}

func argument(d *ast.Directive, name string) string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}
	return arg.Value.Raw
}
