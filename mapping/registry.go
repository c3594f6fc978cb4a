package mapping

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nasdf/tapir/strategy"
)

// ErrUnknownClass is returned when a class name is not registered.
var ErrUnknownClass = errors.New("unknown class")

// Registry is the descriptor table of all document classes.
//
// Policies and inherited fields are resolved when classes are registered so
// lookups never need to resolve a strategy again.
type Registry struct {
	resolver *strategy.Resolver
	// discriminatorField is used by hierarchies that do not name one.
	discriminatorField string
	defs     map[string]*Class
	classes  map[string]*Class
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver sets the strategy resolver used to build field policies.
func WithResolver(resolver *strategy.Resolver) Option {
	return func(r *Registry) {
		r.resolver = resolver
	}
}

// WithDiscriminatorField sets the default discriminator field of class hierarchies.
func WithDiscriminatorField(name string) Option {
	return func(r *Registry) {
		if name != "" {
			r.discriminatorField = name
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		resolver:           strategy.NewResolver(0),
		discriminatorField: DefaultDiscriminatorField,
		defs:               make(map[string]*Class),
		classes:            make(map[string]*Class),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds the given classes. The registry is left unchanged when an error is returned.
func (r *Registry) Register(classes ...*Class) error {
	defs := make(map[string]*Class, len(r.defs)+len(classes))
	for k, v := range r.defs {
		defs[k] = v
	}
	for _, c := range classes {
		if c.Name == "" {
			return fmt.Errorf("class name is required")
		}
		if _, ok := defs[c.Name]; ok {
			return fmt.Errorf("class %s is already registered", c.Name)
		}
		defs[c.Name] = c
	}
	built, err := r.build(defs)
	if err != nil {
		return err
	}
	r.defs = defs
	r.classes = built
	return nil
}

// Class returns the class with the given name.
func (r *Registry) Class(name string) (*Class, error) {
	c, ok := r.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, name)
	}
	return c, nil
}

// Classes returns all classes sorted by name.
func (r *Registry) Classes() []*Class {
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Root returns the top most ancestor of the given class.
func (r *Registry) Root(c *Class) *Class {
	for c.Parent != "" {
		c = r.classes[c.Parent]
	}
	return c
}

// IsA reports whether the class with the given name is or extends ancestor.
func (r *Registry) IsA(name, ancestor string) bool {
	for name != "" {
		if name == ancestor {
			return true
		}
		c, ok := r.classes[name]
		if !ok {
			return false
		}
		name = c.Parent
	}
	return false
}

// Discriminate returns the class selected by the discriminator value within the hierarchy of c.
func (r *Registry) Discriminate(c *Class, value string) (*Class, error) {
	if value == "" {
		return c, nil
	}
	name, ok := r.Root(c).DiscriminatorMap[value]
	if !ok {
		return nil, fmt.Errorf("%w: discriminator %q of %s", ErrUnknownClass, value, c.Name)
	}
	return r.Class(name)
}

func (r *Registry) build(defs map[string]*Class) (map[string]*Class, error) {
	built := make(map[string]*Class, len(defs))
	visiting := make(map[string]bool)

	var flatten func(name string) (*Class, error)
	flatten = func(name string) (*Class, error) {
		if c, ok := built[name]; ok {
			return c, nil
		}
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClass, name)
		}
		if visiting[name] {
			return nil, fmt.Errorf("class %s inherits from itself", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		c := &Class{
			Name:               def.Name,
			Collection:         def.Collection,
			Embedded:           def.Embedded,
			Parent:             def.Parent,
			DiscriminatorField: def.DiscriminatorField,
			DiscriminatorValue: def.DiscriminatorValue,
			fields:             make(map[string]*Field),
		}
		if def.DiscriminatorMap != nil {
			c.DiscriminatorMap = make(map[string]string, len(def.DiscriminatorMap))
			for k, v := range def.DiscriminatorMap {
				c.DiscriminatorMap[k] = v
			}
		}
		if def.Parent != "" {
			parent, err := flatten(def.Parent)
			if err != nil {
				return nil, fmt.Errorf("class %s: %w", name, err)
			}
			if c.Collection == "" {
				c.Collection = parent.Collection
			}
			if c.DiscriminatorField == "" {
				c.DiscriminatorField = parent.DiscriminatorField
			}
			c.Embedded = c.Embedded || parent.Embedded
			for _, f := range parent.Fields {
				c.addField(f)
			}
		}
		for _, f := range def.Fields {
			field, err := r.buildField(f)
			if err != nil {
				return nil, fmt.Errorf("class %s: %w", name, err)
			}
			c.addField(field)
		}
		if c.Collection == "" && !c.Embedded {
			c.Collection = c.Name
		}
		built[name] = c
		return c, nil
	}

	for name := range defs {
		if _, err := flatten(name); err != nil {
			return nil, err
		}
	}
	for _, c := range built {
		for value, target := range c.DiscriminatorMap {
			t, ok := built[target]
			if !ok {
				return nil, fmt.Errorf("class %s: discriminator %q: %w: %s", c.Name, value, ErrUnknownClass, target)
			}
			if t.DiscriminatorValue == "" {
				t.DiscriminatorValue = value
			}
		}
	}
	// register discriminator values on the hierarchy root
	for _, c := range built {
		if c.DiscriminatorValue == "" {
			continue
		}
		root := r.rootOf(built, c)
		if root.DiscriminatorMap == nil {
			root.DiscriminatorMap = make(map[string]string)
		}
		if other, ok := root.DiscriminatorMap[c.DiscriminatorValue]; ok && other != c.Name {
			return nil, fmt.Errorf("discriminator %q is used by %s and %s", c.DiscriminatorValue, other, c.Name)
		}
		root.DiscriminatorMap[c.DiscriminatorValue] = c.Name
	}
	for _, c := range built {
		if c.DiscriminatorField == "" && (c.DiscriminatorValue != "" || len(r.rootOf(built, c).DiscriminatorMap) > 0) {
			c.DiscriminatorField = r.discriminatorField
		}
		for _, f := range c.Fields {
			if err := validateField(built, c, f); err != nil {
				return nil, err
			}
		}
	}
	return built, nil
}

func (r *Registry) rootOf(built map[string]*Class, c *Class) *Class {
	for c.Parent != "" {
		c = built[c.Parent]
	}
	return c
}

func (r *Registry) buildField(def *Field) (*Field, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("field name is required")
	}
	if def.Name == IDField {
		return nil, fmt.Errorf("field %s is reserved", IDField)
	}
	f := *def
	if f.Type.IsMany() {
		policy, err := r.resolver.Resolve(f.Strategy)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		f.Policy = policy
		f.Strategy = policy.Name()
	}
	return &f, nil
}

func validateField(built map[string]*Class, c *Class, f *Field) error {
	if !f.Type.IsAssociation() {
		return nil
	}
	target, ok := built[f.Target]
	if !ok {
		return fmt.Errorf("class %s field %s: %w: %q", c.Name, f.Name, ErrUnknownClass, f.Target)
	}
	if f.Type.IsEmbedded() && !target.Embedded {
		return fmt.Errorf("class %s field %s: target %s is not embedded", c.Name, f.Name, target.Name)
	}
	if f.Type.IsReference() && target.Embedded {
		return fmt.Errorf("class %s field %s: target %s is embedded", c.Name, f.Name, target.Name)
	}
	return nil
}

func (c *Class) addField(f *Field) {
	if _, ok := c.fields[f.Name]; ok {
		for i, existing := range c.Fields {
			if existing.Name == f.Name {
				c.Fields[i] = f
			}
		}
	} else {
		c.Fields = append(c.Fields, f)
	}
	c.fields[f.Name] = f
}
