package document

import (
	"fmt"
	"sort"
)

// Document is a tracked entity: an identifier, a class name and a set of field values.
//
// Field values are plain Go values for scalar, hash and collection fields,
// *Document for embed-one and reference-one fields and a *collection.Collection
// or slice of *Document for embed-many and reference-many fields.
type Document struct {
	id     string
	class  string
	fields map[string]any
}

// New returns a new document of the given class without an identifier.
func New(class string) *Document {
	return &Document{
		class:  class,
		fields: make(map[string]any),
	}
}

// ID returns the identifier or an empty string when none was assigned.
func (d *Document) ID() string {
	return d.id
}

// SetID assigns the identifier.
func (d *Document) SetID(id string) {
	d.id = id
}

// Class returns the class name.
func (d *Document) Class() string {
	return d.class
}

// Get returns the value of the named field.
func (d *Document) Get(name string) any {
	return d.fields[name]
}

// Has reports whether the named field has been assigned.
func (d *Document) Has(name string) bool {
	_, ok := d.fields[name]
	return ok
}

// Set assigns the named field and returns the document.
func (d *Document) Set(name string, value any) *Document {
	d.fields[name] = value
	return d
}

// Unset removes the named field.
func (d *Document) Unset(name string) {
	delete(d.fields, name)
}

// Fields returns the names of all assigned fields in sorted order.
func (d *Document) Fields() []string {
	names := make([]string, 0, len(d.fields))
	for k := range d.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (d *Document) String() string {
	if d.id == "" {
		return fmt.Sprintf("%s(new@%p)", d.class, d)
	}
	return fmt.Sprintf("%s(%s)", d.class, d.id)
}

// State is the lifecycle state of a document within a unit of work.
type State int

const (
	// StateNew documents are not yet tracked.
	StateNew State = iota
	// StateManaged documents are tracked for changes.
	StateManaged
	// StateDetached documents have an identifier but are no longer tracked.
	StateDetached
	// StateRemoved documents are scheduled for deletion.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateManaged:
		return "managed"
	case StateDetached:
		return "detached"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
