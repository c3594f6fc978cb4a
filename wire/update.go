package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nasdf/tapir/changeset"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/store"
	"github.com/nasdf/tapir/strategy"
)

// Update returns the store update that applies the change set to the persisted document.
func (n *Normalizer) Update(cs *changeset.ChangeSet) (*store.Update, error) {
	u := store.NewUpdate()
	for _, c := range cs.Changes {
		if err := n.change(u, c); err != nil {
			return nil, fmt.Errorf("%s: %w", cs.Doc, err)
		}
	}
	return u, nil
}

func (n *Normalizer) change(u *store.Update, c *changeset.Change) error {
	f := c.Field
	if c.New == nil {
		u.Unset(f.Name)
		return nil
	}
	if c.Old == nil || !f.Type.IsMany() || replaces(c.Ops) || (f.Policy.Name() == strategy.Set && dottedKeys(c.Ops)) {
		v, err := n.Value(c.New, f)
		if err != nil {
			return err
		}
		u.Set(f.Name, v)
		return nil
	}

	switch f.Policy.Name() {
	case strategy.Set:
		for _, op := range c.Ops {
			path := f.Name + "." + op.Key
			if op.Kind == collection.OpRemove {
				u.Unset(path)
				continue
			}
			v, err := n.element(op.Value, f)
			if err != nil {
				return err
			}
			u.Set(path, v)
		}

	case strategy.AddToSet:
		var values []any
		for _, op := range c.Ops {
			if op.Kind != collection.OpInsert || !op.Append {
				return fmt.Errorf("field %s: unexpected %s operation", f.Name, op.Kind)
			}
			v, err := n.element(op.Value, f)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		u.AddToSet(f.Name, values...)

	case strategy.PushAll:
		removed := false
		for _, op := range c.Ops {
			if op.Kind == collection.OpRemove {
				u.Unset(f.Name + "." + strconv.Itoa(op.Index))
				removed = true
			}
		}
		if removed {
			u.PullNull(f.Name)
		}
		var appended []any
		for _, op := range c.Ops {
			if op.Kind != collection.OpInsert {
				continue
			}
			v, err := n.element(op.Value, f)
			if err != nil {
				return err
			}
			if op.Append {
				appended = append(appended, v)
			} else {
				u.Set(f.Name+"."+strconv.Itoa(op.Index), v)
			}
		}
		if len(appended) > 0 {
			u.Push(f.Name, appended...)
		}

	default:
		v, err := n.Value(c.New, f)
		if err != nil {
			return err
		}
		u.Set(f.Name, v)
	}
	return nil
}

func (n *Normalizer) element(value any, f *mapping.Field) (any, error) {
	doc, ok := value.(*document.Document)
	if !ok {
		return nil, fmt.Errorf("field %s: expected document but got %T", f.Name, value)
	}
	return n.Element(doc, f)
}

// dottedKeys reports whether an element key would be read as a nested path.
func dottedKeys(ops []collection.Operation) bool {
	for _, op := range ops {
		if strings.Contains(op.Key, ".") {
			return true
		}
	}
	return false
}

func replaces(ops []collection.Operation) bool {
	for _, op := range ops {
		if op.Kind == collection.OpReplaceAll {
			return true
		}
	}
	return false
}
