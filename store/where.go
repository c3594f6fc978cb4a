package store

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/ipld/go-ipld-prime/datamodel"
)

type where struct {
	expression string
	program    *goja.Program
}

// Where matches documents for which the JavaScript expression is truthy.
// The document is bound to this, for example "Array.isArray(this.tags)".
func Where(expression string) (Criteria, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	program, err := goja.Compile("where", fmt.Sprintf("(function(){ return (%s); })", expression), false)
	if err != nil {
		return nil, fmt.Errorf("invalid where expression: %w", err)
	}
	return &where{expression: expression, program: program}, nil
}

func (c *where) Match(doc map[string]any) (bool, error) {
	vm := goja.New()
	value, err := vm.RunProgram(c.program)
	if err != nil {
		return false, err
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return false, fmt.Errorf("where expression %q did not compile to a function", c.expression)
	}
	this, err := toJS(vm, doc)
	if err != nil {
		return false, err
	}
	result, err := fn(this)
	if err != nil {
		return false, fmt.Errorf("where expression %q: %w", c.expression, err)
	}
	return result.ToBoolean(), nil
}

// toJS converts a decoded document value into a JavaScript value.
func toJS(vm *goja.Runtime, v any) (goja.Value, error) {
	switch t := v.(type) {
	case map[string]any:
		obj := vm.NewObject()
		for k, e := range t {
			value, err := toJS(vm, e)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, value); err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
		}
		return obj, nil
	case []any:
		items := make([]any, len(t))
		for i, e := range t {
			value, err := toJS(vm, e)
			if err != nil {
				return nil, err
			}
			items[i] = value
		}
		return vm.NewArray(items...), nil
	case datamodel.Link:
		return vm.ToValue(t.String()), nil
	default:
		return vm.ToValue(v), nil
	}
}
