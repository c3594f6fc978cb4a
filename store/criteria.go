package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nasdf/tapir/codec"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Criteria selects documents.
type Criteria interface {
	// Match reports whether the decoded document matches.
	Match(doc map[string]any) (bool, error)
}

// ValueType is a wire type that can be asserted with Type.
// The values follow the BSON type numbers used by document databases.
type ValueType int

const (
	TypeDouble ValueType = 1
	TypeString ValueType = 2
	TypeObject ValueType = 3
	TypeArray  ValueType = 4
	TypeBinary ValueType = 5
	TypeBool   ValueType = 8
	TypeNull   ValueType = 10
	TypeInt    ValueType = 16
	TypeLong   ValueType = 18
)

var valueTypeNames = map[string]ValueType{
	"double":  TypeDouble,
	"string":  TypeString,
	"object":  TypeObject,
	"array":   TypeArray,
	"binData": TypeBinary,
	"bool":    TypeBool,
	"null":    TypeNull,
	"int":     TypeInt,
	"long":    TypeLong,
}

// ParseValueType accepts a type number or alias.
func ParseValueType(v any) (ValueType, error) {
	switch t := v.(type) {
	case string:
		if vt, ok := valueTypeNames[t]; ok {
			return vt, nil
		}
	case int:
		return checkValueType(ValueType(t))
	case int64:
		return checkValueType(ValueType(t))
	case float64:
		return checkValueType(ValueType(t))
	}
	return 0, fmt.Errorf("unknown value type %v", v)
}

func checkValueType(vt ValueType) (ValueType, error) {
	for _, known := range valueTypeNames {
		if known == vt {
			return vt, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %d", vt)
}

func (vt ValueType) matches(v any) bool {
	switch v.(type) {
	case nil:
		return vt == TypeNull
	case map[string]any:
		return vt == TypeObject
	case []any:
		return vt == TypeArray
	case string:
		return vt == TypeString
	case []byte:
		return vt == TypeBinary
	case bool:
		return vt == TypeBool
	case float64:
		return vt == TypeDouble
	case int64:
		return vt == TypeInt || vt == TypeLong
	default:
		return false
	}
}

// Lookup returns the value at the dotted path within the document.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

type eq struct {
	path  string
	value any
}

// Eq matches documents whose field equals value. When the field is a list and value
// is not, the document matches if any element equals value. A nil value matches
// missing fields.
func Eq(path string, value any) Criteria {
	if n, ok := value.(datamodel.Node); ok {
		if v, err := codec.Decode(n); err == nil {
			value = v
		}
	}
	return &eq{path: path, value: value}
}

// ID matches the document with the given identifier.
func ID(id string) Criteria {
	return Eq(IDField, id)
}

func (c *eq) Match(doc map[string]any) (bool, error) {
	v, ok := Lookup(doc, c.path)
	if !ok {
		return c.value == nil, nil
	}
	if codec.Equal(v, c.value) {
		return true, nil
	}
	list, ok := v.([]any)
	if !ok {
		return false, nil
	}
	if _, ok := c.value.([]any); ok {
		return false, nil
	}
	for _, e := range list {
		if codec.Equal(e, c.value) {
			return true, nil
		}
	}
	return false, nil
}

func (c *eq) String() string {
	return fmt.Sprintf("%s == %v", c.path, c.value)
}

type in struct {
	path   string
	values []Criteria
}

// In matches documents whose field equals any of the values.
func In(path string, values ...any) Criteria {
	c := &in{path: path}
	for _, v := range values {
		c.values = append(c.values, Eq(path, v))
	}
	return c
}

func (c *in) Match(doc map[string]any) (bool, error) {
	return Or(c.values...).Match(doc)
}

type typed struct {
	path string
	typ  ValueType
}

// Type matches documents whose field is stored with the given wire type.
func Type(path string, typ ValueType) Criteria {
	return &typed{path: path, typ: typ}
}

// IsArray matches documents whose field is stored as an array.
func IsArray(path string) Criteria {
	return Type(path, TypeArray)
}

// IsObject matches documents whose field is stored as an object.
func IsObject(path string) Criteria {
	return Type(path, TypeObject)
}

func (c *typed) Match(doc map[string]any) (bool, error) {
	v, ok := Lookup(doc, c.path)
	if !ok {
		return false, nil
	}
	return c.typ.matches(v), nil
}

type exists struct {
	path   string
	exists bool
}

// Exists matches documents where the field presence equals want.
func Exists(path string, want bool) Criteria {
	return &exists{path: path, exists: want}
}

func (c *exists) Match(doc map[string]any) (bool, error) {
	_, ok := Lookup(doc, c.path)
	return ok == c.exists, nil
}

type and []Criteria

// And matches documents matching every criteria.
func And(criteria ...Criteria) Criteria {
	return and(criteria)
}

func (c and) Match(doc map[string]any) (bool, error) {
	for _, sub := range c {
		ok, err := sub.Match(doc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type or []Criteria

// Or matches documents matching any criteria.
func Or(criteria ...Criteria) Criteria {
	return or(criteria)
}

func (c or) Match(doc map[string]any) (bool, error) {
	for _, sub := range c {
		ok, err := sub.Match(doc)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

type not struct {
	criteria Criteria
}

// Not inverts the given criteria.
func Not(criteria Criteria) Criteria {
	return &not{criteria: criteria}
}

func (c *not) Match(doc map[string]any) (bool, error) {
	ok, err := c.criteria.Match(doc)
	return !ok && err == nil, err
}

// idOf returns the identifier the criteria is restricted to, if any.
func idOf(c Criteria) (string, bool) {
	switch t := c.(type) {
	case *eq:
		id, ok := t.value.(string)
		return id, ok && t.path == IDField
	case and:
		for _, sub := range t {
			if id, ok := idOf(sub); ok {
				return id, true
			}
		}
	}
	return "", false
}
