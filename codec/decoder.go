package codec

import (
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// Decode converts the given IPLD node into plain Go values.
//
// Maps become map[string]any, lists become []any, integers become int64
// and links are returned as datamodel.Link.
func Decode(n datamodel.Node) (any, error) {
	switch n.Kind() {
	case datamodel.Kind_Null, datamodel.Kind_Invalid:
		return nil, nil
	case datamodel.Kind_Bool:
		return n.AsBool()
	case datamodel.Kind_Int:
		return n.AsInt()
	case datamodel.Kind_Float:
		return n.AsFloat()
	case datamodel.Kind_String:
		return n.AsString()
	case datamodel.Kind_Bytes:
		return n.AsBytes()
	case datamodel.Kind_Link:
		return n.AsLink()
	case datamodel.Kind_List:
		return decodeList(n)
	case datamodel.Kind_Map:
		return decodeMap(n)
	default:
		return nil, fmt.Errorf("no decoder for kind %s", n.Kind())
	}
}

// DecodeMap decodes a map node into a map[string]any.
func DecodeMap(n datamodel.Node) (map[string]any, error) {
	if n.Kind() != datamodel.Kind_Map {
		return nil, fmt.Errorf("expected map but got %s", n.Kind())
	}
	return decodeMap(n)
}

func decodeList(n datamodel.Node) ([]any, error) {
	out := make([]any, 0, n.Length())
	iter := n.ListIterator()
	for !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		val, err := Decode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func decodeMap(n datamodel.Node) (map[string]any, error) {
	out := make(map[string]any, n.Length())
	iter := n.MapIterator()
	for !iter.Done() {
		k, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		key, err := k.AsString()
		if err != nil {
			return nil, err
		}
		val, err := Decode(v)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}
