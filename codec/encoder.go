package codec

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// Encode converts the given Go value into an IPLD node.
//
// Map keys are written in sorted order so equal values always produce the same block.
func Encode(value any) (datamodel.Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := Assign(nb, value); err != nil {
		return nil, err
	}
	return nb.Build(), nil
}

// Assign assembles the given Go value using the given assembler.
func Assign(na datamodel.NodeAssembler, value any) error {
	switch t := value.(type) {
	case nil:
		return na.AssignNull()
	case datamodel.Node:
		return na.AssignNode(t)
	case datamodel.Link:
		return na.AssignLink(t)
	case string:
		return na.AssignString(t)
	case []byte:
		return na.AssignBytes(t)
	case bool:
		return na.AssignBool(t)
	case int:
		return na.AssignInt(int64(t))
	case int32:
		return na.AssignInt(int64(t))
	case int64:
		return na.AssignInt(t)
	case uint32:
		return na.AssignInt(int64(t))
	case float32:
		return na.AssignFloat(float64(t))
	case float64:
		return na.AssignFloat(t)
	case []any:
		return assignList(na, t)
	case []string:
		vals := make([]any, len(t))
		for i, v := range t {
			vals[i] = v
		}
		return assignList(na, vals)
	case map[string]any:
		return assignMap(na, t)
	case map[int]any:
		vals := make(map[string]any, len(t))
		for k, v := range t {
			vals[strconv.Itoa(k)] = v
		}
		return assignMap(na, vals)
	default:
		return fmt.Errorf("no encoder for %T", value)
	}
}

func assignList(na datamodel.NodeAssembler, value []any) error {
	la, err := na.BeginList(int64(len(value)))
	if err != nil {
		return err
	}
	for _, v := range value {
		if err := Assign(la.AssembleValue(), v); err != nil {
			return err
		}
	}
	return la.Finish()
}

func assignMap(na datamodel.NodeAssembler, value map[string]any) error {
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ma, err := na.BeginMap(int64(len(value)))
	if err != nil {
		return err
	}
	for _, k := range keys {
		va, err := ma.AssembleEntry(k)
		if err != nil {
			return err
		}
		if err := Assign(va, value[k]); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	return ma.Finish()
}
