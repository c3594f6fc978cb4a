package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffPositionalSingleRemove(t *testing.T) {
	old := New("x", "y", "z")
	new := New("x", "y", "z")
	new.Remove("1")

	ops := Diff(old, new, Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpRemove, ops[0].Kind)
	assert.Equal(t, 1, ops[0].Index)
	assert.Equal(t, "y", ops[0].Value)
}

func TestDiffPositionalAppend(t *testing.T) {
	old := New("x", "y")
	new := New("x", "y", "z", "w")

	ops := Diff(old, new, Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 2)
	assert.Equal(t, Operation{Kind: OpInsert, Index: 2, Append: true, Value: "z"}, ops[0])
	assert.Equal(t, Operation{Kind: OpInsert, Index: 3, Append: true, Value: "w"}, ops[1])
}

func TestDiffPositionalReorderReplaces(t *testing.T) {
	old := New("x", "y", "z")
	new := New("z", "x", "y")

	ops := Diff(old, new, Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplaceAll, ops[0].Kind)
	assert.Equal(t, []any{"z", "x", "y"}, ops[0].Values)
}

func TestDiffPositionalPrependReplaces(t *testing.T) {
	ops := Diff(New("x"), New("w", "x"), Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplaceAll, ops[0].Kind)
}

func TestDiffPositionalThreshold(t *testing.T) {
	old := New("a", "b", "c", "d")
	new := New("a")

	ops := Diff(old, new, Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplaceAll, ops[0].Kind)

	ops = Diff(old, New("a", "d"), Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 2)
	assert.Equal(t, OpRemove, ops[0].Kind)
	assert.Equal(t, 1, ops[0].Index)
	assert.Equal(t, OpRemove, ops[1].Kind)
	assert.Equal(t, 2, ops[1].Index)
}

func TestDiffPositionalDuplicates(t *testing.T) {
	ops := Diff(New("x", "x", "y"), New("x", "y"), Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpRemove, ops[0].Kind)
	assert.Equal(t, 1, ops[0].Index)
}

func TestDiffPositionalRemoveRepeatedElement(t *testing.T) {
	old := New("a", "b", "a")
	new := old.Clone()
	new.Remove("0")

	ops := Diff(old, new, Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, Operation{Kind: OpRemove, Index: 0, Value: "a"}, ops[0])

	new = old.Clone()
	new.Remove("2")
	ops = Diff(old, new, Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, Operation{Kind: OpRemove, Index: 2, Value: "a"}, ops[0])
}

func TestDiffPositionalAppendRepeatedElement(t *testing.T) {
	ops := Diff(New("b", "a"), New("a", "a"), Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 2)
	assert.Equal(t, Operation{Kind: OpRemove, Index: 0, Value: "b"}, ops[0])
	assert.Equal(t, Operation{Kind: OpInsert, Index: 1, Append: true, Value: "a"}, ops[1])

	ops = Diff(New("a", "b", "a"), New("a", "b", "a", "a"), Positional, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, Operation{Kind: OpInsert, Index: 3, Append: true, Value: "a"}, ops[0])
}

func TestDiffEqual(t *testing.T) {
	for _, mode := range []Reconciliation{Positional, Keyed, Reindexed, Union} {
		ops := Diff(New("x", int64(1)), New("x", 1), mode, Values, DefaultReplaceThreshold)
		assert.Empty(t, ops, "mode %d", mode)
	}
}

func TestDiffKeyed(t *testing.T) {
	old := New("x", "y", "z")
	new := old.Clone()
	new.Remove("1")

	ops := Diff(old, new, Keyed, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, Operation{Kind: OpRemove, Key: "1", Value: "y"}, ops[0])

	new.Set("5", "w")
	ops = Diff(old, new, Keyed, Values, 100)
	require.Len(t, ops, 2)
	assert.Equal(t, Operation{Kind: OpInsert, Key: "5", Value: "w"}, ops[1])

	ops = Diff(old, new, Keyed, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplaceAll, ops[0].Kind)
}

func TestDiffReindexed(t *testing.T) {
	old := New("x", "y", "z")
	new := old.Clone()
	new.Remove("1")

	ops := Diff(old, new, Reindexed, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplaceAll, ops[0].Kind)
	assert.Equal(t, []any{"x", "z"}, ops[0].Values)
}

func TestDiffUnion(t *testing.T) {
	ops := Diff(New("x", "y"), New("x", "y", "z", "z"), Union, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, Operation{Kind: OpInsert, Index: 2, Append: true, Value: "z"}, ops[0])

	ops = Diff(New("x", "y", "z"), New("x", "z"), Union, Values, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpReplaceAll, ops[0].Kind)
	assert.Equal(t, []any{"x", "z"}, ops[0].Values)
}

type byName struct{}

func (byName) Identity(v any) any { return v.(map[string]any)["name"] }

func (byName) Equal(old, new any) bool {
	return old.(map[string]any)["age"] == new.(map[string]any)["age"]
}

func TestDiffPositionalModified(t *testing.T) {
	old := New(
		map[string]any{"name": "a", "age": 1},
		map[string]any{"name": "b", "age": 1},
		map[string]any{"name": "c", "age": 1},
	)
	new := New(
		map[string]any{"name": "a", "age": 2},
		map[string]any{"name": "b", "age": 1},
		map[string]any{"name": "c", "age": 1},
	)
	ops := Diff(old, new, Positional, byName{}, DefaultReplaceThreshold)
	require.Len(t, ops, 1)
	assert.Equal(t, OpInsert, ops[0].Kind)
	assert.Equal(t, 0, ops[0].Index)
	assert.False(t, ops[0].Append)
}
