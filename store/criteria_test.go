package store

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDoc = map[string]any{
	"_id":     "1",
	"hash":    map[string]any{"0": "x", "2": "z"},
	"colPush": []any{"x", "z"},
	"age":     int64(30),
	"nested":  map[string]any{"list": []any{map[string]any{"name": "a"}}},
}

func match(t *testing.T, c Criteria) bool {
	ok, err := c.Match(testDoc)
	require.NoError(t, err)
	return ok
}

func TestCriteria(t *testing.T) {
	assert.True(t, match(t, ID("1")))
	assert.False(t, match(t, ID("2")))
	assert.True(t, match(t, Eq("hash", map[string]any{"2": "z", "0": "x"})))
	assert.False(t, match(t, Eq("hash", []any{"x", "z"})))
	assert.True(t, match(t, Eq("colPush", []any{"x", "z"})))
	assert.False(t, match(t, Eq("colPush", []any{"z", "x"})))
	assert.True(t, match(t, Eq("colPush", "z")))
	assert.True(t, match(t, Eq("age", 30)))
	assert.True(t, match(t, Eq("missing", nil)))
	assert.True(t, match(t, Eq("nested.list.0.name", "a")))
	assert.True(t, match(t, IsObject("hash")))
	assert.False(t, match(t, IsArray("hash")))
	assert.True(t, match(t, IsArray("colPush")))
	assert.True(t, match(t, Type("age", TypeLong)))
	assert.True(t, match(t, Exists("age", true)))
	assert.True(t, match(t, Exists("missing", false)))
	assert.True(t, match(t, In("age", 1, 30)))
	assert.True(t, match(t, Not(ID("2"))))
	assert.False(t, match(t, And(ID("1"), IsArray("hash"))))
	assert.True(t, match(t, Or(ID("2"), IsObject("hash"))))
}

func TestWhere(t *testing.T) {
	c, err := Where("Array.isArray(this.colPush)")
	require.NoError(t, err)
	assert.True(t, match(t, c))

	c, err = Where("Array.isArray(this.hash)")
	require.NoError(t, err)
	assert.False(t, match(t, c))

	c, err = Where("this.age > 18 && this.hash['2'] === 'z'")
	require.NoError(t, err)
	assert.True(t, match(t, c))

	c, err = Where("this.missing.field")
	require.NoError(t, err)
	_, err = c.Match(testDoc)
	assert.Error(t, err)

	_, err = Where("function (")
	assert.Error(t, err)
}

func TestWhereNestedValues(t *testing.T) {
	c, err := Where("this.nested.list[0].name === 'a' && Array.isArray(this.nested.list)")
	require.NoError(t, err)
	assert.True(t, match(t, c))

	value, err := toJS(goja.New(), testDoc)
	require.NoError(t, err)
	obj := value.ToObject(nil)
	assert.Equal(t, "1", obj.Get("_id").String())
	assert.Equal(t, "x", obj.Get("hash").ToObject(nil).Get("0").String())
}

func TestParseCriteria(t *testing.T) {
	c, err := ParseCriteria(map[string]any{
		"_id": "1",
		"$and": []any{
			map[string]any{"hash": map[string]any{"0": "x", "2": "z"}},
			map[string]any{"hash": map[string]any{"$type": 3}},
		},
	})
	require.NoError(t, err)
	assert.True(t, match(t, c))

	id, ok := idOf(c)
	assert.True(t, ok)
	assert.Equal(t, "1", id)

	c, err = ParseCriteria(map[string]any{
		"_id": "1",
		"$and": []map[string]any{
			{"colPush": []any{"x", "z"}},
			{"$where": "Array.isArray(this.colPush)"},
		},
	})
	require.NoError(t, err)
	assert.True(t, match(t, c))

	c, err = ParseCriteria(map[string]any{
		"age":  map[string]any{"$ne": 31, "$exists": true},
		"hash": map[string]any{"$type": "array"},
	})
	require.NoError(t, err)
	assert.False(t, match(t, c))

	c, err = ParseCriteria(map[string]any{"$or": []any{
		map[string]any{"age": map[string]any{"$in": []any{1, 2}}},
		map[string]any{"colPush": map[string]any{"$not": map[string]any{"$type": 3}}},
	}})
	require.NoError(t, err)
	assert.True(t, match(t, c))

	_, err = ParseCriteria(map[string]any{"$bogus": 1})
	assert.Error(t, err)

	_, err = ParseCriteria(map[string]any{"age": map[string]any{"$gt": 1}})
	assert.Error(t, err)

	_, err = ParseCriteria(map[string]any{"hash": map[string]any{"$type": 99}})
	assert.Error(t, err)
}
