package wire

import (
	"testing"

	"github.com/nasdf/tapir/changeset"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/store"
	"github.com/nasdf/tapir/strategy"

	"github.com/google/go-cmp/cmp"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *mapping.Registry {
	r := mapping.NewRegistry()
	err := r.Register(
		&mapping.Class{Name: "Phone", Embedded: true, Fields: []*mapping.Field{
			{Name: "number", Type: mapping.TypeScalar},
		}},
		&mapping.Class{Name: "User", Collection: "users", Fields: []*mapping.Field{
			{Name: "name", Type: mapping.TypeScalar},
			{Name: "hash", Type: mapping.TypeHash},
			{Name: "list", Type: mapping.TypeCollection},
			{Name: "address", Type: mapping.TypeEmbedOne, Target: "Phone"},
			{Name: "pushAll", Type: mapping.TypeEmbedMany, Target: "Phone", Strategy: strategy.PushAll},
			{Name: "set", Type: mapping.TypeEmbedMany, Target: "Phone", Strategy: strategy.Set},
			{Name: "setArray", Type: mapping.TypeEmbedMany, Target: "Phone", Strategy: strategy.SetArray},
			{Name: "addToSet", Type: mapping.TypeEmbedMany, Target: "Phone", Strategy: strategy.AddToSet},
			{Name: "friends", Type: mapping.TypeReferenceMany, Target: "User", Strategy: strategy.AddToSet},
			{Name: "best", Type: mapping.TypeReferenceOne, Target: "User"},
		}},
		&mapping.Class{Name: "Participant", Collection: "participants", DiscriminatorMap: map[string]string{
			"solo": "ParticipantSolo",
		}},
		&mapping.Class{Name: "ParticipantSolo", Parent: "Participant", Fields: []*mapping.Field{
			{Name: "user", Type: mapping.TypeReferenceOne, Target: "User"},
		}},
	)
	require.NoError(t, err)
	return r
}

func phone(id, number string) *document.Document {
	d := document.New("Phone").Set("number", number)
	d.SetID(id)
	return d
}

func phoneMap(id, number string) map[string]any {
	return map[string]any{"_id": id, "number": number}
}

func field(t *testing.T, r *mapping.Registry, name string) *mapping.Field {
	class, err := r.Class("User")
	require.NoError(t, err)
	f := class.Field(name)
	require.NotNil(t, f)
	return f
}

func TestNormalizeHash(t *testing.T) {
	r := newRegistry(t)
	n := NewNormalizer(r)
	f := field(t, r, "hash")

	node, err := n.Normalize(map[string]any{"0": "x", "2": "z", "name": "y"}, f)
	require.NoError(t, err)
	assert.Equal(t, datamodel.Kind_Map, node.Kind())

	v, err := n.Value(map[int]any{0: "a", 5: "b"}, f)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"0": "a", "5": "b"}, v)

	col := collection.New("x", "y", "z")
	col.Remove("1")
	v, err = n.Value(col, f)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"0": "x", "2": "z"}, v)
}

func TestNormalizeCollection(t *testing.T) {
	r := newRegistry(t)
	n := NewNormalizer(r)
	f := field(t, r, "list")

	node, err := n.Normalize([]any{"x", "y"}, f)
	require.NoError(t, err)
	assert.Equal(t, datamodel.Kind_List, node.Kind())

	col := collection.New("x", "y", "z")
	col.Remove("1")
	v, err := n.Value(col, f)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "z"}, v)

	v, err = n.Value(map[string]any{"3": "c", "1": "a"}, f)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c"}, v)
}

func TestNormalizeStrategyShapes(t *testing.T) {
	r := newRegistry(t)
	n := NewNormalizer(r)

	value := func() *collection.Collection {
		col := collection.New(phone("a", "1"), phone("b", "2"), phone("c", "3"))
		col.Remove("1")
		return col
	}
	list := []any{phoneMap("a", "1"), phoneMap("c", "3")}

	tests := []struct {
		field  string
		expect any
	}{
		{strategy.PushAll, list},
		{strategy.Set, map[string]any{"0": phoneMap("a", "1"), "2": phoneMap("c", "3")}},
		{strategy.SetArray, list},
		{strategy.AddToSet, list},
	}
	for _, test := range tests {
		t.Run(test.field, func(t *testing.T) {
			v, err := n.Value(value(), field(t, r, test.field))
			require.NoError(t, err)
			if diff := cmp.Diff(test.expect, v); diff != "" {
				t.Errorf("unexpected value (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeAddToSetDedups(t *testing.T) {
	r := newRegistry(t)
	n := NewNormalizer(r)

	bob := document.New("User")
	bob.SetID("bob")

	v, err := n.Value([]*document.Document{bob, bob}, field(t, r, "friends"))
	require.NoError(t, err)
	assert.Equal(t, []any{"bob"}, v)
}

func TestNormalizeReferenceWithoutID(t *testing.T) {
	r := newRegistry(t)
	n := NewNormalizer(r)

	_, err := n.Value(document.New("User"), field(t, r, "best"))
	assert.Error(t, err)
}

func TestNormalizeDocument(t *testing.T) {
	r := newRegistry(t)
	n := NewNormalizer(r)

	user := document.New("User")
	user.SetID("u1")

	solo := document.New("ParticipantSolo").Set("user", user)
	solo.SetID("p1")

	class, err := r.Class("ParticipantSolo")
	require.NoError(t, err)

	v, err := n.document(class, solo)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "p1", "type": "solo", "user": "u1"}, v)

	node, err := n.NormalizeDocument(class, solo)
	require.NoError(t, err)
	assert.Equal(t, int64(3), node.Length())
}

// flush computes the change set of doc since snapshot and applies the
// resulting update to the persisted form taken at the same time.
func flush(t *testing.T, r *mapping.Registry, doc *document.Document, mutate func()) (*store.Update, map[string]any) {
	n := NewNormalizer(r)
	c := changeset.NewComputer(r)

	class, err := r.Class(doc.Class())
	require.NoError(t, err)

	persisted, err := n.document(class, doc)
	require.NoError(t, err)
	snapshot, err := c.Take(class, doc)
	require.NoError(t, err)

	mutate()

	cs, err := c.ComputeOne(changeset.Tracked{Doc: doc, Class: class, Snapshot: snapshot})
	require.NoError(t, err)
	require.NotNil(t, cs)

	u, err := n.Update(cs)
	require.NoError(t, err)
	require.NoError(t, u.Apply(persisted))

	expect, err := n.document(class, doc)
	require.NoError(t, err)
	require.Equal(t, expect, persisted)
	return u, persisted
}

func TestUpdatePushAllSingleRemoval(t *testing.T) {
	r := newRegistry(t)
	doc := document.New("User")
	doc.SetID("u1")
	doc.Set("pushAll", []*document.Document{phone("a", "1"), phone("b", "2"), phone("c", "3")})

	u, persisted := flush(t, r, doc, func() {
		phones := doc.Get("pushAll").([]*document.Document)
		doc.Set("pushAll", []*document.Document{phones[0], phones[2]})
	})
	assert.Equal(t, []store.UpdateOp{
		{Kind: store.UpdateUnset, Path: "pushAll.1"},
		{Kind: store.UpdatePullNull, Path: "pushAll"},
	}, u.Ops)
	assert.Equal(t, []any{phoneMap("a", "1"), phoneMap("c", "3")}, persisted["pushAll"])
}

func TestUpdatePushAllAppendAndModify(t *testing.T) {
	r := newRegistry(t)
	doc := document.New("User")
	doc.SetID("u1")
	a, b := phone("a", "1"), phone("b", "2")
	doc.Set("pushAll", []*document.Document{a, b})

	u, _ := flush(t, r, doc, func() {
		b.Set("number", "22")
		doc.Set("pushAll", []*document.Document{a, b, phone("c", "3")})
	})
	assert.Equal(t, []store.UpdateOp{
		{Kind: store.UpdateSet, Path: "pushAll.1", Value: phoneMap("b", "22")},
		{Kind: store.UpdatePush, Path: "pushAll", Values: []any{phoneMap("c", "3")}},
	}, u.Ops)
}

func TestUpdateSetRemovalKeepsKeys(t *testing.T) {
	r := newRegistry(t)
	doc := document.New("User")
	doc.SetID("u1")
	col := collection.New(phone("a", "1"), phone("b", "2"), phone("c", "3"))
	doc.Set("set", col)

	u, persisted := flush(t, r, doc, func() {
		col.Remove("1")
	})
	assert.Equal(t, []store.UpdateOp{{Kind: store.UpdateUnset, Path: "set.1"}}, u.Ops)
	assert.Equal(t, map[string]any{"0": phoneMap("a", "1"), "2": phoneMap("c", "3")}, persisted["set"])
}

func TestUpdateSetDottedKeyWritesWholeField(t *testing.T) {
	r := newRegistry(t)
	doc := document.New("User")
	doc.SetID("u1")
	col := collection.New(phone("a", "1"))
	doc.Set("set", col)

	u, persisted := flush(t, r, doc, func() {
		col.Set("x.y", phone("c", "3"))
	})
	require.Len(t, u.Ops, 1)
	assert.Equal(t, store.UpdateSet, u.Ops[0].Kind)
	assert.Equal(t, "set", u.Ops[0].Path)
	assert.Equal(t, map[string]any{"0": phoneMap("a", "1"), "x.y": phoneMap("c", "3")}, persisted["set"])
}

func TestUpdateReindexingStrategiesRemoval(t *testing.T) {
	for _, name := range []string{strategy.SetArray, strategy.AddToSet} {
		t.Run(name, func(t *testing.T) {
			r := newRegistry(t)
			doc := document.New("User")
			doc.SetID("u1")
			col := collection.New(phone("a", "1"), phone("b", "2"), phone("c", "3"))
			doc.Set(name, col)

			u, persisted := flush(t, r, doc, func() {
				col.Remove("1")
			})
			require.Len(t, u.Ops, 1)
			assert.Equal(t, store.UpdateSet, u.Ops[0].Kind)
			assert.Equal(t, []any{phoneMap("a", "1"), phoneMap("c", "3")}, persisted[name])
		})
	}
}

func TestUpdateAddToSetAppends(t *testing.T) {
	r := newRegistry(t)
	doc := document.New("User")
	doc.SetID("u1")
	bob := document.New("User")
	bob.SetID("bob")
	alice := document.New("User")
	alice.SetID("alice")
	doc.Set("friends", []*document.Document{bob})

	u, _ := flush(t, r, doc, func() {
		doc.Set("friends", []*document.Document{bob, alice})
	})
	assert.Equal(t, []store.UpdateOp{
		{Kind: store.UpdateAddToSet, Path: "friends", Values: []any{"alice"}},
	}, u.Ops)
}

func TestUpdateScalarsAndUnset(t *testing.T) {
	r := newRegistry(t)
	doc := document.New("User")
	doc.SetID("u1")
	doc.Set("name", "Bob")
	doc.Set("hash", map[string]any{"0": "x"})
	doc.Set("address", phone("p", "1"))

	u, persisted := flush(t, r, doc, func() {
		doc.Set("name", "Alice")
		doc.Unset("hash")
		doc.Get("address").(*document.Document).Set("number", "2")
	})
	assert.Len(t, u.Ops, 3)
	assert.Equal(t, "Alice", persisted["name"])
	assert.NotContains(t, persisted, "hash")
	assert.Equal(t, phoneMap("p", "2"), persisted["address"])
}
