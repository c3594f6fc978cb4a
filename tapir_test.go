package tapir

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"text/template"

	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/config"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/storage"
	"github.com/nasdf/tapir/store"
	"github.com/nasdf/tapir/strategy"
	"github.com/nasdf/tapir/test"

	"github.com/ipld/go-car/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTapir(t *testing.T) {
	paths, err := test.TestCasePaths()
	require.NoError(t, err, "failed to walk test cases dir")

	for _, path := range paths {
		testCase, err := test.LoadTestCase(path)
		require.NoError(t, err, "failed to load test case %s", path)

		t.Run(path, func(st *testing.T) {
			st.Parallel()

			ctx := context.Background()
			dm, err := Open(ctx, config.Default(), testCase.Schema)
			require.NoError(st, err, "failed to open document manager")

			r := &runner{dm: dm, docs: make(map[string]*document.Document)}
			for i, op := range testCase.Operations {
				err := r.run(ctx, st, op)
				if op.Error != "" {
					require.ErrorContains(st, err, op.Error, "operation %d %s", i, op.Action)
				} else {
					require.NoError(st, err, "operation %d %s", i, op.Action)
				}
			}
		})
	}
}

type runner struct {
	dm   *DocumentManager
	docs map[string]*document.Document
}

func (r *runner) doc(name string) (*document.Document, error) {
	doc, ok := r.docs[name]
	if !ok {
		return nil, fmt.Errorf("unknown document %q", name)
	}
	return doc, nil
}

func (r *runner) run(ctx context.Context, t *testing.T, op test.Operation) error {
	switch op.Action {
	case "new":
		doc := document.New(op.Class)
		r.docs[op.Ref] = doc
		return r.set(doc, op.Fields)

	case "find":
		doc, err := r.doc(op.Ref)
		if err != nil {
			return err
		}
		found, err := r.dm.Find(ctx, op.Class, doc.ID())
		if err != nil {
			return err
		}
		r.docs[op.Ref] = found
		return nil

	case "flush":
		return r.dm.Flush(ctx)

	case "clear":
		r.dm.Clear()
		return nil

	case "expect":
		return r.expect(ctx, t, op)
	}

	doc, err := r.doc(op.Ref)
	if err != nil {
		return err
	}
	switch op.Action {
	case "set":
		return r.set(doc, op.Fields)
	case "unset":
		for name := range op.Fields {
			doc.Unset(name)
		}
		return nil
	case "removeElements":
		col, err := collection.Of(doc.Get(op.Field))
		if err != nil {
			return err
		}
		for _, k := range op.Keys {
			col.Remove(k)
		}
		doc.Set(op.Field, col)
		return nil
	case "persist":
		return r.dm.Persist(doc)
	case "merge":
		managed, err := r.dm.Merge(ctx, doc)
		if err != nil {
			return err
		}
		r.docs[op.Ref] = managed
		return nil
	case "remove":
		return r.dm.Remove(doc)
	case "detach":
		return r.dm.Detach(doc)
	default:
		return fmt.Errorf("unknown action %q", op.Action)
	}
}

func (r *runner) expect(ctx context.Context, t *testing.T, op test.Operation) error {
	tpl, err := template.New("query").Funcs(template.FuncMap{
		"id": func(name string) (string, error) {
			doc, err := r.doc(name)
			if err != nil {
				return "", err
			}
			return doc.ID(), nil
		},
	}).Parse(op.Query)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := tpl.Execute(&out, nil); err != nil {
		return err
	}
	var query map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &query); err != nil {
		return err
	}
	criteria, err := store.ParseCriteria(query)
	if err != nil {
		return err
	}
	n, err := r.dm.Store().FindOne(ctx, op.Collection, criteria)
	if err != nil {
		return err
	}
	if op.Missing {
		assert.Nil(t, n, "expected no %s document to match %s", op.Collection, out.String())
	} else {
		assert.NotNil(t, n, "expected a %s document to match %s", op.Collection, out.String())
	}
	return nil
}

// set assigns YAML field values to the document, converting nested documents
// according to the field descriptors of its class.
func (r *runner) set(doc *document.Document, fields map[string]any) error {
	class, err := r.dm.Registry().Class(doc.Class())
	if err != nil {
		return err
	}
	for name, raw := range fields {
		f := class.Field(name)
		if f == nil {
			return fmt.Errorf("class %s has no field %s", class.Name, name)
		}
		value, err := r.value(f, raw)
		if err != nil {
			return err
		}
		doc.Set(name, value)
	}
	return nil
}

func (r *runner) value(f *mapping.Field, raw any) (any, error) {
	switch {
	case raw == nil || !f.Type.IsAssociation():
		return raw, nil
	case f.Type.IsMany():
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("field %s requires a list", f.Name)
		}
		col := collection.New()
		for _, v := range list {
			doc, err := r.document(v)
			if err != nil {
				return nil, err
			}
			col.Add(doc)
		}
		return col, nil
	default:
		return r.document(raw)
	}
}

func (r *runner) document(raw any) (*document.Document, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a document but got %T", raw)
	}
	if ref, ok := m["$ref"].(string); ok {
		return r.doc(ref)
	}
	className, ok := m["$class"].(string)
	if !ok {
		return nil, fmt.Errorf("document requires $class or $ref")
	}
	doc := document.New(className)
	if name, ok := m["$name"].(string); ok {
		r.docs[name] = doc
	}
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k != "$class" && k != "$name" {
			fields[k] = v
		}
	}
	return doc, r.set(doc, fields)
}

const userSchema = `
type User @document(collection: "users") {
	name: String
	status: String
}
`

func TestOpenUnknownStrategy(t *testing.T) {
	_, err := Open(context.Background(), config.Default(), `
type Item @embedded { name: String }
type Order @document { items: [Item] @field(strategy: "pullAll") }
`)
	var unknown *strategy.UnknownStrategyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "pullAll", unknown.Name)
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ReplaceThreshold = 0
	_, err := Open(context.Background(), cfg, userSchema)
	require.Error(t, err)
}

func TestOpenWithClasses(t *testing.T) {
	ctx := context.Background()
	dm, err := Open(ctx, config.Default(), "", WithClasses(
		&mapping.Class{Name: "Note", Collection: "notes", Fields: []*mapping.Field{
			{Name: "text", Type: mapping.TypeScalar},
		}},
	))
	require.NoError(t, err)

	note := document.New("Note").Set("text", "hello")
	require.NoError(t, dm.Persist(note))
	require.NoError(t, dm.Flush(ctx))
	dm.Clear()

	found, err := dm.Find(ctx, "Note", note.ID())
	require.NoError(t, err)
	assert.Equal(t, "hello", found.Get("text"))
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	dm, err := Open(ctx, config.Default(), userSchema)
	require.NoError(t, err)

	_, err = dm.Repository("Missing")
	assert.ErrorIs(t, err, mapping.ErrUnknownClass)

	repo, err := dm.Repository("User")
	require.NoError(t, err)
	assert.Equal(t, "User", repo.Class())

	alice := document.New("User").Set("name", "alice").Set("status", "active")
	bob := document.New("User").Set("name", "bob").Set("status", "active")
	require.NoError(t, dm.Persist(alice))
	require.NoError(t, dm.Persist(bob))
	require.NoError(t, dm.Flush(ctx))
	dm.Clear()

	found, err := repo.FindOneByMap(ctx, map[string]any{"name": "bob"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, bob.ID(), found.ID())
	assert.True(t, dm.Contains(found))

	same, err := repo.Find(ctx, bob.ID())
	require.NoError(t, err)
	assert.Same(t, found, same)

	active, err := repo.FindBy(ctx, store.Eq("status", "active"))
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := repo.FindOneBy(ctx, store.Eq("name", "carol"))
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.FindOneByMap(ctx, map[string]any{"$bogus": 1})
	assert.Error(t, err)
}

func TestDocumentManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	dm, err := Open(ctx, config.Default(), userSchema)
	require.NoError(t, err)

	doc := document.New("User").Set("name", "alice")
	require.NoError(t, dm.Persist(doc))
	require.NoError(t, dm.Flush(ctx))

	doc.Set("name", "changed")
	require.NoError(t, dm.Refresh(ctx, doc))
	assert.Equal(t, "alice", doc.Get("name"))

	require.NoError(t, dm.Detach(doc))
	assert.False(t, dm.Contains(doc))

	managed, err := dm.Merge(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, dm.Remove(managed))
	require.NoError(t, dm.Flush(ctx))

	_, err = dm.Find(ctx, "User", doc.ID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDocumentManagerPersistsToDirectory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()

	dm, err := Open(ctx, cfg, userSchema)
	require.NoError(t, err)
	doc := document.New("User").Set("name", "alice")
	require.NoError(t, dm.Persist(doc))
	require.NoError(t, dm.Flush(ctx))

	reopened, err := Open(ctx, cfg, userSchema)
	require.NoError(t, err)
	found, err := reopened.Find(ctx, "User", doc.ID())
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Get("name"))
}

func TestDocumentManagerMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	reg := prometheus.NewRegistry()

	dm, err := Open(ctx, cfg, userSchema, WithRegisterer(reg), WithStorage(storage.NewMemory()))
	require.NoError(t, err)
	require.NoError(t, dm.Persist(document.New("User").Set("name", "alice")))
	require.NoError(t, dm.Flush(ctx))

	assert.Equal(t, float64(1), testutil.ToFloat64(dm.Metrics().Flushes.WithLabelValues("ok")))
	count, err := testutil.GatherAndCount(reg, "tapir_uow_flushes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDocumentManagerExport(t *testing.T) {
	ctx := context.Background()
	dm, err := Open(ctx, config.Default(), userSchema)
	require.NoError(t, err)
	require.NoError(t, dm.Persist(document.New("User").Set("name", "alice")))
	require.NoError(t, dm.Flush(ctx))

	var out bytes.Buffer
	require.NoError(t, dm.Export(ctx, &out))

	reader, err := car.NewBlockReader(&out)
	require.NoError(t, err)
	require.Len(t, reader.Roots, 1)
	assert.Equal(t, dm.Store().RootLink().String(), reader.Roots[0].String())
}
