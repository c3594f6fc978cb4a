package uow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nasdf/tapir/changeset"
	"github.com/nasdf/tapir/collection"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/logger"
	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/metrics"
	"github.com/nasdf/tapir/store"
	"github.com/nasdf/tapir/wire"

	"github.com/google/uuid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"go.uber.org/zap"
)

var (
	// ErrDocumentNotManaged is returned when an operation requires a managed document.
	ErrDocumentNotManaged = errors.New("document is not managed")
	// ErrDetachedDocument is returned when a detached document is passed where a
	// new or managed document is expected.
	ErrDetachedDocument = errors.New("document is detached")
	// ErrEmbeddedDocument is returned when an embedded document is used as a root document.
	ErrEmbeddedDocument = errors.New("embedded documents cannot be managed on their own")
	// ErrNewReference is returned when a reference without cascade points to a document
	// that was never persisted.
	ErrNewReference = errors.New("reference to a new document")
)

// MergeIdentifierConflictError is returned when two distinct managed documents
// claim the same identifier.
type MergeIdentifierConflictError struct {
	Collection string
	ID         string
}

func (e *MergeIdentifierConflictError) Error() string {
	return fmt.Sprintf("identifier %s/%s is claimed by two distinct managed documents", e.Collection, e.ID)
}

// Store is the document store collaborator of a unit of work.
type Store interface {
	// Write applies a batch of writes and returns the error of each write.
	Write(ctx context.Context, writes []store.Write) ([]error, error)
	// Find returns the document with the given identifier.
	Find(ctx context.Context, collection, id string) (datamodel.Node, error)
	// FindOne returns the first matching document or nil.
	FindOne(ctx context.Context, collection string, criteria store.Criteria) (datamodel.Node, error)
	// FindAll returns every matching document.
	FindAll(ctx context.Context, collection string, criteria store.Criteria) ([]datamodel.Node, error)
}

type key struct {
	collection string
	id         string
}

type entry struct {
	class    *mapping.Class
	key      key
	state    document.State
	snapshot *changeset.Snapshot
	insert   bool
	seq      uint64
}

// UnitOfWork tracks documents between flushes.
//
// A unit of work is not safe for concurrent use. Each caller owns its own instance.
type UnitOfWork struct {
	store      Store
	registry   *mapping.Registry
	computer   *changeset.Computer
	normalizer *wire.Normalizer
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	entries  map[*document.Document]*entry
	identity map[key]*document.Document
	seq      uint64
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(u *UnitOfWork) {
		u.log = logger.For(log, logger.ComponentUnitOfWork)
	}
}

// WithMetrics sets the collectors updated by the unit of work.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *UnitOfWork) {
		u.metrics = m
	}
}

// WithWorkers bounds the goroutines used to compute change sets.
func WithWorkers(n int) Option {
	return func(u *UnitOfWork) {
		u.computer = changeset.NewComputer(u.registry, changeset.WithWorkers(n))
	}
}

// New returns an empty unit of work writing to the given store.
func New(st Store, registry *mapping.Registry, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		store:      st,
		registry:   registry,
		computer:   changeset.NewComputer(registry),
		normalizer: wire.NewNormalizer(registry),
		log:        logger.For(nil, logger.ComponentUnitOfWork),
		entries:    make(map[*document.Document]*entry),
		identity:   make(map[key]*document.Document),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.metrics == nil {
		u.metrics = metrics.New(nil)
	}
	return u
}

// Registry returns the class descriptors used by the unit of work.
func (u *UnitOfWork) Registry() *mapping.Registry {
	return u.registry
}

// State returns the lifecycle state of the document. Untracked documents with an
// identifier are reported as detached.
func (u *UnitOfWork) State(doc *document.Document) document.State {
	if e, ok := u.entries[doc]; ok {
		return e.state
	}
	if doc.ID() != "" {
		return document.StateDetached
	}
	return document.StateNew
}

// Contains reports whether the document is managed.
func (u *UnitOfWork) Contains(doc *document.Document) bool {
	e, ok := u.entries[doc]
	return ok && e.state == document.StateManaged
}

// IsScheduledForInsert reports whether the document is inserted by the next flush.
func (u *UnitOfWork) IsScheduledForInsert(doc *document.Document) bool {
	e, ok := u.entries[doc]
	return ok && e.insert
}

// IsScheduledForRemoval reports whether the document is deleted by the next flush.
func (u *UnitOfWork) IsScheduledForRemoval(doc *document.Document) bool {
	e, ok := u.entries[doc]
	return ok && e.state == document.StateRemoved
}

// Size returns the number of tracked documents.
func (u *UnitOfWork) Size() int {
	return len(u.entries)
}

// Snapshot returns the last snapshot of a managed document or nil.
func (u *UnitOfWork) Snapshot(doc *document.Document) *changeset.Snapshot {
	if e, ok := u.entries[doc]; ok {
		return e.snapshot
	}
	return nil
}

// TryGet returns the managed document of the class hierarchy with the given identifier.
func (u *UnitOfWork) TryGet(class *mapping.Class, id string) (*document.Document, bool) {
	doc, ok := u.identity[key{collection: class.Collection, id: id}]
	return doc, ok
}

func (u *UnitOfWork) class(doc *document.Document) (*mapping.Class, error) {
	class, err := u.registry.Class(doc.Class())
	if err != nil {
		return nil, err
	}
	if class.Embedded {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddedDocument, doc)
	}
	return class, nil
}

// track adds the document to the identity map.
func (u *UnitOfWork) track(class *mapping.Class, doc *document.Document, state document.State) (*entry, error) {
	k := key{collection: class.Collection, id: doc.ID()}
	if other, ok := u.identity[k]; ok && other != doc {
		return nil, &MergeIdentifierConflictError{Collection: k.collection, ID: k.id}
	}
	u.seq++
	e := &entry{class: class, key: k, state: state, seq: u.seq}
	u.entries[doc] = e
	u.identity[k] = doc
	u.metrics.Managed.Set(float64(len(u.entries)))
	return e, nil
}

func (u *UnitOfWork) untrack(doc *document.Document) {
	e, ok := u.entries[doc]
	if !ok {
		return
	}
	delete(u.entries, doc)
	if u.identity[e.key] == doc {
		delete(u.identity, e.key)
	}
	u.metrics.Managed.Set(float64(len(u.entries)))
}

// managed returns the tracked documents in the order they became tracked.
func (u *UnitOfWork) managed() []*document.Document {
	docs := make([]*document.Document, 0, len(u.entries))
	for doc := range u.entries {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return u.entries[docs[i]].seq < u.entries[docs[j]].seq
	})
	return docs
}

// Persist makes a new document managed and schedules it for insertion.
//
// Documents without an identifier are assigned one. References whose field
// cascades persist are persisted as well.
func (u *UnitOfWork) Persist(doc *document.Document) error {
	return u.persist(doc, make(map[*document.Document]bool))
}

func (u *UnitOfWork) persist(doc *document.Document, visited map[*document.Document]bool) error {
	if visited[doc] {
		return nil
	}
	visited[doc] = true

	class, err := u.class(doc)
	if err != nil {
		return err
	}
	if e, ok := u.entries[doc]; ok {
		if e.state == document.StateRemoved {
			e.state = document.StateManaged
		}
	} else {
		if doc.ID() == "" {
			doc.SetID(uuid.NewString())
		}
		e, err := u.track(class, doc, document.StateManaged)
		if err != nil {
			return err
		}
		e.insert = true
		u.log.Debugw("scheduled insert", "document", doc.String())
	}
	if err := u.assignEmbeddedIDs(class, doc); err != nil {
		return err
	}
	return u.cascade(class, doc, mapping.CascadePersist, func(ref *document.Document) error {
		return u.persist(ref, visited)
	})
}

// Remove schedules a managed document for deletion. Documents that were never
// written are simply no longer tracked.
func (u *UnitOfWork) Remove(doc *document.Document) error {
	return u.remove(doc, make(map[*document.Document]bool))
}

func (u *UnitOfWork) remove(doc *document.Document, visited map[*document.Document]bool) error {
	if visited[doc] {
		return nil
	}
	visited[doc] = true

	class, err := u.class(doc)
	if err != nil {
		return err
	}
	e, ok := u.entries[doc]
	switch {
	case !ok && doc.ID() != "":
		return fmt.Errorf("%w: %s", ErrDetachedDocument, doc)
	case !ok:
		return nil
	case e.insert:
		u.untrack(doc)
	default:
		e.state = document.StateRemoved
		u.log.Debugw("scheduled removal", "document", doc.String())
	}
	return u.cascade(class, doc, mapping.CascadeRemove, func(ref *document.Document) error {
		if _, ok := u.entries[ref]; !ok {
			return nil
		}
		return u.remove(ref, visited)
	})
}

// Detach stops tracking the document. Changes made to it are no longer flushed.
func (u *UnitOfWork) Detach(doc *document.Document) error {
	return u.detach(doc, make(map[*document.Document]bool))
}

func (u *UnitOfWork) detach(doc *document.Document, visited map[*document.Document]bool) error {
	if visited[doc] {
		return nil
	}
	visited[doc] = true

	if _, ok := u.entries[doc]; !ok {
		return nil
	}
	class, err := u.class(doc)
	if err != nil {
		return err
	}
	u.untrack(doc)
	return u.cascade(class, doc, mapping.CascadeDetach, func(ref *document.Document) error {
		return u.detach(ref, visited)
	})
}

// Clear detaches every tracked document.
func (u *UnitOfWork) Clear() {
	u.entries = make(map[*document.Document]*entry)
	u.identity = make(map[key]*document.Document)
	u.metrics.Managed.Set(0)
}

// cascade calls fn for every document referenced by a field cascading op.
func (u *UnitOfWork) cascade(class *mapping.Class, doc *document.Document, op mapping.Cascade, fn func(*document.Document) error) error {
	for _, f := range class.Fields {
		if !f.Type.IsReference() || !f.Cascade.Has(op) {
			continue
		}
		refs, err := references(f, doc.Get(f.Name))
		if err != nil {
			return fmt.Errorf("%s field %s: %w", doc, f.Name, err)
		}
		for _, ref := range refs {
			if err := fn(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// references returns the documents held by a reference field value.
func references(f *mapping.Field, value any) ([]*document.Document, error) {
	if value == nil {
		return nil, nil
	}
	if f.Type == mapping.TypeReferenceOne {
		doc, ok := value.(*document.Document)
		if !ok {
			return nil, fmt.Errorf("expected document but got %T", value)
		}
		return []*document.Document{doc}, nil
	}
	col, err := changeset.Documents(value)
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, col.Len())
	col.Each(func(_ string, v any) bool {
		docs = append(docs, v.(*document.Document))
		return true
	})
	return docs, nil
}

// assignEmbeddedIDs gives every embedded document reachable from doc an identifier.
func (u *UnitOfWork) assignEmbeddedIDs(class *mapping.Class, doc *document.Document) error {
	for _, f := range class.Fields {
		if !f.Type.IsEmbedded() {
			continue
		}
		value := doc.Get(f.Name)
		if value == nil {
			continue
		}
		var embedded *collection.Collection
		if f.Type == mapping.TypeEmbedOne {
			e, ok := value.(*document.Document)
			if !ok {
				return fmt.Errorf("%s field %s: expected document but got %T", doc, f.Name, value)
			}
			embedded = collection.New(e)
		} else {
			col, err := changeset.Documents(value)
			if err != nil {
				return fmt.Errorf("%s field %s: %w", doc, f.Name, err)
			}
			embedded = col
		}
		var err error
		embedded.Each(func(_ string, v any) bool {
			e := v.(*document.Document)
			if e == nil {
				return true
			}
			if e.ID() == "" {
				e.SetID(uuid.NewString())
			}
			var target *mapping.Class
			target, err = u.registry.Class(e.Class())
			if err != nil {
				return false
			}
			err = u.assignEmbeddedIDs(target, e)
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
