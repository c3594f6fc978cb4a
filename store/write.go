package store

import (
	"context"
	"fmt"

	"github.com/nasdf/tapir/codec"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// WriteKind is the kind of a write.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteInsert:
		return "insert"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return fmt.Sprintf("WriteKind(%d)", int(k))
	}
}

// Write is a single document write.
type Write struct {
	Kind       WriteKind
	Collection string
	// ID is the document id. Inserts read it from the document when empty.
	ID string
	// Document is the map node written by an insert.
	Document datamodel.Node
	// Update contains the operations applied by an update.
	Update *Update
}

// Write applies the given writes and commits a single new root.
//
// The returned slice holds the error of each write at the same position. Failed
// writes leave their documents untouched while the remaining writes are committed.
// A non-nil error is only returned when the root could not be committed, in which
// case no write was applied.
func (s *Store) Write(ctx context.Context, writes []Write) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*index, len(s.collections))
	for k, v := range s.collections {
		staged[k] = v
	}
	changed := make(map[string]bool)
	touch := func(name string) *index {
		if !changed[name] {
			if ix, ok := staged[name]; ok {
				staged[name] = ix.clone()
			} else {
				staged[name] = &index{documents: make(map[string]datamodel.Link)}
			}
			changed[name] = true
		}
		return staged[name]
	}

	errs := make([]error, len(writes))
	failed := 0
	for i, w := range writes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		errs[i] = s.apply(ctx, staged, touch, w)
		if errs[i] != nil {
			failed++
			s.log.Debugw("write failed", "kind", w.Kind.String(), "collection", w.Collection, "id", w.ID, "error", errs[i])
		}
	}
	if failed == len(writes) {
		return errs, nil
	}
	if err := s.commit(ctx, staged, changed); err != nil {
		return nil, err
	}
	return errs, nil
}

func (s *Store) apply(ctx context.Context, staged map[string]*index, touch func(string) *index, w Write) error {
	if w.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	var current datamodel.Link
	var exists bool
	if ix, ok := staged[w.Collection]; ok && w.ID != "" {
		current, exists = ix.documents[w.ID]
	}
	switch w.Kind {
	case WriteInsert:
		if w.Document == nil || w.Document.Kind() != datamodel.Kind_Map {
			return fmt.Errorf("insert requires a map document")
		}
		id, err := documentID(w.Document)
		if err != nil {
			return err
		}
		if w.ID != "" && w.ID != id {
			return fmt.Errorf("document id %s does not match write id %s", id, w.ID)
		}
		if ix, ok := staged[w.Collection]; ok {
			if _, dup := ix.documents[id]; dup {
				return fmt.Errorf("%w: %s/%s", ErrDuplicateID, w.Collection, id)
			}
		}
		lnk, err := s.links.Store(ctx, w.Document)
		if err != nil {
			return err
		}
		touch(w.Collection).documents[id] = lnk
		return nil

	case WriteUpdate:
		if !exists {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, w.Collection, w.ID)
		}
		if w.Update == nil || w.Update.Len() == 0 {
			return nil
		}
		n, err := s.links.LoadMap(ctx, current)
		if err != nil {
			return err
		}
		doc, err := codec.DecodeMap(n)
		if err != nil {
			return err
		}
		if err := w.Update.Apply(doc); err != nil {
			return err
		}
		n, err = codec.Encode(doc)
		if err != nil {
			return err
		}
		lnk, err := s.links.Store(ctx, n)
		if err != nil {
			return err
		}
		touch(w.Collection).documents[w.ID] = lnk
		return nil

	case WriteDelete:
		if !exists {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, w.Collection, w.ID)
		}
		delete(touch(w.Collection).documents, w.ID)
		return nil

	default:
		return fmt.Errorf("invalid write kind %s", w.Kind)
	}
}

func documentID(n datamodel.Node) (string, error) {
	idNode, err := n.LookupByString(IDField)
	if err != nil {
		return "", fmt.Errorf("document is missing %s: %w", IDField, err)
	}
	id, err := idNode.AsString()
	if err != nil {
		return "", fmt.Errorf("document %s must be a string: %w", IDField, err)
	}
	if id == "" {
		return "", fmt.Errorf("document %s is empty", IDField)
	}
	return id, nil
}

// Insert writes a new document to the collection and returns its id.
// An id is generated when the document has none.
func (s *Store) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id, _ := doc[IDField].(string)
	if id == "" {
		id = NewID()
	}
	value := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		value[k] = v
	}
	value[IDField] = id

	n, err := codec.Encode(value)
	if err != nil {
		return "", err
	}
	if err := s.single(ctx, Write{Kind: WriteInsert, Collection: collection, ID: id, Document: n}); err != nil {
		return "", err
	}
	return id, nil
}

// Update applies the update to the document with the given id.
func (s *Store) Update(ctx context.Context, collection, id string, update *Update) error {
	return s.single(ctx, Write{Kind: WriteUpdate, Collection: collection, ID: id, Update: update})
}

// Delete removes the document with the given id.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.single(ctx, Write{Kind: WriteDelete, Collection: collection, ID: id})
}

func (s *Store) single(ctx context.Context, w Write) error {
	errs, err := s.Write(ctx, []Write{w})
	if err != nil {
		return err
	}
	return errs[0]
}
