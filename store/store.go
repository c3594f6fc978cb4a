package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/nasdf/tapir/codec"
	"github.com/nasdf/tapir/link"
	"github.com/nasdf/tapir/storage"

	"github.com/google/uuid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateID is returned when inserting a document whose id already exists.
	ErrDuplicateID = errors.New("duplicate document id")
)

// IDField is the name of the document identifier field.
const IDField = "_id"

// Store is a content addressed document store.
//
// Every document is an IPLD map block. Each call to Write produces a new root
// linking to the previous root, the collection blocks and their documents.
type Store struct {
	storage storage.Storage
	links   *link.Store
	log     *zap.SugaredLogger

	mu          sync.RWMutex
	rootLink    datamodel.Link
	collections map[string]*index
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		s.log = log.Named("store").Sugar()
	}
}

// Open returns a store backed by the given storage.
//
// The root recorded in the storage is loaded when present, otherwise an empty root is created.
func Open(ctx context.Context, st storage.Storage, opts ...Option) (*Store, error) {
	s := &Store{
		storage:     st,
		links:       link.NewStore(st),
		log:         zap.NewNop().Sugar(),
		collections: make(map[string]*index),
	}
	for _, opt := range opts {
		opt(s)
	}
	data, err := st.Get(ctx, RootLinkKey)
	if errors.Is(err, storage.ErrNotFound) {
		if err := s.commit(ctx, s.collections, nil); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	rootLink, err := link.ParseLink(string(data))
	if err != nil {
		return nil, err
	}
	collections, err := s.loadIndex(ctx, rootLink)
	if err != nil {
		return nil, fmt.Errorf("failed to load root %s: %w", rootLink, err)
	}
	s.rootLink = rootLink
	s.collections = collections
	s.log.Debugw("opened store", "root", rootLink.String(), "collections", len(collections))
	return s, nil
}

// NewID returns a new random document identifier.
func NewID() string {
	return uuid.NewString()
}

// RootLink returns the link of the current root.
func (s *Store) RootLink() datamodel.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rootLink
}

// Links returns the link store used to read and write blocks.
func (s *Store) Links() *link.Store {
	return s.links
}

// Collections returns the names of all collections in sorted order.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns the document in the given collection with the given id.
func (s *Store) Find(ctx context.Context, collection, id string) (datamodel.Node, error) {
	s.mu.RLock()
	lnk, ok := s.lookup(collection, id)
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return s.links.LoadMap(ctx, lnk)
}

// FindOne returns the first document in the collection matching the criteria.
// A nil node is returned when no document matches.
func (s *Store) FindOne(ctx context.Context, collection string, criteria Criteria) (datamodel.Node, error) {
	var found datamodel.Node
	err := s.scan(ctx, collection, criteria, func(n datamodel.Node) bool {
		found = n
		return false
	})
	return found, err
}

// FindAll returns every document in the collection matching the criteria ordered by id.
func (s *Store) FindAll(ctx context.Context, collection string, criteria Criteria) ([]datamodel.Node, error) {
	var found []datamodel.Node
	err := s.scan(ctx, collection, criteria, func(n datamodel.Node) bool {
		found = append(found, n)
		return true
	})
	return found, err
}

func (s *Store) scan(ctx context.Context, collection string, criteria Criteria, fn func(datamodel.Node) bool) error {
	s.mu.RLock()
	ix, ok := s.collections[collection]
	var ids []string
	var links []datamodel.Link
	if ok {
		if id, found := idOf(criteria); found {
			ids = []string{id}
		} else {
			ids = ix.ids()
		}
		for _, id := range ids {
			if lnk, ok := ix.documents[id]; ok {
				links = append(links, lnk)
			}
		}
	}
	s.mu.RUnlock()

	for _, lnk := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.links.LoadMap(ctx, lnk)
		if err != nil {
			return err
		}
		if criteria != nil {
			doc, err := codec.DecodeMap(n)
			if err != nil {
				return err
			}
			match, err := criteria.Match(doc)
			if err != nil {
				return err
			}
			if !match {
				continue
			}
		}
		if !fn(n) {
			return nil
		}
	}
	return nil
}

// Dump returns a map of collections to document ids.
func (s *Store) Dump(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.collections))
	for name, ix := range s.collections {
		out[name] = ix.ids()
	}
	return out, nil
}

// Resolve returns the node at the slash separated path below the current root,
// following links. For example "Collections/users/Documents/<id>/name".
func (s *Store) Resolve(ctx context.Context, path string) (datamodel.Node, error) {
	root, err := s.links.LoadMap(ctx, s.RootLink())
	if err != nil {
		return nil, err
	}
	return s.links.GetNode(ctx, datamodel.ParsePath(path), root)
}

// Blocks returns the number of blocks held by the storage, or an error when
// the storage cannot enumerate its keys.
func (s *Store) Blocks(ctx context.Context) (int, error) {
	lister, ok := s.storage.(storage.Lister)
	if !ok {
		return 0, fmt.Errorf("storage %T cannot list keys", s.storage)
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, k := range keys {
		if k != RootLinkKey {
			count++
		}
	}
	return count, nil
}

// Export writes a CAR of the current root and every block it links to.
func (s *Store) Export(ctx context.Context, out io.Writer) error {
	return s.links.Export(ctx, s.RootLink(), out)
}

func (s *Store) lookup(collection, id string) (datamodel.Link, bool) {
	ix, ok := s.collections[collection]
	if !ok {
		return nil, false
	}
	lnk, ok := ix.documents[id]
	return lnk, ok
}

// commit writes the changed collections and a new root. The caller must hold the write lock.
func (s *Store) commit(ctx context.Context, collections map[string]*index, changed map[string]bool) error {
	for name := range changed {
		ix := collections[name]
		node, err := BuildCollectionNode(ix)
		if err != nil {
			return err
		}
		lnk, err := s.links.Store(ctx, node)
		if err != nil {
			return err
		}
		ix.link = lnk
	}
	collectionsNode, err := BuildCollectionsNode(collections)
	if err != nil {
		return err
	}
	collectionsLink, err := s.links.Store(ctx, collectionsNode)
	if err != nil {
		return err
	}
	var parents []datamodel.Link
	if s.rootLink != nil {
		parents = append(parents, s.rootLink)
	}
	rootNode, err := BuildRootNode(collectionsLink, parents...)
	if err != nil {
		return err
	}
	rootLink, err := s.links.Store(ctx, rootNode)
	if err != nil {
		return err
	}
	if err := s.storage.Put(ctx, RootLinkKey, []byte(rootLink.String())); err != nil {
		return err
	}
	s.rootLink = rootLink
	s.collections = collections
	s.log.Debugw("committed root", "root", rootLink.String(), "collections", len(changed))
	return nil
}
