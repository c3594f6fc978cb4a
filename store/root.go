package store

import (
	"context"
	"sort"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

const (
	// RootLinkKey is the storage key holding the current root link.
	RootLinkKey = "root"
	// RootParentsFieldName is the name of the parents field on a root.
	RootParentsFieldName = "Parents"
	// RootCollectionsFieldName is the name of the collections field on a root.
	RootCollectionsFieldName = "Collections"
	// CollectionDocumentsFieldName is the name of the documents field on a collection.
	CollectionDocumentsFieldName = "Documents"
)

// index maps document ids to the links of their latest version.
type index struct {
	link      datamodel.Link
	documents map[string]datamodel.Link
}

func (ix *index) clone() *index {
	documents := make(map[string]datamodel.Link, len(ix.documents))
	for k, v := range ix.documents {
		documents[k] = v
	}
	return &index{link: ix.link, documents: documents}
}

func (ix *index) ids() []string {
	ids := make([]string, 0, len(ix.documents))
	for id := range ix.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildRootNode returns a new root node linking to the given collections node and parents.
func BuildRootNode(collections datamodel.Link, parents ...datamodel.Link) (datamodel.Node, error) {
	return qp.BuildMap(basicnode.Prototype.Map, 2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, RootCollectionsFieldName, qp.Link(collections))
		qp.MapEntry(ma, RootParentsFieldName, qp.List(int64(len(parents)), func(la datamodel.ListAssembler) {
			for _, l := range parents {
				qp.ListEntry(la, qp.Link(l))
			}
		}))
	})
}

// BuildCollectionsNode returns a map node of collection names to collection links.
func BuildCollectionsNode(collections map[string]*index) (datamodel.Node, error) {
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return qp.BuildMap(basicnode.Prototype.Map, int64(len(names)), func(ma datamodel.MapAssembler) {
		for _, name := range names {
			qp.MapEntry(ma, name, qp.Link(collections[name].link))
		}
	})
}

// BuildCollectionNode returns a collection node containing the given documents.
func BuildCollectionNode(ix *index) (datamodel.Node, error) {
	ids := ix.ids()
	return qp.BuildMap(basicnode.Prototype.Map, 1, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, CollectionDocumentsFieldName, qp.Map(int64(len(ids)), func(ma datamodel.MapAssembler) {
			for _, id := range ids {
				qp.MapEntry(ma, id, qp.Link(ix.documents[id]))
			}
		}))
	})
}

// loadIndex reads the collection indexes reachable from the given root link.
func (s *Store) loadIndex(ctx context.Context, rootLink datamodel.Link) (map[string]*index, error) {
	rootNode, err := s.links.LoadMap(ctx, rootLink)
	if err != nil {
		return nil, err
	}
	collectionsLinkNode, err := rootNode.LookupByString(RootCollectionsFieldName)
	if err != nil {
		return nil, err
	}
	collectionsLink, err := collectionsLinkNode.AsLink()
	if err != nil {
		return nil, err
	}
	collectionsNode, err := s.links.LoadMap(ctx, collectionsLink)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*index)
	iter := collectionsNode.MapIterator()
	for !iter.Done() {
		k, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		name, err := k.AsString()
		if err != nil {
			return nil, err
		}
		collectionLink, err := v.AsLink()
		if err != nil {
			return nil, err
		}
		collectionNode, err := s.links.LoadMap(ctx, collectionLink)
		if err != nil {
			return nil, err
		}
		documentsNode, err := collectionNode.LookupByString(CollectionDocumentsFieldName)
		if err != nil {
			return nil, err
		}
		ix := &index{link: collectionLink, documents: make(map[string]datamodel.Link, documentsNode.Length())}
		documentIter := documentsNode.MapIterator()
		for !documentIter.Done() {
			k, v, err := documentIter.Next()
			if err != nil {
				return nil, err
			}
			id, err := k.AsString()
			if err != nil {
				return nil, err
			}
			lnk, err := v.AsLink()
			if err != nil {
				return nil, err
			}
			ix.documents[id] = lnk
		}
		out[name] = ix
	}
	return out, nil
}
