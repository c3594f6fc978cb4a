package link

import (
	"context"
	"fmt"

	"github.com/nasdf/tapir/storage"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/linking"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/ipld/go-ipld-prime/traversal"

	// codecs need to be initialized and registered
	_ "github.com/ipld/go-ipld-prime/codec/dagcbor"
	_ "github.com/ipld/go-ipld-prime/codec/dagjson"
)

var linkPrototype = cidlink.LinkPrototype{Prefix: cid.Prefix{
	Version:  1,    // Usually '1'.
	Codec:    0x71, // dag-cbor -- See the multicodecs table: https://github.com/multiformats/multicodec/
	MhType:   0x13, // sha2-512 -- See the multicodecs table: https://github.com/multiformats/multicodec/
	MhLength: 64,   // sha2-512 hash has a 64-byte sum.
}}

var prototypeChooser = traversal.LinkTargetNodePrototypeChooser(func(l datamodel.Link, lc linking.LinkContext) (datamodel.NodePrototype, error) {
	return basicnode.Prototype.Any, nil
})

// Store is a content addressable data store.
type Store struct {
	lsys linking.LinkSystem
}

// NewStore returns a new Store that uses the given storage to read and write content addressable data.
func NewStore(store storage.Storage) *Store {
	lsys := cidlink.DefaultLinkSystem()
	lsys.SetReadStorage(store)
	lsys.SetWriteStorage(store)

	return &Store{
		lsys: lsys,
	}
}

// Load returns the node matching the given link built with the given prototype.
func (s *Store) Load(ctx context.Context, lnk datamodel.Link, np datamodel.NodePrototype) (datamodel.Node, error) {
	return s.lsys.Load(linking.LinkContext{Ctx: ctx}, lnk, np)
}

// LoadMap returns the map node matching the given link.
func (s *Store) LoadMap(ctx context.Context, lnk datamodel.Link) (datamodel.Node, error) {
	return s.Load(ctx, lnk, basicnode.Prototype.Map)
}

// Store writes the given node and returns its link.
func (s *Store) Store(ctx context.Context, node datamodel.Node) (datamodel.Link, error) {
	return s.lsys.Store(linking.LinkContext{Ctx: ctx}, linkPrototype, node)
}

// Traversal returns a traversal.Progress configured to follow links through this store.
func (s *Store) Traversal(ctx context.Context) traversal.Progress {
	return traversal.Progress{Cfg: &traversal.Config{
		Ctx:                            ctx,
		LinkSystem:                     s.lsys,
		LinkTargetNodePrototypeChooser: prototypeChooser,
	}}
}

// GetNode returns the node at the given path starting from the given node.
func (s *Store) GetNode(ctx context.Context, path datamodel.Path, node datamodel.Node) (datamodel.Node, error) {
	return s.Traversal(ctx).Get(node, path)
}

// ParseLink parses the string form of a link created by this store.
func ParseLink(value string) (datamodel.Link, error) {
	c, err := cid.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("invalid link %q: %w", value, err)
	}
	return cidlink.Link{Cid: c}, nil
}
