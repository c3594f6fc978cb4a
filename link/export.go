package link

import (
	"context"
	"fmt"
	"io"

	"github.com/ipld/go-car/v2"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/ipld/go-ipld-prime/traversal/selector"
	"github.com/ipld/go-ipld-prime/traversal/selector/builder"
)

// Export writes a CAR containing every block reachable from the given root link.
func (s *Store) Export(ctx context.Context, rootLink datamodel.Link, out io.Writer) error {
	cl, ok := rootLink.(cidlink.Link)
	if !ok {
		return fmt.Errorf("unsupported link type %T", rootLink)
	}
	ssb := builder.NewSelectorSpecBuilder(basicnode.Prototype.Any)
	sel := ssb.ExploreRecursive(selector.RecursionLimitNone(), ssb.ExploreAll(ssb.ExploreRecursiveEdge()))

	w, err := car.NewSelectiveWriter(ctx, &s.lsys, cl.Cid, sel.Node())
	if err != nil {
		return err
	}
	_, err = w.WriteTo(out)
	return err
}
