package chainsync

import (
	"context"

	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/common/types"
)

//go:generate mockgen -package=chainsync -destination=./mocks.go -source=./interface.go

// Response is what the transport returns for one range request.
type Response struct {
	Status int
	Body   []byte
	// ContentRange is the raw Content-Range header, empty if the server didn't send one.
	ContentRange string
	// Truncated is set when the body ended before the server finished sending it.
	Truncated bool
}

type transport interface {
	Fetch(ctx context.Context, url, rangeHeader string) (*Response, error)
}

type chain interface {
	ID() types.ChainID
	Append(block []byte) error
	Count() uint64
	TailHash() types.Hash32
}

type chainStore interface {
	CreateChain(first []byte, id types.ChainID) (*chainstore.Chain, error)
	Exists(id types.ChainID) (bool, error)
	OpenChain(id types.ChainID) (*chainstore.Chain, error)
}
