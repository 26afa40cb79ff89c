// Package chaintest generates deterministic chains for tests.
package chaintest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/common/types"
)

// Fixture is a generated chain together with the values a synced replica must reach.
type Fixture struct {
	ID       types.ChainID
	Blocks   [][]byte
	TailHash types.Hash32
}

// Generate builds a chain of n blocks. Payloads are derived from seed so the
// same arguments always produce the same chain.
func Generate(tb testing.TB, seed string, n int) *Fixture {
	tb.Helper()
	require.Positive(tb, n)
	f := &Fixture{Blocks: make([][]byte, 0, n)}
	var prev types.Hash32
	for i := range n {
		payload := make([]byte, types.PayloadSize)
		copy(payload, fmt.Sprintf("%s/%d/", seed, i))
		binary.BigEndian.PutUint64(payload[types.PayloadSize-8:], uint64(i)*0x9e3779b97f4a7c15)
		block, err := types.NewBlock(prev, uint64(i), payload)
		require.NoError(tb, err)
		hdr, err := types.DecodeBlockHeader(block)
		require.NoError(tb, err)
		if i == 0 {
			f.ID = types.ChainID(hdr.Hash)
		}
		prev = hdr.Hash
		f.Blocks = append(f.Blocks, block)
	}
	f.TailHash = prev
	return f
}

// Count is the number of blocks in the fixture.
func (f *Fixture) Count() uint64 { return uint64(len(f.Blocks)) }

// Bytes concatenates the first n blocks, the way the remote resource stores them.
func (f *Fixture) Bytes(n int) []byte {
	return bytes.Join(f.Blocks[:n], nil)
}

// All concatenates every block.
func (f *Fixture) All() []byte {
	return f.Bytes(len(f.Blocks))
}

// Seed writes the first n blocks of the fixture to store and returns the open chain.
func (f *Fixture) Seed(tb testing.TB, store *chainstore.Store, n int) *chainstore.Chain {
	tb.Helper()
	require.Positive(tb, n)
	chain, err := store.CreateChain(f.Blocks[0], f.ID)
	require.NoError(tb, err)
	for _, block := range f.Blocks[1:n] {
		require.NoError(tb, chain.Append(block))
	}
	tb.Cleanup(func() { chain.Close() })
	return chain
}
