package chainsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spacemeshos/go-rangesync/byterange"
	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/chainstore/chaintest"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log/logtest"
)

const testOrigin = "http://origin.test"

// fakeOrigin answers range requests the way a static server holding data would,
// with at most maxBlocks blocks per response when maxBlocks is positive.
type fakeOrigin struct {
	data      []byte
	maxBlocks int
	requests  []string
}

func (o *fakeOrigin) Fetch(_ context.Context, _, header string) (*Response, error) {
	o.requests = append(o.requests, header)
	rng, err := byterange.Parse(header)
	if err != nil {
		return nil, err
	}
	size := uint64(len(o.data))
	if rng.Start >= size {
		return &Response{Status: http.StatusRequestedRangeNotSatisfiable}, nil
	}
	end := size - 1
	if !rng.Open {
		end = min(end, rng.End)
	}
	if o.maxBlocks > 0 {
		end = min(end, rng.Start+uint64(o.maxBlocks)*types.BlockSize-1)
	}
	return &Response{
		Status:       http.StatusPartialContent,
		Body:         bytes.Clone(o.data[rng.Start : end+1]),
		ContentRange: fmt.Sprintf("bytes %d-%d/%d", rng.Start, end, size),
	}, nil
}

func newTestStore(tb testing.TB) *chainstore.Store {
	return chainstore.New("/chains",
		chainstore.WithFilesystem(afero.NewMemMapFs()),
		chainstore.WithLogger(logtest.New(tb)),
	)
}

func newTestClient(tb testing.TB, store chainStore, tr transport) *Client {
	client, err := NewClient(testOrigin, store, WithTransport(tr), WithLogger(logtest.New(tb)))
	require.NoError(tb, err)
	return client
}

func partial(fixture *chaintest.Fixture, start, end int) *Response {
	body := fixture.All()[start:end]
	return &Response{
		Status:       http.StatusPartialContent,
		Body:         body,
		ContentRange: fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(fixture.All())),
	}
}

func TestNewClient(t *testing.T) {
	store := newTestStore(t)
	for _, origin := range []string{"ftp://origin.test", "origin.test", "://"} {
		_, err := NewClient(origin, store)
		require.Error(t, err, origin)
	}
	client, err := NewClient("https://origin.test/base/", store)
	require.NoError(t, err)
	id := chaintest.Generate(t, "url", 1).ID
	require.Equal(t, "https://origin.test/base/chains/"+id.String(), client.ChainURL(id))
}

func TestResyncUpToDate(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "up-to-date", 3)
	chain := fixture.Seed(t, store, 3)
	client := newTestClient(t, store, tr)

	tr.EXPECT().
		Fetch(gomock.Any(), client.ChainURL(fixture.ID), "bytes=1536-").
		Return(&Response{Status: http.StatusRequestedRangeNotSatisfiable}, nil)

	n, err := client.Resync(context.Background(), chain)
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 3, chain.Count())
}

func TestResyncAppendsWholeBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "whole", 6)
	chain := fixture.Seed(t, store, 2)
	client := newTestClient(t, store, tr)

	// three whole blocks and 100 bytes of the fourth
	tr.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), "bytes=1024-").
		Return(partial(fixture, 2*types.BlockSize, 5*types.BlockSize+100), nil)
	n, err := client.Resync(context.Background(), chain)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.EqualValues(t, 5, chain.Count())
	require.Equal(t, fixture.Blocks[4][:types.Hash32Length], chain.TailHash().Bytes())

	// the discarded block is requested again
	tr.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), "bytes=2560-").
		Return(partial(fixture, 5*types.BlockSize, 6*types.BlockSize), nil)
	n, err = client.Resync(context.Background(), chain)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, fixture.TailHash, chain.TailHash())
}

func TestResyncUnexpectedStatus(t *testing.T) {
	for _, status := range []int{
		http.StatusOK,
		http.StatusNotModified,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tr := NewMocktransport(ctrl)
			store := newTestStore(t)
			fixture := chaintest.Generate(t, "status", 2)
			chain := fixture.Seed(t, store, 1)
			client := newTestClient(t, store, tr)

			tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&Response{Status: status, Body: fixture.Blocks[1]}, nil)
			n, err := client.Resync(context.Background(), chain)
			require.ErrorIs(t, err, ErrSync)
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, status, statusErr.Status)
			require.Zero(t, n)
			require.EqualValues(t, 1, chain.Count())
		})
	}
}

func TestResyncTransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "transport", 1)
	chain := fixture.Seed(t, store, 1)
	client := newTestClient(t, store, tr)

	cause := errors.New("connection reset")
	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, cause)
	_, err := client.Resync(context.Background(), chain)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, cause)
	require.EqualValues(t, 1, chain.Count())
}

func TestResyncAppendsInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	ch := NewMockchain(ctrl)
	fixture := chaintest.Generate(t, "order", 6)
	client := newTestClient(t, NewMockchainStore(ctrl), tr)

	ch.EXPECT().ID().Return(fixture.ID).AnyTimes()
	ch.EXPECT().Count().Return(uint64(3)).AnyTimes()
	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), "bytes=1536-").
		Return(partial(fixture, 3*types.BlockSize, 6*types.BlockSize), nil)
	gomock.InOrder(
		ch.EXPECT().Append(fixture.Blocks[3]),
		ch.EXPECT().Append(fixture.Blocks[4]),
		ch.EXPECT().Append(fixture.Blocks[5]),
	)
	n, err := client.Resync(context.Background(), ch)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestResyncStopsAtInvalidBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "invalid", 5)
	chain := fixture.Seed(t, store, 2)
	client := newTestClient(t, store, tr)

	resp := partial(fixture, 2*types.BlockSize, 5*types.BlockSize)
	resp.Body = bytes.Clone(resp.Body)
	resp.Body[types.BlockSize+types.BlockSize/2] ^= 0xff // payload of block 3

	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(resp, nil)
	n, err := client.Resync(context.Background(), chain)
	require.ErrorIs(t, err, chainstore.ErrIntegrity)
	require.ErrorIs(t, err, types.ErrBlockHash)
	require.Equal(t, 1, n)
	require.EqualValues(t, 3, chain.Count())
}

func TestResyncTruncated(t *testing.T) {
	fixture := chaintest.Generate(t, "truncated", 4)
	for _, tc := range []struct {
		desc     string
		resp     func() *Response
		appended int
		err      error
	}{
		{
			desc: "less than a block announced as more",
			resp: func() *Response {
				r := partial(fixture, types.BlockSize, 4*types.BlockSize)
				r.Body = r.Body[:300]
				return r
			},
			err: ErrTruncated,
		},
		{
			desc: "read error before a whole block",
			resp: func() *Response {
				return &Response{
					Status:    http.StatusPartialContent,
					Body:      fixture.Blocks[1][:10],
					Truncated: true,
				}
			},
			err: ErrTruncated,
		},
		{
			desc: "cut after a whole block",
			resp: func() *Response {
				r := partial(fixture, types.BlockSize, 4*types.BlockSize)
				r.Body = r.Body[:types.BlockSize+300]
				return r
			},
			appended: 1,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tr := NewMocktransport(ctrl)
			store := newTestStore(t)
			chain := fixture.Seed(t, store, 1)
			client := newTestClient(t, store, tr)

			tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.resp(), nil)
			n, err := client.Resync(context.Background(), chain)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.appended, n)
			require.EqualValues(t, 1+tc.appended, chain.Count())
		})
	}
}

func TestResyncRangeMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "mismatch", 3)
	chain := fixture.Seed(t, store, 2)
	client := newTestClient(t, store, tr)

	// server ignored the requested offset and sent the chain from the start
	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), "bytes=1024-").
		Return(partial(fixture, 0, 3*types.BlockSize), nil)
	n, err := client.Resync(context.Background(), chain)
	require.ErrorIs(t, err, ErrRangeMismatch)
	require.ErrorIs(t, err, ErrSync)
	require.Zero(t, n)
	require.EqualValues(t, 2, chain.Count())
}

func TestResyncLoopConverges(t *testing.T) {
	const total = 50
	fixture := chaintest.Generate(t, "converge", total)
	for _, tc := range []struct {
		desc      string
		local     int
		maxBlocks int
	}{
		{"uncapped", 1, 0},
		{"capped", 1, 7},
		{"single block responses", 10, 1},
		{"already synced", total, 3},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			store := newTestStore(t)
			chain := fixture.Seed(t, store, tc.local)
			origin := &fakeOrigin{data: fixture.All(), maxBlocks: tc.maxBlocks}
			client := newTestClient(t, store, origin)

			n, err := client.ResyncLoop(context.Background(), chain)
			require.NoError(t, err)
			require.Equal(t, total-tc.local, n)
			require.NoError(t, Verify(chain, fixture.Count(), fixture.TailHash))

			rounds := 1
			if tc.maxBlocks > 0 {
				missing := total - tc.local
				rounds = (missing+tc.maxBlocks-1)/tc.maxBlocks + 1
			} else if tc.local < total {
				rounds = 2
			}
			require.LessOrEqual(t, len(origin.requests), rounds)

			// converged chains stay converged
			origin.requests = nil
			n, err = client.ResyncLoop(context.Background(), chain)
			require.NoError(t, err)
			require.Zero(t, n)
			require.Equal(t, []string{fmt.Sprintf("bytes=%d-", total*types.BlockSize)}, origin.requests)
		})
	}
}

func TestResyncLoopFollowsGrowth(t *testing.T) {
	fixture := chaintest.Generate(t, "growth", 20)
	store := newTestStore(t)
	chain := fixture.Seed(t, store, 1)
	origin := &fakeOrigin{data: fixture.Bytes(8), maxBlocks: 3}
	client := newTestClient(t, store, origin)

	_, err := client.ResyncLoop(context.Background(), chain)
	require.NoError(t, err)
	require.EqualValues(t, 8, chain.Count())

	origin.data = fixture.All()
	_, err = client.ResyncLoop(context.Background(), chain)
	require.NoError(t, err)
	require.NoError(t, Verify(chain, fixture.Count(), fixture.TailHash))
}

func TestResyncLoopCanceled(t *testing.T) {
	fixture := chaintest.Generate(t, "canceled", 10)
	store := newTestStore(t)
	chain := fixture.Seed(t, store, 1)
	ctx, cancel := context.WithCancel(context.Background())

	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	origin := &fakeOrigin{data: fixture.All(), maxBlocks: 2}
	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url, header string) (*Response, error) {
			cancel()
			return origin.Fetch(ctx, url, header)
		})
	client := newTestClient(t, store, tr)

	n, err := client.ResyncLoop(ctx, chain)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, n)
	require.EqualValues(t, 3, chain.Count())
}

func TestResyncLoopStopsOnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "loop-error", 5)
	chain := fixture.Seed(t, store, 1)
	client := newTestClient(t, store, tr)

	gomock.InOrder(
		tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), "bytes=512-").
			Return(partial(fixture, types.BlockSize, 3*types.BlockSize), nil),
		tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), "bytes=1536-").
			Return(&Response{Status: http.StatusBadGateway}, nil),
	)
	n, err := client.ResyncLoop(context.Background(), chain)
	require.ErrorIs(t, err, ErrSync)
	require.Equal(t, 2, n)
	require.EqualValues(t, 3, chain.Count())
}

func TestBootstrap(t *testing.T) {
	fixture := chaintest.Generate(t, "bootstrap", 5)
	for _, tc := range []struct {
		desc   string
		seed   uint64
		header string
		count  uint64
	}{
		{"single block", 1, "bytes=0-511", 1},
		{"bulk", 3, "bytes=0-1535", 3},
		{"more than available", 10, "bytes=0-5119", 5},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			store := newTestStore(t)
			origin := &fakeOrigin{data: fixture.All()}
			client := newTestClient(t, store, origin)

			chain, err := client.Bootstrap(context.Background(), fixture.ID, tc.seed)
			require.NoError(t, err)
			t.Cleanup(func() { chain.Close() })
			require.Equal(t, []string{tc.header}, origin.requests)
			require.Equal(t, fixture.ID, chain.ID())
			require.Equal(t, tc.count, chain.Count())
			require.Equal(t, fixture.Blocks[tc.count-1][:types.Hash32Length], chain.TailHash().Bytes())
		})
	}
}

func TestBootstrapDiscardsPartialBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "bootstrap-partial", 3)
	client := newTestClient(t, store, tr)

	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), "bytes=0-1535").
		Return(partial(fixture, 0, 2*types.BlockSize+17), nil)
	chain, err := client.Bootstrap(context.Background(), fixture.ID, 3)
	require.NoError(t, err)
	t.Cleanup(func() { chain.Close() })
	require.EqualValues(t, 2, chain.Count())
}

func TestBootstrapFailures(t *testing.T) {
	fixture := chaintest.Generate(t, "bootstrap-fail", 2)
	other := chaintest.Generate(t, "bootstrap-other", 1)
	for _, tc := range []struct {
		desc   string
		resp   *Response
		err    error
		status int
	}{
		{
			desc:   "not found",
			resp:   &Response{Status: http.StatusNotFound},
			err:    ErrBootstrapFailed,
			status: http.StatusNotFound,
		},
		{
			desc:   "range not satisfiable",
			resp:   &Response{Status: http.StatusRequestedRangeNotSatisfiable},
			err:    ErrBootstrapFailed,
			status: http.StatusRequestedRangeNotSatisfiable,
		},
		{
			desc:   "whole resource",
			resp:   &Response{Status: http.StatusOK, Body: fixture.All()},
			err:    ErrBootstrapFailed,
			status: http.StatusOK,
		},
		{
			desc: "short body",
			resp: &Response{Status: http.StatusPartialContent, Body: fixture.Blocks[0][:511]},
			err:  ErrBootstrapFailed,
		},
		{
			desc: "foreign first block",
			resp: &Response{Status: http.StatusPartialContent, Body: other.Blocks[0]},
			err:  chainstore.ErrIntegrity,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tr := NewMocktransport(ctrl)
			store := newTestStore(t)
			client := newTestClient(t, store, tr)

			tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), "bytes=0-511").Return(tc.resp, nil)
			_, err := client.Bootstrap(context.Background(), fixture.ID, 1)
			require.ErrorIs(t, err, tc.err)
			if tc.status != 0 {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				require.Equal(t, tc.status, statusErr.Status)
			}
			exists, err := store.Exists(fixture.ID)
			require.NoError(t, err)
			require.False(t, exists)
		})
	}
}

func TestBootstrapZeroSeed(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := newTestClient(t, newTestStore(t), NewMocktransport(ctrl))
	_, err := client.Bootstrap(context.Background(), chaintest.Generate(t, "zero", 1).ID, 0)
	require.ErrorIs(t, err, byterange.ErrZeroCount)
}

func TestBootstrapSeedOutOfRange(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := newTestClient(t, newTestStore(t), NewMocktransport(ctrl))
	_, err := client.Bootstrap(context.Background(), chaintest.Generate(t, "huge", 1).ID, 1<<55)
	require.ErrorIs(t, err, byterange.ErrOutOfRange)
}

func TestBootstrapAppendFailureClosesChain(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMocktransport(ctrl)
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "bootstrap-append", 3)
	client := newTestClient(t, store, tr)

	resp := partial(fixture, 0, 3*types.BlockSize)
	resp.Body = bytes.Clone(resp.Body)
	resp.Body[2*types.BlockSize+100] ^= 1
	tr.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(resp, nil)

	_, err := client.Bootstrap(context.Background(), fixture.ID, 3)
	require.ErrorIs(t, err, chainstore.ErrIntegrity)

	// the valid prefix was kept and can be resumed
	chain, err := store.OpenChain(fixture.ID)
	require.NoError(t, err)
	t.Cleanup(func() { chain.Close() })
	require.EqualValues(t, 2, chain.Count())
}

func TestVerify(t *testing.T) {
	store := newTestStore(t)
	fixture := chaintest.Generate(t, "verify", 4)
	chain := fixture.Seed(t, store, 4)

	require.NoError(t, Verify(chain, 4, fixture.TailHash))
	require.ErrorIs(t, Verify(chain, 5, fixture.TailHash), ErrCountMismatch)
	require.ErrorIs(t, Verify(chain, 4, fixture.ID.Hash32()), ErrTailMismatch)
}
